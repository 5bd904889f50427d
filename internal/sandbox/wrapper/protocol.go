package wrapper

import (
	"strconv"
	"strings"
	"time"

	"sandboxd/internal/sandbox"
)

// Parse decodes the sentinel-delimited report a wrapped program printed
// to its combined stdout/stderr stream into a Result. Grounded line for
// line on original_source/utils/sandboxing.py::_parse_container_output
// and fallback_sandbox.py's equivalent, generalized over the prefix so
// one parser serves both PX and FX.
func Parse(prefix SentinelPrefix, logs string, exitCode int, cfg sandbox.Config) sandbox.Result {
	p := string(prefix)
	stdoutMarker := p + "STDOUT__"
	stderrMarker := p + "STDERR__"
	timeMarker := p + "TIME__"
	successMarker := p + "SUCCESS__"
	errorMarker := p + "ERROR__"
	timeoutMarker := p + "TIMEOUT__"

	var stdout, stderr strings.Builder
	var execTimeSeconds float64
	success := false
	isTimeout := false
	sawSentinel := false
	section := ""

	for _, line := range strings.Split(logs, "\n") {
		switch {
		case line == stdoutMarker:
			section = "stdout"
			sawSentinel = true
		case line == stderrMarker:
			section = "stderr"
			sawSentinel = true
		case strings.HasPrefix(line, timeMarker):
			execTimeSeconds, _ = strconv.ParseFloat(strings.TrimPrefix(line, timeMarker), 64)
			sawSentinel = true
		case line == successMarker:
			success = true
			sawSentinel = true
		case line == errorMarker:
			success = false
			sawSentinel = true
		case line == timeoutMarker:
			isTimeout = true
			success = false
			sawSentinel = true
		case section == "stdout":
			stdout.WriteString(line)
			stdout.WriteByte('\n')
		case section == "stderr":
			stderr.WriteString(line)
			stderr.WriteByte('\n')
		}
	}

	execTime := time.Duration(execTimeSeconds * float64(time.Second))

	if !sawSentinel {
		raw := logs
		if r := []rune(raw); len(r) > 1000 {
			raw = string(r[:1000])
		}
		return sandbox.Result{
			Success:  false,
			Output:   raw,
			Error:    "execution produced no parseable sentinel output; the process likely crashed before the wrapper could report a result",
			ExitCode: exitCode,
		}
	}

	if isTimeout {
		return sandbox.Result{
			Success:       false,
			Output:        strings.TrimRight(stdout.String(), "\n"),
			Error:         "code execution timed out after " + cfg.Timeout.String(),
			ExecutionTime: cfg.Timeout,
			ExitCode:      exitCode,
			TimedOut:      true,
		}
	}

	errMsg := ""
	if s := strings.TrimRight(stderr.String(), "\n"); s != "" {
		errMsg = s
	}

	return sandbox.Result{
		Success:       success && exitCode == 0,
		Output:        strings.TrimRight(stdout.String(), "\n"),
		Error:         errMsg,
		ExecutionTime: execTime,
		ExitCode:      exitCode,
	}
}
