// Package wrapper renders the Python security wrapper around user
// code: an import denylist, a wall-clock deadline enforced by the
// wrapped program itself, stdout/stderr capture with truncation, and a
// sentinel-delimited report on the wrapper's own stdout.
//
// Grounded on original_source/utils/sandboxing.py::_wrap_code_with_security
// and fallback_sandbox.py::_wrap_code_for_subprocess — the two templates
// differ only in the resource-limit block and the sentinel prefix, so
// both are rendered from one text/template here.
package wrapper

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"sandboxd/internal/sandbox"
)

// SentinelPrefix identifies which wrapper variant produced a report.
type SentinelPrefix string

const (
	// PrimaryPrefix is used inside the container-backed executor.
	PrimaryPrefix SentinelPrefix = "__SANDBOX_"
	// FallbackPrefix is used inside the subprocess-backed executor.
	FallbackPrefix SentinelPrefix = "__FALLBACK_"
)

type templateData struct {
	Prefix         string
	BlockedModules string
	TimeoutSeconds int
	MaxOutputSize  int
	IndentedCode16 string
	IndentedCode12 string
	ResourceLimits string
}

const programTemplate = `
import sys
import signal
import traceback
import time
import io
from contextlib import redirect_stdout, redirect_stderr

BLOCKED_MODULES = {{.BlockedModules}}

class _ImportBlock:
    def __init__(self, blocked_modules):
        self.blocked_modules = set(blocked_modules)
        self.original_import = __builtins__.__import__

    def __call__(self, name, *args, **kwargs):
        if name in self.blocked_modules:
            raise ImportError(f"Module '{name}' is blocked for security reasons")
        if name.startswith('.'):
            raise ImportError("Relative imports are not allowed")
        return self.original_import(name, *args, **kwargs)

__builtins__.__import__ = _ImportBlock(BLOCKED_MODULES)
{{.ResourceLimits}}
def _timeout_handler(signum, frame):
    raise TimeoutError("Code execution timed out after {{.TimeoutSeconds}} seconds")

try:
    signal.signal(signal.SIGALRM, _timeout_handler)
    signal.alarm({{.TimeoutSeconds}})
except Exception:
    pass  # platforms without SIGALRM

stdout_capture = io.StringIO()
stderr_capture = io.StringIO()

try:
    start_time = time.time()

    try:
        with open('input.txt', 'r') as f:
            sys.stdin = f
            with redirect_stdout(stdout_capture), redirect_stderr(stderr_capture):
{{.IndentedCode16}}
    except FileNotFoundError:
        with redirect_stdout(stdout_capture), redirect_stderr(stderr_capture):
{{.IndentedCode12}}

    execution_time = time.time() - start_time

    stdout_content = stdout_capture.getvalue()
    stderr_content = stderr_capture.getvalue()

    max_size = {{.MaxOutputSize}}
    if len(stdout_content) > max_size:
        stdout_content = stdout_content[:max_size] + "\n... (output truncated)"

    print("{{.Prefix}}STDOUT__")
    print(stdout_content)
    print("{{.Prefix}}STDERR__")
    print(stderr_content)
    print(f"{{.Prefix}}TIME__{execution_time}")
    print("{{.Prefix}}SUCCESS__")

except Exception as e:
    error_msg = traceback.format_exc()
    print("{{.Prefix}}STDOUT__")
    print("")
    print("{{.Prefix}}STDERR__")
    print(error_msg)
    if "timed out" in str(e).lower():
        print("{{.Prefix}}TIMEOUT__")
    print("{{.Prefix}}ERROR__")
finally:
    try:
        signal.alarm(0)
    except Exception:
        pass
`

var programTmpl = template.Must(template.New("sandbox_wrapper").Parse(programTemplate))

const fallbackResourceLimits = `
try:
    import resource
    resource.setrlimit(resource.RLIMIT_AS, ({{.MemoryBytes}}, {{.MemoryBytes}}))
    resource.setrlimit(resource.RLIMIT_CPU, ({{.TimeoutSeconds}}, {{.TimeoutSeconds}}))
except Exception:
    pass  # Windows or other systems without rlimit support
`

// Generate renders the primary (container) wrapper: resource limits are
// enforced entirely by the container runtime, so the wrapped program
// only installs the import hook, deadline, and capture/report protocol.
func Generate(code string, cfg sandbox.Config) string {
	return render(PrimaryPrefix, code, cfg, "")
}

// GenerateFallback renders the subprocess wrapper: it additionally
// attempts to self-limit memory and CPU time via the resource module,
// since there is no container to enforce those limits (spec.md §4.4,
// "best-effort... applied inside the wrapper where the host permits").
func GenerateFallback(code string, cfg sandbox.Config) string {
	memBytes := int64(128 * 1024 * 1024)
	var buf bytes.Buffer
	resTmpl := template.Must(template.New("fallback_limits").Parse(fallbackResourceLimits))
	_ = resTmpl.Execute(&buf, map[string]any{
		"MemoryBytes":    memBytes,
		"TimeoutSeconds": int(cfg.Timeout.Seconds()),
	})
	return render(FallbackPrefix, code, cfg, buf.String())
}

func render(prefix SentinelPrefix, code string, cfg sandbox.Config, resourceLimits string) string {
	timeout := int(cfg.Timeout.Seconds())
	if timeout <= 0 {
		timeout = int(sandbox.DefaultConfig().Timeout.Seconds())
	}
	maxOutput := cfg.MaxOutputSize
	if maxOutput <= 0 {
		maxOutput = sandbox.DefaultConfig().MaxOutputSize
	}

	body := code
	if strings.TrimSpace(body) == "" {
		body = "pass"
	}

	data := templateData{
		Prefix:         string(prefix),
		BlockedModules: pythonStringList(cfg.BlockedModules),
		TimeoutSeconds: timeout,
		MaxOutputSize:  maxOutput,
		IndentedCode16: indent(body, 16),
		IndentedCode12: indent(body, 12),
		ResourceLimits: resourceLimits,
	}

	var buf bytes.Buffer
	if err := programTmpl.Execute(&buf, data); err != nil {
		// template execution over a fixed, validated template never
		// fails at runtime; surface a degenerate but well-formed
		// program rather than panicking out of the sandbox.
		return fmt.Sprintf("print(%q)\n", "internal error: wrapper render failed: "+err.Error())
	}
	return buf.String()
}

// indent prefixes every line of code with spaces so it nests correctly
// inside one of the wrapper's two `with redirect_stdout...` blocks. The
// stdin-redirected branch sits one level deeper (16 spaces) than the
// plain branch (12 spaces), mirroring the original's two near-duplicate
// code blocks.
func indent(code string, spaces int) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		lines[i] = pad + line
	}
	return strings.Join(lines, "\n")
}

// pythonStringList renders a Go string slice as a Python list literal.
func pythonStringList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// Deadline returns the outer watchdog duration for a given executor
// kind, per spec.md §5: PX gets +5s, FX gets +2s over the inner timeout.
func Deadline(prefix SentinelPrefix, timeout time.Duration) time.Duration {
	if prefix == FallbackPrefix {
		return timeout + 2*time.Second
	}
	return timeout + 5*time.Second
}
