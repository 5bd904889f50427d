package exec

import (
	"bytes"
	"context"
	"fmt"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"sandboxd/internal/sandbox"
	"sandboxd/internal/sandbox/wrapper"
	"sandboxd/internal/sandboxlog"
)

// pythonInterpreters are tried in order; most Linux distributions only
// ship "python3", a few still alias "python" to it.
var pythonInterpreters = []string{"python3", "python"}

// Fallback runs the wrapped program as a plain host subprocess when the
// Primary Executor is unavailable. Isolation is best-effort: the wrapped
// program itself installs the import denylist and (on Unix) the
// resource.setrlimit calls — the Go host cannot portably cap a child's
// memory before exec without CGo, matching the original's own
// "best-effort... where the host permits" behavior.
type Fallback struct {
	fs afero.Fs
}

// NewFallback constructs a Fallback executor. A nil fs defaults to the
// real OS filesystem; tests pass an afero.NewMemMapFs() instead.
func NewFallback(fs afero.Fs) *Fallback {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Fallback{fs: fs}
}

// Execute renders the fallback wrapper, materializes the workspace on
// disk, and runs it as a subprocess under Config.Timeout+2s.
func (f *Fallback) Execute(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	cfg := req.Config.WithDefaults()

	program := wrapper.GenerateFallback(req.Code, cfg)
	files, err := sandbox.BuildFiles(req, cfg, program)
	if err != nil {
		return nil, err
	}

	workDir, err := afero.TempDir(f.fs, "", "sandboxd-fallback-")
	if err != nil {
		return nil, fmt.Errorf("fallback executor: workspace: %w", err)
	}
	defer func() {
		if err := f.fs.RemoveAll(workDir); err != nil {
			sandboxlog.Debug("fallback.workspace_cleanup_failed", sandboxlog.Fields{"dir": workDir, "error": err.Error()})
		}
	}()

	for name, content := range files {
		path := filepath.Join(workDir, name)
		if dir := filepath.Dir(path); dir != workDir {
			if err := f.fs.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("fallback executor: mkdir %s: %w", dir, err)
			}
		}
		if err := afero.WriteFile(f.fs, path, content, 0644); err != nil {
			return nil, fmt.Errorf("fallback executor: write %s: %w", name, err)
		}
	}

	interpreter, err := resolveInterpreter()
	if err != nil {
		return nil, fmt.Errorf("fallback executor: %w", err)
	}

	deadline := wrapper.Deadline(wrapper.FallbackPrefix, cfg.Timeout)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := osexec.CommandContext(runCtx, interpreter, "-u", "main.py")
	cmd.Dir = workDir
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		sandboxlog.Warn("fallback.subprocess_timeout")
		return &sandbox.Result{
			Success:       false,
			Error:         fmt.Sprintf("execution timed out after %s", cfg.Timeout),
			ExecutionTime: cfg.Timeout,
			Backend:       "fallback",
			TimedOut:      true,
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*osexec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("fallback executor: run: %w", runErr)
		}
	}

	logs := stdout.String() + stderr.String()
	result := wrapper.Parse(wrapper.FallbackPrefix, logs, exitCode, cfg)
	result.Backend = "fallback"
	if result.ExecutionTime == 0 {
		result.ExecutionTime = elapsed
	}

	result.FilesCreated = f.listCreatedFiles(workDir, files)

	sandboxlog.Warn("fallback.used", sandboxlog.Fields{"reason": "primary executor unavailable or image not ready"})

	return &result, nil
}

func (f *Fallback) listCreatedFiles(workDir string, staged map[string][]byte) []string {
	entries, err := afero.ReadDir(f.fs, workDir)
	if err != nil {
		return nil
	}

	var created []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if sandbox.IsReservedOutputName(name) {
			continue
		}
		if _, wasStaged := staged[name]; wasStaged {
			continue
		}
		created = append(created, name)
	}
	return created
}

func resolveInterpreter() (string, error) {
	for _, candidate := range pythonInterpreters {
		if path, err := osexec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no python interpreter found on PATH (tried %s)", strings.Join(pythonInterpreters, ", "))
}
