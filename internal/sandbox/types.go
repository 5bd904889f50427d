// Package sandbox implements the secure multi-tenant code execution
// service: a security wrapper generator, an image manager, a
// container-backed primary executor, a subprocess-backed fallback
// executor, and a dispatcher that picks between them.
package sandbox

import (
	"fmt"
	"time"
)

// Config holds the per-execution sandbox policy.
type Config struct {
	Timeout         time.Duration // wall-clock budget for user code
	MemoryLimit     string        // Docker memory limit, e.g. "128m"
	CPULimit        float64       // fraction of one CPU
	MaxOutputSize   int           // max captured stdout characters
	MaxFileSize     int64         // max bytes per supplied file; produced files are not size-checked
	AllowedPackages []string      // informational allowlist
	BlockedModules  []string      // denylisted module/builtin names
}

// DefaultConfig returns the defaults mandated by spec.md §6.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		MemoryLimit:   "128m",
		CPULimit:      0.5,
		MaxOutputSize: 8192,
		MaxFileSize:   1024 * 1024,
		AllowedPackages: []string{
			"math", "random", "itertools", "collections", "functools",
			"operator", "string", "re", "datetime", "json", "base64",
			"hashlib", "urllib", "statistics", "decimal", "fractions",
		},
		BlockedModules: []string{
			"os", "sys", "subprocess", "socket", "urllib.request",
			"urllib.parse", "urllib.error", "http", "ftplib", "smtplib",
			"imaplib", "poplib", "telnetlib", "socketserver", "threading",
			"multiprocessing", "concurrent", "asyncio", "importlib",
			"__import__", "eval", "exec", "compile", "open", "file",
			"input", "raw_input",
		},
	}
}

// WithDefaults fills zero-valued fields of c from DefaultConfig, leaving
// any field the caller explicitly set untouched. Executors call this
// once at the start of Execute so a Request with a partially-populated
// Config still gets sane limits.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MemoryLimit == "" {
		c.MemoryLimit = d.MemoryLimit
	}
	if c.CPULimit <= 0 {
		c.CPULimit = d.CPULimit
	}
	if c.MaxOutputSize <= 0 {
		c.MaxOutputSize = d.MaxOutputSize
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.AllowedPackages == nil {
		c.AllowedPackages = d.AllowedPackages
	}
	if c.BlockedModules == nil {
		c.BlockedModules = d.BlockedModules
	}
	return c
}

// Request is a single execution request: source text, optional
// auxiliary files, optional stdin, and the policy to enforce.
type Request struct {
	Code        string
	Files       map[string][]byte
	Stdin       string
	ProfileHint string
	Config      Config
}

// Result is the structured outcome of one execution, produced by the
// Primary or Fallback executor (or by the Dispatcher itself when the
// last executor it tried returned an error) and returned
// unconditionally by the Dispatcher.
type Result struct {
	Success       bool
	Output        string
	Error         string
	ExecutionTime time.Duration
	MemoryUsed    string
	ExitCode      int
	FilesCreated  []string
	Backend       string // "primary" or "fallback"
	TimedOut      bool
}

// Sentinel errors surfaced by executors and the image manager.
var (
	ErrUnsafeFilename  = fmt.Errorf("unsafe filename")
	ErrFileTooLarge    = fmt.Errorf("file exceeds max_file_size")
	ErrImageUnavailable = fmt.Errorf("no sandbox image available")
	ErrRuntimeUnavailable = fmt.Errorf("container runtime unavailable")
)
