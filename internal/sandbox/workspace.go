package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// reservedNames are the filenames the wrapper protocol itself writes;
// these never appear in FilesCreated even when present on disk.
var reservedNames = map[string]bool{
	"main.py":   true,
	"input.txt": true,
}

// dangerousChars mirrors original_source/utils/sandboxing.py::_is_safe_filename.
const dangerousChars = `<>:"|?*`

// ValidateFilename rejects path traversal, absolute paths, and
// characters that are dangerous on common filesystems, matching
// _is_safe_filename exactly.
func ValidateFilename(name string) error {
	normalized := filepath.Clean(name)
	if strings.HasPrefix(normalized, "..") || filepath.IsAbs(normalized) {
		return fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	if strings.ContainsAny(name, dangerousChars) {
		return fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	return nil
}

// ValidateFileSize rejects files over cfg.MaxFileSize.
func ValidateFileSize(name string, size int64, cfg Config) error {
	if size > cfg.MaxFileSize {
		return fmt.Errorf("%w: %q is %d bytes, max is %d", ErrFileTooLarge, name, size, cfg.MaxFileSize)
	}
	return nil
}

// BuildFiles validates req.Files against cfg and returns the full set of
// files an executor must materialize: the wrapped program under
// "main.py", "input.txt" when stdin was supplied, and every user file
// that passed validation. wrappedProgram is the already-rendered Python
// source (primary or fallback variant — the caller picks).
func BuildFiles(req Request, cfg Config, wrappedProgram string) (map[string][]byte, error) {
	files := make(map[string][]byte, len(req.Files)+2)
	files["main.py"] = []byte(wrappedProgram)

	if req.Stdin != "" {
		files["input.txt"] = []byte(req.Stdin)
	}

	for name, content := range req.Files {
		if err := ValidateFilename(name); err != nil {
			return nil, err
		}
		if err := ValidateFileSize(name, int64(len(content)), cfg); err != nil {
			return nil, err
		}
		files[name] = content
	}

	return files, nil
}

// IsReservedOutputName reports whether name is one of the protocol files
// (main.py, input.txt) that must never be reported as a file the user's
// code created.
func IsReservedOutputName(name string) bool {
	return reservedNames[name]
}
