package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sandboxd/internal/sandbox"
	"sandboxd/internal/sandbox/exec"
	"sandboxd/internal/sandbox/image"
)

// runRequest is the JSON shape `sandboxd run` reads from a file or
// stdin: the fields of sandbox.Request, minus Config (taken from
// sandboxconfig.Settings.Defaults, since policy is operator-configured,
// not caller-supplied, per spec.md §6).
type runRequest struct {
	Code        string            `json:"code"`
	Files       map[string]string `json:"files,omitempty"`
	Stdin       string            `json:"stdin,omitempty"`
	ProfileHint string            `json:"profile_hint,omitempty"`
}

var runFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one code snippet and print the result as JSON",
	RunE:  runExecute,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "JSON request file (default: read from stdin)")
}

func runExecute(cmd *cobra.Command, args []string) error {
	raw, err := readRunInput()
	if err != nil {
		return err
	}

	var req runRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	files := make(map[string][]byte, len(req.Files))
	for name, content := range req.Files {
		files[name] = []byte(content)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dockerCli, _ := newDockerClient(ctx)

	// dockerCli is passed only when non-nil: a typed-nil *client.Client
	// wrapped in an interface is never == nil, so image.Manager and
	// exec.Primary would wrongly think Docker is available.
	var images *image.Manager
	var primary *exec.Primary
	if dockerCli != nil {
		images = image.NewManager(dockerCli)
		primary = exec.NewPrimary(dockerCli, images)
	} else {
		images = image.NewManager(nil)
		primary = exec.NewPrimary(nil, images)
	}
	_ = images.Initialize(ctx)
	defer images.Close()

	fallback := exec.NewFallback(nil)

	sb := sandbox.NewSandbox(primary, fallback, images)

	defaults := sandbox.DefaultConfig()
	if settings != nil {
		defaults = settings.Defaults
	}

	result := sb.Execute(ctx, sandbox.Request{
		Code:        req.Code,
		Files:       files,
		Stdin:       req.Stdin,
		ProfileHint: req.ProfileHint,
		Config:      defaults,
	})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(out))
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func readRunInput() ([]byte, error) {
	if runFile != "" {
		return os.ReadFile(runFile)
	}
	return io.ReadAll(os.Stdin)
}
