package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
)

// doctorCmd mirrors the teacher's own diagnostic-command shape: probe
// the runtime dependencies this service needs and report which backend
// a request would actually use.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check whether the Primary Executor's Docker runtime is reachable",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dockerCli, _ := newDockerClient(ctx)
	if dockerCli != nil {
		fmt.Println("docker:     reachable (Primary Executor available)")
		defer dockerCli.Close()
	} else {
		fmt.Println("docker:     unreachable (requests will use the Fallback Executor)")
	}

	if path, err := exec.LookPath("python3"); err == nil {
		fmt.Printf("python3:    %s (Fallback Executor available)\n", path)
	} else {
		fmt.Println("python3:    not found on PATH (Fallback Executor unavailable)")
	}

	return nil
}
