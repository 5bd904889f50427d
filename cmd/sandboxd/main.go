// Command sandboxd exposes the sandbox Dispatcher as a small CLI: run a
// single execution request, manage the Image Manager's built images, or
// check whether the Primary Executor's Docker runtime is reachable. It
// is invoked as a subprocess by a chat front-end, not run as a network
// service — see SPEC_FULL.md's "CLI / entrypoint" section.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/docker/client"
	"github.com/spf13/cobra"

	"sandboxd/internal/sandboxconfig"
	"sandboxd/internal/sandboxlog"
)

var (
	settings *sandboxconfig.Settings
	rootCmd  = &cobra.Command{
		Use:   "sandboxd",
		Short: "Secure multi-tenant code execution sandbox",
	}
)

func init() {
	cobra.OnInitialize(initSettings)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(imagesCmd)
	rootCmd.AddCommand(doctorCmd)
}

func initSettings() {
	s, err := sandboxconfig.Load()
	if err != nil {
		sandboxlog.Initialize(false)
		sandboxlog.Error("sandboxd.config_load_failed", sandboxlog.Fields{"error": err.Error()})
		return
	}
	settings = s
	sandboxlog.Initialize(s.Debug)
}

// newDockerClient builds a Docker client from settings.DockerHost, or
// from the DOCKER_* environment and the SDK's default host when none is
// configured, returning (nil, nil) rather than an error when the client
// can't be built or the daemon doesn't answer a ping — the caller treats a nil client as
// "route to the Fallback Executor", not a fatal condition, matching
// image.Manager.Initialize's own degraded-mode handling.
func newDockerClient(ctx context.Context) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if settings != nil && settings.DockerHost != "" {
		opts = append(opts, client.WithHost(settings.DockerHost))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, nil
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, nil
	}
	return cli, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
