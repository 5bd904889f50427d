package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sandboxd/internal/sandbox/image"
)

var imagesClean bool

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Build or clean the sandbox's Docker images",
	RunE:  runImages,
}

func init() {
	imagesCmd.Flags().BoolVar(&imagesClean, "clean", false, "remove every sandboxd-built image (this command registers no current builds, so none is kept)")
}

func runImages(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dockerCli, _ := newDockerClient(ctx)
	if dockerCli == nil {
		return fmt.Errorf("docker is not reachable; configure SANDBOX_DOCKER_HOST or DOCKER_HOST")
	}

	manager := image.NewManager(dockerCli)
	defer manager.Close()

	if imagesClean {
		if err := manager.Cleanup(ctx, true); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		fmt.Println("cleanup complete")
		return nil
	}

	for _, profile := range []string{image.Basic, image.Enhanced} {
		tag, err := manager.GetImage(ctx, profile)
		if err != nil {
			return fmt.Errorf("build %s: %w", profile, err)
		}
		fmt.Printf("%s -> %s\n", profile, tag)
	}
	return nil
}
