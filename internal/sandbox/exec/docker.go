// Package exec holds the two executors the Dispatcher chooses between:
// Primary (Docker container) and Fallback (host subprocess). Both render
// their wrapper from the same template (the Fallback variant adds
// in-process resource limits and uses its own sentinel prefix),
// materialize the same file set, and parse the same sentinel protocol.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"sandboxd/internal/sandbox"
	"sandboxd/internal/sandbox/image"
	"sandboxd/internal/sandbox/wrapper"
	"sandboxd/internal/sandboxlog"
)

// dockerAPI is the slice of the Docker SDK the Primary Executor calls.
// Narrowed to a local interface, as image.dockerAPI is, so tests can
// supply a fake client.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Primary runs one short-lived container per execution. Unlike the
// teacher's long-lived per-session container (kept alive across many
// execs via `tail -f /dev/null`), each call here gets its own container
// that runs the wrapped program directly as its command and is removed
// once the result has been read — spec.md's Workspace is single-use, not
// session-scoped.
type Primary struct {
	client  dockerAPI
	images  *image.Manager
	runtime string // "docker", informational
}

// NewPrimary constructs a Primary executor around a Docker client and
// the shared Image Manager.
func NewPrimary(cli dockerAPI, images *image.Manager) *Primary {
	return &Primary{client: cli, images: images, runtime: "docker"}
}

// Available reports whether the Primary Executor can currently serve a
// request (a Docker client is configured). The answer is fixed when the
// Primary is constructed; the Dispatcher reads it on every Execute.
func (p *Primary) Available() bool {
	return p.client != nil
}

// Execute runs req through a fresh container and returns the result.
// Steps follow spec.md §4.3 literally: render wrapper, stage the
// workspace on the host, pick a profile, resolve its image, create an
// isolated container with that host directory bind-mounted read-write at
// /app, run it under a composite timeout, parse the sentinel protocol
// from its combined output, enumerate files the code produced back on
// the host, and remove the container.
//
// The workspace is bind-mounted rather than staged with `docker cp`:
// copying into a container's writable layer only works if nothing else
// claims that path afterwards, and nothing here needs a second,
// Docker-API-only path to get files in and back out when a host
// directory the daemon can already see does both. It also means step 7's
// enumeration can run after the container, and its filesystem, are gone.
func (p *Primary) Execute(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	if p.client == nil {
		return nil, sandbox.ErrRuntimeUnavailable
	}

	cfg := req.Config.WithDefaults()

	program := wrapper.Generate(req.Code, cfg)
	files, err := sandbox.BuildFiles(req, cfg, program)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "sandboxd-primary-")
	if err != nil {
		return nil, fmt.Errorf("primary executor: workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			sandboxlog.Debug("primary.workspace_cleanup_failed", sandboxlog.Fields{"dir": workDir, "error": err.Error()})
		}
	}()

	for name, content := range files {
		path := filepath.Join(workDir, name)
		if dir := filepath.Dir(path); dir != workDir {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("primary executor: mkdir %s: %w", dir, err)
			}
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			return nil, fmt.Errorf("primary executor: stage %s: %w", name, err)
		}
	}

	profile := image.SelectProfile(req.ProfileHint, req.Code)
	tag, err := p.images.GetImage(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", sandbox.ErrImageUnavailable, err)
	}

	memBytes, err := units.RAMInBytes(cfg.MemoryLimit)
	if err != nil || memBytes <= 0 {
		memBytes, _ = units.RAMInBytes(sandbox.DefaultConfig().MemoryLimit)
	}

	containerCfg := &container.Config{
		Image:      tag,
		Cmd:        []string{"python3", "-u", "main.py"},
		WorkingDir: "/app",
		User:       "sandbox",
		Labels:     map[string]string{"sandboxd.exec": "true"},
	}

	// Docker has no bind-mount equivalent of tmpfs's noexec option (that
	// flag only applies to tmpfs mounts); ReadonlyRootfs plus the
	// unprivileged "sandbox" user and running main.py through the
	// python3 interpreter (which reads the file rather than exec'ing it)
	// are what keep /app from being a privilege-escalation path here.
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: workDir,
				Target: "/app",
			},
		},
		Resources: container.Resources{
			Memory:   memBytes,
			NanoCPUs: int64(cfg.CPULimit * 1e9),
		},
	}

	resp, err := p.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("primary executor: create container: %w", err)
	}
	containerID := resp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			sandboxlog.Debug("primary.container_remove_failed", sandboxlog.Fields{"container": containerID, "error": err.Error()})
		}
	}()

	if err := p.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("primary executor: start container: %w", err)
	}

	deadline := wrapper.Deadline(wrapper.PrimaryPrefix, cfg.Timeout)
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	statusCh, errCh := p.client.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case err := <-errCh:
		if err != nil && waitCtx.Err() != nil {
			sandboxlog.Warn("primary.container_wait_timeout", sandboxlog.Fields{"container": containerID})
			return &sandbox.Result{
				Success:       false,
				Error:         fmt.Sprintf("container execution timed out (startup/shutdown took too long). Code timeout limit: %s", cfg.Timeout),
				ExecutionTime: cfg.Timeout,
				Backend:       "primary",
				TimedOut:      true,
			}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("primary executor: wait: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-waitCtx.Done():
		sandboxlog.Warn("primary.container_wait_timeout", sandboxlog.Fields{"container": containerID})
		return &sandbox.Result{
			Success:       false,
			Error:         fmt.Sprintf("container execution timed out (startup/shutdown took too long). Code timeout limit: %s", cfg.Timeout),
			ExecutionTime: cfg.Timeout,
			Backend:       "primary",
			TimedOut:      true,
		}, nil
	}

	logs, err := p.readLogs(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("primary executor: read logs: %w", err)
	}

	result := wrapper.Parse(wrapper.PrimaryPrefix, logs, exitCode, cfg)
	result.Backend = "primary"
	result.MemoryUsed = cfg.MemoryLimit
	result.FilesCreated = listCreatedFiles(workDir, files)

	return &result, nil
}

func (p *Primary) readLogs(ctx context.Context, containerID string) (string, error) {
	reader, err := p.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil && err != io.EOF {
		return "", err
	}
	return stdout.String() + stderr.String(), nil
}

// listCreatedFiles reads the host workspace directory after the
// container has exited and reports every regular file that isn't a
// reserved protocol file or one the caller staged — i.e. whatever the
// user's code itself wrote into the bind-mounted /app during execution.
// Kept separate from Fallback's equivalent in subprocess.go because
// Primary stages directly on the real host filesystem while Fallback
// goes through an afero.Fs seam for testability.
func listCreatedFiles(workDir string, staged map[string][]byte) []string {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		sandboxlog.Debug("primary.list_files_failed", sandboxlog.Fields{"dir": workDir, "error": err.Error()})
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
