package exec

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"sandboxd/internal/sandbox"
	"sandboxd/internal/sandbox/image"
)

// newStdoutFrameReader wraps payload in a single Docker multiplexed-stream
// frame (8-byte header: stream type + big-endian length) so
// stdcopy.StdCopy demultiplexes it the way it would a real container log
// stream.
func newStdoutFrameReader(payload string) io.Reader {
	header := make([]byte, 8)
	header[0] = 1 // stdout
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return bytes.NewReader(append(header, []byte(payload)...))
}

type fakeContainerClient struct {
	createErr  error
	startErr   error
	exitStatus int64
	logs       string
	removed    []string

	// hostWorkDir and stagedOnDisk are captured from the bind mount
	// ContainerCreate receives, read back while the directory still
	// exists (Execute's own defer removes it after the call returns).
	hostWorkDir  string
	stagedOnDisk map[string][]byte
}

func (f *fakeContainerClient) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	if len(hostCfg.Mounts) == 1 && hostCfg.Mounts[0].Type == mount.TypeBind {
		f.hostWorkDir = hostCfg.Mounts[0].Source
		f.stagedOnDisk = map[string][]byte{}
		entries, _ := os.ReadDir(f.hostWorkDir)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			data, _ := os.ReadFile(filepath.Join(f.hostWorkDir, entry.Name()))
			f.stagedOnDisk[entry.Name()] = data
		}
	}
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeContainerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	// Simulate the container's program writing an output file into the
	// bind-mounted workspace, exactly as a real container would.
	if f.hostWorkDir != "" {
		_ = os.WriteFile(filepath.Join(f.hostWorkDir, "result.txt"), []byte("hello"), 0644)
	}
	return nil
}

func (f *fakeContainerClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	statusCh <- container.WaitResponse{StatusCode: f.exitStatus}
	return statusCh, errCh
}

func (f *fakeContainerClient) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(newStdoutFrameReader(f.logs)), nil
}

func (f *fakeContainerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.removed = append(f.removed, containerID)
	return nil
}

func newFakeImages(t *testing.T) *image.Manager {
	t.Helper()
	return image.NewManager(nil)
}

func TestPrimaryExecute_NoDockerClient(t *testing.T) {
	p := NewPrimary(nil, nil)
	if p.Available() {
		t.Fatal("expected Available() == false for nil client")
	}
	_, err := p.Execute(context.Background(), sandbox.Request{Code: "print(1)"})
	if err != sandbox.ErrRuntimeUnavailable {
		t.Fatalf("err = %v, want ErrRuntimeUnavailable", err)
	}
}

// TestPrimaryExecute_Success drives the whole container path against the
// fake client: stage files into the host workspace, create (capturing the
// bind-mounted host workspace and the files staged there), start
// (simulating the container writing an output file into
// that same host directory), wait, read logs, parse the sentinel
// protocol, enumerate files back on the host, remove. image.Manager
// never touches a real daemon — SetImageForTesting seeds the "basic"
// profile directly — so this exercises Primary.Execute end to end
// without Docker.
func TestPrimaryExecute_Success(t *testing.T) {
	images := newFakeImages(t)
	images.SetImageForTesting(image.Basic, "sandboxd-basic:latest")

	fc := &fakeContainerClient{
		exitStatus: 0,
		logs:       "__SANDBOX_STDOUT__\nhello\n__SANDBOX_TIME__0.01\n__SANDBOX_SUCCESS__\n",
	}
	p := NewPrimary(fc, images)
	if !p.Available() {
		t.Fatal("expected Available() == true for a non-nil client")
	}

	result, err := p.Execute(context.Background(), sandbox.Request{Code: "print('hello')"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Success {
		t.Errorf("result.Success = false, want true; error=%q", result.Error)
	}
	if result.Backend != "primary" {
		t.Errorf("Backend = %q, want primary", result.Backend)
	}
	if len(fc.removed) != 1 {
		t.Errorf("expected exactly one container removal, got %v", fc.removed)
	}
	if _, ok := fc.stagedOnDisk["main.py"]; !ok {
		t.Error("expected main.py to have been staged into the bind-mounted host directory")
	}
	found := false
	for _, name := range result.FilesCreated {
		if name == "result.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected result.txt among FilesCreated, got %v", result.FilesCreated)
	}
}

func TestPrimaryExecute_CreateContainerError(t *testing.T) {
	images := newFakeImages(t)
	images.SetImageForTesting(image.Basic, "sandboxd-basic:latest")

	fc := &fakeContainerClient{createErr: context.DeadlineExceeded}
	p := NewPrimary(fc, images)

	_, err := p.Execute(context.Background(), sandbox.Request{Code: "print(1)"})
	if err == nil {
		t.Fatal("expected an error when ContainerCreate fails")
	}
}
