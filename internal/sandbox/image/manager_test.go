package image

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"

	"sandboxd/internal/sandbox"
)

type fakeDocker struct {
	mu         sync.Mutex
	buildCalls int
	buildDelay time.Duration
	buildErr   error
	pingErr    error
	images     []image.Summary
	removed    []string
}

func (f *fakeDocker) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, f.pingErr
}

func (f *fakeDocker) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.mu.Lock()
	f.buildCalls++
	f.mu.Unlock()

	if f.buildDelay > 0 {
		time.Sleep(f.buildDelay)
	}
	if f.buildErr != nil {
		return types.ImageBuildResponse{}, f.buildErr
	}
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

func (f *fakeDocker) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return f.images, nil
}

func (f *fakeDocker) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.mu.Lock()
	f.removed = append(f.removed, imageID)
	f.mu.Unlock()
	return nil, nil
}

func TestGetImage_BuildsOnFirstRequest(t *testing.T) {
	fake := &fakeDocker{}
	m := NewManager(fake)

	tag, err := m.GetImage(context.Background(), Basic)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if tag == "" {
		t.Fatal("expected non-empty tag")
	}
	if fake.buildCalls != 1 {
		t.Fatalf("build calls = %d, want 1", fake.buildCalls)
	}

	tag2, err := m.GetImage(context.Background(), Basic)
	if err != nil {
		t.Fatalf("GetImage (cached): %v", err)
	}
	if tag2 != tag {
		t.Fatalf("cached tag = %q, want %q", tag2, tag)
	}
	if fake.buildCalls != 1 {
		t.Fatalf("build calls after cache hit = %d, want 1", fake.buildCalls)
	}
}

func TestGetImage_UnknownProfileFallsBackToBasic(t *testing.T) {
	fake := &fakeDocker{}
	m := NewManager(fake)

	tag, err := m.GetImage(context.Background(), "some-made-up-profile")
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if !strings.Contains(tag, Basic) {
		t.Fatalf("tag = %q, want it to reference %q", tag, Basic)
	}
}

func TestGetImage_ConcurrentCallersShareOneBuild(t *testing.T) {
	fake := &fakeDocker{buildDelay: 50 * time.Millisecond}
	m := NewManager(fake)

	var wg sync.WaitGroup
	tags := make([]string, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tags[i], errs[i] = m.GetImage(context.Background(), Enhanced)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	for i, tag := range tags {
		if tag != tags[0] {
			t.Fatalf("caller %d tag = %q, want %q", i, tag, tags[0])
		}
	}
	if fake.buildCalls != 1 {
		t.Fatalf("build calls = %d, want exactly 1 for concurrent callers", fake.buildCalls)
	}
}

func TestGetImage_NoDockerClientReturnsRuntimeUnavailable(t *testing.T) {
	m := NewManager(nil)

	_, err := m.GetImage(context.Background(), Basic)
	if !errors.Is(err, sandbox.ErrRuntimeUnavailable) {
		t.Fatalf("err = %v, want wrapping sandbox.ErrRuntimeUnavailable", err)
	}
}

func TestInitialize_DockerUnreachableReturnsNilNotError(t *testing.T) {
	fake := &fakeDocker{pingErr: errors.New("connection refused")}
	m := NewManager(fake)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize should degrade gracefully, got error: %v", err)
	}
}

func TestCleanup_RemovesImagesNotCurrentlyBuilt(t *testing.T) {
	fake := &fakeDocker{
		images: []image.Summary{
			{ID: "stale1", RepoTags: []string{"sandboxd-basic:old"}},
		},
	}
	m := NewManager(fake)

	if _, err := m.GetImage(context.Background(), Basic); err != nil {
		t.Fatalf("GetImage: %v", err)
	}

	if err := m.Cleanup(context.Background(), true); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(fake.removed) != 1 || fake.removed[0] != "stale1" {
		t.Fatalf("removed = %v, want [stale1]", fake.removed)
	}
}

func TestCleanup_SkipsWhenNotForcedAndWithinInterval(t *testing.T) {
	fake := &fakeDocker{
		images: []image.Summary{
			{ID: "stale1", RepoTags: []string{"sandboxd-basic:old"}},
		},
	}
	m := NewManager(fake)
	m.lastCleanup = time.Now()

	if err := m.Cleanup(context.Background(), false); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(fake.removed) != 0 {
		t.Fatalf("removed = %v, want nothing removed within the interval", fake.removed)
	}
}
