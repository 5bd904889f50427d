// Package image implements the sandbox Image Manager: it keeps one
// Docker image per runtime profile built and ready, builds on demand the
// first time a profile is requested, and reaps stale images on a
// schedule.
//
// Grounded on original_source/utils/image_manager.py (the absent →
// building → built state machine, the two Dockerfile recipes, the
// wait-for-build loop) and on sandbox_session_manager.go's concurrency
// shape: a sync.Map for the hot read path, a mutex held only around the
// create-or-wait critical section.
package image

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"sandboxd/internal/sandbox"
	"sandboxd/internal/sandboxlog"
)

// Profile names accepted by GetImage. Anything else falls back to Basic.
const (
	Basic    = "basic"
	Enhanced = "enhanced"
)

// dockerAPI is the slice of the Docker SDK's client.APIClient the Image
// Manager actually calls, narrowed so tests can supply a hand-rolled
// fake instead of standing up a real daemon.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
}

// ImageEntry is the Image Manager's internal record of one profile's
// built image.
type ImageEntry struct {
	Profile  string
	Tag      string
	Building bool
	LastUsed time.Time
	Gen      string // ulid build generation; Cleanup does not read it
}

// buildWait is the bounded wait-for-in-flight-build budget, mirroring
// image_manager.py's 30x1s poll loop.
const buildWait = 30 * time.Second

// Manager owns the profile -> built image mapping and the single Docker
// client used to build, list and remove images.
type Manager struct {
	client dockerAPI

	mu       sync.Mutex // guards building + the per-profile wait conditions
	building map[string]bool
	waiters  map[string][]chan struct{}

	images sync.Map // profile (string) -> *ImageEntry

	reaper      *cron.Cron
	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

// cleanupInterval mirrors image_manager.py's self.cleanup_interval.
const cleanupInterval = time.Hour

// NewManager constructs a Manager around an already-configured Docker
// client. Passing a nil client is valid: Initialize will then report
// Docker as unavailable and GetImage returns
// sandbox.ErrRuntimeUnavailable for every profile that has no image
// registered (SetImageForTesting is the only way to register one).
func NewManager(cli dockerAPI) *Manager {
	return &Manager{
		client:   cli,
		building: make(map[string]bool),
		waiters:  make(map[string][]chan struct{}),
	}
}

// Initialize pings Docker, kicks off background builds of both profiles,
// and starts the periodic reaper. It returns nil even when Docker is
// unreachable: image management being disabled is a degraded mode the
// Dispatcher handles by routing to the Fallback Executor, not a fatal
// startup error.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.client == nil {
		sandboxlog.Warn("image_manager.docker_unavailable")
		return nil
	}

	if _, err := m.client.Ping(ctx); err != nil {
		sandboxlog.Warn("image_manager.docker_ping_failed", sandboxlog.Fields{"error": err.Error()})
		return nil
	}

	sandboxlog.Info("image_manager.initialized")

	go func() {
		for _, profile := range []string{Basic, Enhanced} {
			if _, err := m.build(context.Background(), profile); err != nil {
				sandboxlog.Error("image_manager.build_failed", sandboxlog.Fields{"profile": profile, "error": err.Error()})
			}
		}
	}()

	m.reaper = cron.New()
	if _, err := m.reaper.AddFunc("@hourly", func() {
		if err := m.Cleanup(context.Background(), false); err != nil {
			sandboxlog.Error("image_manager.cleanup_failed", sandboxlog.Fields{"error": err.Error()})
		}
	}); err == nil {
		m.reaper.Start()
	}

	return nil
}

// Close stops the reaper schedule.
func (m *Manager) Close() {
	if m.reaper != nil {
		m.reaper.Stop()
	}
}

// GetImage returns the built image tag for profile, building it if
// necessary, waiting up to buildWait if a build is already in flight.
func (m *Manager) GetImage(ctx context.Context, profile string) (string, error) {
	profile = normalizeProfile(profile)

	if entry := m.lookup(profile); entry != nil && !entry.Building {
		return entry.Tag, nil
	}

	if m.client == nil {
		return "", fmt.Errorf("image %s: %w", profile, sandbox.ErrRuntimeUnavailable)
	}

	m.mu.Lock()
	if m.building[profile] {
		wait := make(chan struct{})
		m.waiters[profile] = append(m.waiters[profile], wait)
		m.mu.Unlock()

		select {
		case <-wait:
			if entry := m.lookup(profile); entry != nil {
				return entry.Tag, nil
			}
			return "", fmt.Errorf("image %s: build did not produce an image", profile)
		case <-time.After(buildWait):
			sandboxlog.Warn("image_manager.build_wait_timeout", sandboxlog.Fields{"profile": profile})
			return "", fmt.Errorf("image %s: %w", profile, sandbox.ErrImageUnavailable)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Unlock()

	return m.build(ctx, profile)
}

// build runs a synchronous image build for profile, marking it as
// in-flight for the duration so concurrent GetImage calls wait instead
// of racing a second build.
func (m *Manager) build(ctx context.Context, profile string) (string, error) {
	profile = normalizeProfile(profile)

	m.mu.Lock()
	if m.building[profile] {
		m.mu.Unlock()
		return m.GetImage(ctx, profile)
	}
	m.building[profile] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.building[profile] = false
		waiters := m.waiters[profile]
		delete(m.waiters, profile)
		m.mu.Unlock()
		for _, w := range waiters {
			close(w)
		}
	}()

	sandboxlog.Info("image_manager.building", sandboxlog.Fields{"profile": profile})

	recipe, err := dockerfileFor(profile)
	if err != nil {
		return "", err
	}

	buildCtx, err := tarBuildContext(recipe)
	if err != nil {
		return "", fmt.Errorf("image %s: build context: %w", profile, err)
	}

	gen := ulid.Make().String()
	tag := fmt.Sprintf("sandboxd-%s:latest", profile)

	resp, err := m.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{"sandboxd.image": "true", "sandboxd.profile": profile},
	})
	if err != nil {
		return "", fmt.Errorf("image %s: build: %w", profile, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	entry := &ImageEntry{Profile: profile, Tag: tag, LastUsed: time.Now(), Gen: gen}
	m.images.Store(profile, entry)

	sandboxlog.Info("image_manager.built", sandboxlog.Fields{"profile": profile, "tag": tag})
	return tag, nil
}

// SetImageForTesting registers a pre-built tag for profile without
// going through Docker at all. Exported so other packages' tests (the
// Primary Executor's, notably) can exercise GetImage's hit path and a
// full container-execution success path without a real daemon.
func (m *Manager) SetImageForTesting(profile, tag string) {
	profile = normalizeProfile(profile)
	m.images.Store(profile, &ImageEntry{Profile: profile, Tag: tag, LastUsed: time.Now()})
}

func (m *Manager) lookup(profile string) *ImageEntry {
	v, ok := m.images.Load(profile)
	if !ok {
		return nil
	}
	entry := v.(*ImageEntry)
	entry.LastUsed = time.Now()
	return entry
}

// Cleanup removes sandboxd-built images that are no longer the current
// tag for their profile. With force=false it is a no-op unless an hour
// has passed since the last sweep was requested by the caller; callers
// that want an unconditional sweep pass force=true (e.g. `sandboxd
// images --clean`).
func (m *Manager) Cleanup(ctx context.Context, force bool) error {
	if m.client == nil {
		return nil
	}

	m.cleanupMu.Lock()
	if !force && time.Since(m.lastCleanup) < cleanupInterval {
		m.cleanupMu.Unlock()
		return nil
	}
	m.lastCleanup = time.Now()
	m.cleanupMu.Unlock()

	current := map[string]bool{}
	m.images.Range(func(_, v any) bool {
		current[v.(*ImageEntry).Tag] = true
		return true
	})

	filterArgs := filters.NewArgs(filters.Arg("label", "sandboxd.image=true"))
	images, err := m.client.ImageList(ctx, image.ListOptions{Filters: filterArgs})
	if err != nil {
		return fmt.Errorf("image_manager cleanup: list: %w", err)
	}

	removed := 0
	for _, img := range images {
		keep := false
		for _, tag := range img.RepoTags {
			if current[tag] {
				keep = true
				break
			}
		}
		if keep {
			continue
		}
		if _, err := m.client.ImageRemove(ctx, img.ID, image.RemoveOptions{Force: true}); err != nil {
			sandboxlog.Debug("image_manager.remove_failed", sandboxlog.Fields{"id": img.ID, "error": err.Error()})
			continue
		}
		removed++
	}

	if removed > 0 {
		sandboxlog.Info("image_manager.cleaned", sandboxlog.Fields{"removed": removed})
	}
	return nil
}

func normalizeProfile(profile string) string {
	switch profile {
	case Enhanced:
		return Enhanced
	default:
		return Basic
	}
}

// tarBuildContext wraps a single Dockerfile in the tar stream the Docker
// build API requires as its build context.
func tarBuildContext(dockerfile []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: "Dockerfile", Mode: 0644, Size: int64(len(dockerfile))}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(dockerfile); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
