package sandbox

import (
	"context"
	"errors"
	"testing"
)

type fakePrimary struct {
	available bool
	result    *Result
	err       error
}

func (f *fakePrimary) Available() bool { return f.available }
func (f *fakePrimary) Execute(ctx context.Context, req Request) (*Result, error) {
	return f.result, f.err
}

type fakeFallback struct {
	result *Result
	err    error
}

func (f *fakeFallback) Execute(ctx context.Context, req Request) (*Result, error) {
	return f.result, f.err
}

type fakeImages struct {
	err error
}

func (f *fakeImages) GetImage(ctx context.Context, profile string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "sandboxd-" + profile + ":latest", nil
}

func TestSandboxExecute_UsesPrimaryWhenAvailable(t *testing.T) {
	primary := &fakePrimary{available: true, result: &Result{Success: true, Backend: "primary"}}
	fallback := &fakeFallback{result: &Result{Success: true, Backend: "fallback"}}
	s := NewSandbox(primary, fallback, &fakeImages{})

	result := s.Execute(context.Background(), Request{Code: "print(1)"})
	if result.Backend != "primary" {
		t.Fatalf("backend = %q, want primary", result.Backend)
	}
}

func TestSandboxExecute_FallsBackWhenPrimaryUnavailable(t *testing.T) {
	primary := &fakePrimary{available: false}
	fallback := &fakeFallback{result: &Result{Success: true, Backend: "fallback"}}
	s := NewSandbox(primary, fallback, &fakeImages{})

	result := s.Execute(context.Background(), Request{Code: "print(1)"})
	if result.Backend != "fallback" {
		t.Fatalf("backend = %q, want fallback", result.Backend)
	}
}

func TestSandboxExecute_FallsBackWhenNoImageReady(t *testing.T) {
	primary := &fakePrimary{available: true, result: &Result{Success: true, Backend: "primary"}}
	fallback := &fakeFallback{result: &Result{Success: true, Backend: "fallback"}}
	s := NewSandbox(primary, fallback, &fakeImages{err: errors.New("no image")})

	result := s.Execute(context.Background(), Request{Code: "print(1)"})
	if result.Backend != "fallback" {
		t.Fatalf("backend = %q, want fallback", result.Backend)
	}
}

func TestSandboxExecute_PrimaryErrorFallsBackMidCall(t *testing.T) {
	primary := &fakePrimary{available: true, err: errors.New("container create failed")}
	fallback := &fakeFallback{result: &Result{Success: true, Backend: "fallback"}}
	s := NewSandbox(primary, fallback, &fakeImages{})

	result := s.Execute(context.Background(), Request{Code: "print(1)"})
	if result.Backend != "fallback" {
		t.Fatalf("backend = %q, want fallback", result.Backend)
	}
	if !result.Success {
		t.Fatalf("expected fallback result to be used, got %+v", result)
	}
}

func TestSandboxExecute_BothExecutorsFailReturnsErrorResult(t *testing.T) {
	primary := &fakePrimary{available: false}
	fallback := &fakeFallback{err: errors.New("no python interpreter")}
	s := NewSandbox(primary, fallback, &fakeImages{})

	result := s.Execute(context.Background(), Request{Code: "print(1)"})
	if result.Success {
		t.Fatal("expected Success == false")
	}
	if result.Error == "" {
		t.Fatal("expected a non-empty Error message")
	}
}
