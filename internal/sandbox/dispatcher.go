package sandbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sandboxd/internal/sandboxlog"
)

// primaryExecutor and fallbackExecutor are the narrow collaborator
// interfaces the Dispatcher depends on, implemented by exec.Primary and
// exec.Fallback respectively. Defined here rather than imported so this
// package has no dependency on internal/sandbox/exec (exec already
// depends on internal/sandbox, and Go forbids the cycle).
type primaryExecutor interface {
	Available() bool
	Execute(ctx context.Context, req Request) (*Result, error)
}

type fallbackExecutor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// imageResolver is the slice of *image.Manager the Dispatcher needs to
// decide whether the Primary Executor has a ready runtime for a request,
// defined narrowly for the same reason as above.
type imageResolver interface {
	GetImage(ctx context.Context, profile string) (string, error)
}

// Sandbox is the facade spec.md calls the Dispatcher: it picks between
// the Primary (container) and Fallback (subprocess) executors and always
// returns exactly one Result, never an error.
type Sandbox struct {
	primary  primaryExecutor
	fallback fallbackExecutor
	images   imageResolver
	tracer   trace.Tracer
}

// NewSandbox wires the Dispatcher around its two executors and the
// shared Image Manager. Availability of the primary path is read from
// primary.Available(), probed once by the caller at construction time
// (e.g. from a docker ping during cmd/sandboxd startup) and cached on
// the Primary value itself.
func NewSandbox(primary primaryExecutor, fallback fallbackExecutor, images imageResolver) *Sandbox {
	return &Sandbox{
		primary:  primary,
		fallback: fallback,
		images:   images,
		tracer:   otel.Tracer("sandboxd.dispatcher"),
	}
}

// Execute runs req through whichever executor is ready, recording the
// decision as an OTEL span and a structured log line, and never lets a
// panic or error escape: a Fallback failure still yields a Result, with
// the failure described in Result.Error.
func (s *Sandbox) Execute(ctx context.Context, req Request) (out *Result) {
	ctx, span := s.tracer.Start(ctx, "sandbox.execute")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("sandbox: executor panicked: %v", r)
			sandboxlog.Error("dispatcher.panic", sandboxlog.Fields{"error": msg})
			span.SetStatus(codes.Error, msg)
			out = &Result{Success: false, Error: msg}
		}
	}()

	execID := "sbx_" + uuid.NewString()

	cfg := req.Config.WithDefaults()
	req.Config = cfg

	backend, reason := s.choose(ctx, req)
	span.SetAttributes(
		attribute.String("sandbox.exec_id", execID),
		attribute.String("sandbox.backend", backend),
		attribute.String("sandbox.profile_hint", req.ProfileHint),
	)

	var result *Result
	var err error

	switch backend {
	case "primary":
		result, err = s.primary.Execute(ctx, req)
		if err != nil {
			sandboxlog.Warn("dispatcher.primary_failed", sandboxlog.Fields{"error": err.Error()})
			span.AddEvent("primary_failed_falling_back", trace.WithAttributes(attribute.String("error", err.Error())))
			result, err = s.fallback.Execute(ctx, req)
			backend = "fallback"
		}
	default:
		sandboxlog.Warn("dispatcher.using_fallback", sandboxlog.Fields{"reason": reason})
		result, err = s.fallback.Execute(ctx, req)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &Result{
			Success: false,
			Error:   err.Error(),
			Backend: backend,
		}
	}

	span.SetAttributes(
		attribute.Bool("sandbox.success", result.Success),
		attribute.Bool("sandbox.timed_out", result.TimedOut),
		attribute.Int64("sandbox.execution_time_ms", result.ExecutionTime.Milliseconds()),
	)
	span.SetStatus(codes.Ok, backend)

	sandboxlog.Info("dispatcher.executed", sandboxlog.Fields{
		"execId":   execID,
		"backend":  backend,
		"success":  result.Success,
		"timedOut": result.TimedOut,
	})

	return result
}

// choose decides which executor should run req and, when it picks
// fallback, a short reason string for the log line.
func (s *Sandbox) choose(ctx context.Context, req Request) (backend, reason string) {
	if s.primary == nil || !s.primary.Available() {
		return "fallback", "docker unavailable"
	}

	if s.images != nil {
		profile := SelectProfile(req.ProfileHint, req.Code)
		if _, err := s.images.GetImage(ctx, profile); err != nil {
			return "fallback", "no ready sandbox image: " + err.Error()
		}
	}

	return "primary", ""
}
