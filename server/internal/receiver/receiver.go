package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/wardwatch/wardwatch/server/internal/alert"
	"github.com/wardwatch/wardwatch/server/internal/auth"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
)

// Service is the alert engine as seen by the gRPC surface.
type Service interface {
	Create(ctx context.Context, req alert.CreateRequest) (alert.Alert, error)
	Acknowledge(ctx context.Context, id, responder, role string) (alert.Alert, error)
	Resolve(ctx context.Context, id, resolver string) (alert.Alert, error)
	Get(id string) (alert.Alert, error)
}

// Receiver implements AlertServiceServer on top of a Service.
type Receiver struct {
	svc Service
}

// New creates a Receiver that forwards commands to svc.
func New(svc Service) *Receiver {
	return &Receiver{svc: svc}
}

// Create raises an alert. An authenticated principal replaces created_by and
// creator_role.
func (r *Receiver) Create(ctx context.Context, in *alert.CreateRequest) (*alert.Alert, error) {
	p, _ := auth.FromContext(ctx)
	if !p.CanAccess(in.HospitalID) {
		return nil, status.Errorf(codes.PermissionDenied, "not authorized for hospital %s", in.HospitalID)
	}
	req := *in
	if p.Authenticated() {
		req.CreatedBy, req.CreatorRole = p.Subject, p.Role
	}
	a, err := r.svc.Create(ctx, req)
	return reply(ctx, a, err)
}

// Acknowledge acknowledges an alert. An authenticated principal replaces
// responder and role.
func (r *Receiver) Acknowledge(ctx context.Context, in *AcknowledgeRequest) (*alert.Alert, error) {
	if _, err := r.authorized(ctx, in.ID); err != nil {
		return nil, err
	}
	responder, role := in.Responder, in.Role
	if p, _ := auth.FromContext(ctx); p.Authenticated() {
		responder, role = p.Subject, p.Role
	}
	a, err := r.svc.Acknowledge(ctx, in.ID, responder, role)
	return reply(ctx, a, err)
}

// Resolve resolves an alert.
func (r *Receiver) Resolve(ctx context.Context, in *ResolveRequest) (*alert.Alert, error) {
	if _, err := r.authorized(ctx, in.ID); err != nil {
		return nil, err
	}
	resolver := in.Resolver
	if p, _ := auth.FromContext(ctx); p.Authenticated() {
		resolver = p.Subject
	}
	a, err := r.svc.Resolve(ctx, in.ID, resolver)
	return reply(ctx, a, err)
}

// Get returns the current state of an alert.
func (r *Receiver) Get(ctx context.Context, in *GetRequest) (*alert.Alert, error) {
	a, err := r.authorized(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// MetricsInterceptor records the latency of every unary call.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		metrics.RequestDuration.
			WithLabelValues("grpc", info.FullMethod, status.Code(err).String()).
			Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// --- internal ---------------------------------------------------------------

func (r *Receiver) authorized(ctx context.Context, id string) (alert.Alert, error) {
	if id == "" {
		return alert.Alert{}, status.Error(codes.InvalidArgument, "id is required")
	}
	a, err := r.svc.Get(id)
	if err != nil {
		return alert.Alert{}, toStatus(err)
	}
	if p, _ := auth.FromContext(ctx); !p.CanAccess(a.HospitalID) {
		return alert.Alert{}, status.Errorf(codes.PermissionDenied, "not authorized for hospital %s", a.HospitalID)
	}
	return a, nil
}

func reply(ctx context.Context, a alert.Alert, err error) (*alert.Alert, error) {
	if err == nil {
		return &a, nil
	}
	if applied, ok := alert.Applied(err); ok {
		if raw, merr := json.Marshal(applied); merr == nil {
			grpc.SetTrailer(ctx, metadata.Pairs(AppliedTrailer, string(raw))) //nolint:errcheck
		}
	}
	return nil, toStatus(err)
}

// toStatus maps an engine error to a gRPC status. A denial code, when
// present, prefixes the message.
func toStatus(err error) error {
	var c codes.Code
	switch {
	case errors.Is(err, alert.ErrValidation):
		c = codes.InvalidArgument
	case errors.Is(err, alert.ErrNotFound):
		c = codes.NotFound
	case errors.Is(err, alert.ErrInvalidState):
		c = codes.FailedPrecondition
	case errors.Is(err, alert.ErrForbidden):
		c = codes.PermissionDenied
	case errors.Is(err, alert.ErrPersistence):
		c = codes.Unavailable
	default:
		slog.Error("receiver: unexpected error", "err", err)
		c = codes.Internal
	}
	msg := err.Error()
	if code := alert.CodeOf(err); code != "" {
		msg = code + ": " + msg
	}
	return status.Error(c, msg)
}
