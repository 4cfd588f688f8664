// Package service provides application-level services that orchestrate the domain
// engine, repositories and configuration for the transports.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/internal/domain/models"
	domainService "github.com/turtacn/certguard/internal/domain/service"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/errors"
	"github.com/turtacn/certguard/pkg/logger"
	"github.com/turtacn/certguard/pkg/utils"
)

const tracerName = "github.com/turtacn/certguard/application"

// PolicySource hands out the policy snapshot to evaluate against.
type PolicySource interface {
	Current() *models.PolicyConfig
}

// GuardService runs checks and records for transports. It fixes one evaluation
// time per request and bounds every store round-trip with a deadline.
type GuardService struct {
	engine       *domainService.PolicyEngine
	policies     PolicySource
	storeTimeout time.Duration
	tracer       trace.Tracer
	now          func() time.Time
	logger       logger.Logger
}

// GuardOption configures a GuardService.
type GuardOption func(*GuardService)

func WithStoreTimeout(d time.Duration) GuardOption {
	return func(s *GuardService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithTracer(t trace.Tracer) GuardOption {
	return func(s *GuardService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock replaces time.Now for requests that carry no evaluation time.
func WithClock(now func() time.Time) GuardOption {
	return func(s *GuardService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewGuardService creates a GuardService.
func NewGuardService(engine *domainService.PolicyEngine, policies PolicySource, log logger.Logger, opts ...GuardOption) *GuardService {
	s := &GuardService{
		engine:       engine,
		policies:     policies,
		storeTimeout: constants.DefaultStoreTimeout,
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		logger:       log.WithComponent("guard_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check evaluates an attempt without counting it.
func (s *GuardService) Check(ctx context.Context, req *dto.AttemptRequest) (*dto.CheckResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	now := s.evaluationTime(req)

	ctx, span := s.tracer.Start(ctx, "guard.check", trace.WithAttributes(attribute.String("guard.scope", req.Scope)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	decision, err := s.engine.Check(ctx, req.Attempt(), req.Scope, now, s.policies.Current())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("guard.allowed", decision.Allowed),
		attribute.String("guard.code", string(decision.Code)),
		attribute.Bool("guard.degraded", decision.Degraded),
	)
	return &dto.CheckResponse{Decision: decision, EvaluatedAt: now}, nil
}

// Record counts an attempt whose guarded action went ahead.
func (s *GuardService) Record(ctx context.Context, req *dto.AttemptRequest) (*dto.RecordResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	now := s.evaluationTime(req)

	ctx, span := s.tracer.Start(ctx, "guard.record", trace.WithAttributes(attribute.String("guard.scope", req.Scope)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	result, err := s.engine.Record(ctx, req.Attempt(), req.Scope, now, s.policies.Current())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if _, ok := errors.AsGuardError(err); ok {
			return nil, err
		}
		s.logger.Error(ctx, "Failed to record attempt", err, logger.String("scope", req.Scope))
		return nil, errors.ErrStoreUnavailable("failed to record attempt").WithCause(err)
	}
	span.SetAttributes(attribute.Int("guard.blocks_created", len(result.Blocks)))
	return &dto.RecordResponse{RecordResult: result, RecordedAt: now}, nil
}

// Block places a manual block on an identifier for the requested duration.
func (s *GuardService) Block(ctx context.Context, req *dto.BlockRequest) (*dto.BlockResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	dim, identifier, scope, err := resolveTarget(req.Dimension, req.Identifier, req.Scope)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	until := now.Add(time.Duration(req.DurationSeconds) * time.Second)

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	block, err := s.engine.Blocks().Block(ctx, dim, identifier, scope, until, req.Reason, now)
	if err != nil {
		return nil, errors.ErrStoreUnavailable("failed to place block").WithCause(err)
	}
	s.logger.Info(ctx, "Block placed by administrator",
		logger.String("dimension", string(dim)),
		logger.String("identifier", identifier),
		logger.String("scope", scope),
		logger.Time("until", until),
		logger.String("admin", adminSubject(ctx)),
	)
	return &dto.BlockResponse{BlockState: block}, nil
}

// Unblock lifts a block. The identifier is normalized the same way attempts are,
// so "User@Example.com" clears the block of "user@example.com".
func (s *GuardService) Unblock(ctx context.Context, req *dto.UnblockRequest) (*dto.UnblockResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	dim, identifier, scope, err := resolveTarget(req.Dimension, req.Identifier, req.Scope)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	cleared, err := s.engine.Blocks().Unblock(ctx, dim, identifier, scope)
	if err != nil {
		return nil, errors.ErrStoreUnavailable("failed to clear block").WithCause(err)
	}

	s.logger.Info(ctx, "Block cleared by administrator",
		logger.String("dimension", string(dim)),
		logger.String("identifier", identifier),
		logger.String("scope", scope),
		logger.Bool("existed", cleared),
		logger.String("admin", adminSubject(ctx)),
	)
	return &dto.UnblockResponse{Dimension: string(dim), Identifier: identifier, Scope: scope, Cleared: cleared}, nil
}

func (s *GuardService) evaluationTime(req *dto.AttemptRequest) time.Time {
	if req.At != nil && !req.At.IsZero() {
		return req.At.UTC()
	}
	return s.now().UTC()
}

// resolveTarget normalizes an admin-supplied identity. Global blocks have neither
// identifier nor scope.
func resolveTarget(rawDim, rawIdentifier, rawScope string) (constants.Dimension, string, string, error) {
	dim, ok := constants.ParseDimension(rawDim)
	if !ok {
		return "", "", "", errors.ErrInvalidRequest("unknown dimension " + rawDim)
	}
	if dim == constants.DimensionGlobal {
		return dim, "", "", nil
	}
	identifier := models.Normalize(dim, rawIdentifier)
	if identifier == "" {
		return "", "", "", errors.ErrInvalidRequest("identifier is malformed for dimension " + rawDim)
	}
	return dim, identifier, rawScope, nil
}

func adminSubject(ctx context.Context) string {
	subject, _ := ctx.Value(constants.ContextKeyAdminSubject).(string)
	return subject
}
