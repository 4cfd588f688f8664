package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/internal/domain/repository"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/errors"
	"github.com/turtacn/certguard/pkg/logger"
)

// PolicyEngine decides whether an attempt may proceed and records attempts that did.
//
// Check and Record are separate round-trips to the counter store. Concurrent requests
// can all pass Check before any of them records, so configured maximums are soft
// limits that may briefly be exceeded.
type PolicyEngine struct {
	store   repository.CounterRepository
	blocks  *BlockManager
	clock   *WindowClock
	audit   AuditLogger
	metrics Metrics
	logger  logger.Logger

	lists atomic.Pointer[compiledLists]
}

type compiledLists struct {
	cfg     *models.PolicyConfig
	matcher *ListMatcher
}

// target is one dimension the engine evaluates for an attempt.
type target struct {
	dim        constants.Dimension
	identifier string
	scope      string
	policy     models.DimensionPolicy
}

func (t target) key(g constants.Granularity) models.CounterKey {
	return models.CounterKey{Dimension: t.dim, Identifier: t.identifier, Scope: t.scope, Granularity: g}
}

// EngineOption configures a PolicyEngine.
type EngineOption func(*PolicyEngine)

// WithAuditLogger sets where decisions are appended.
func WithAuditLogger(a AuditLogger) EngineOption {
	return func(e *PolicyEngine) {
		if a != nil {
			e.audit = a
		}
	}
}

// WithMetrics sets the metrics backend.
func WithMetrics(m Metrics) EngineOption {
	return func(e *PolicyEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewPolicyEngine creates a PolicyEngine over the counter store.
func NewPolicyEngine(store repository.CounterRepository, clock *WindowClock, log logger.Logger, opts ...EngineOption) *PolicyEngine {
	e := &PolicyEngine{
		store:   store,
		blocks:  NewBlockManager(store, log),
		clock:   clock,
		audit:   noopAudit{},
		metrics: noopMetrics{},
		logger:  log.WithComponent("policy_engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Blocks exposes the engine's block manager.
func (e *PolicyEngine) Blocks() *BlockManager {
	return e.blocks
}

// Check evaluates the attempt against cfg at now. Rules are applied in order and the
// first one that fires decides: deny list, allow list, active blocks, then cooldowns
// and window limits. When the store fails, cfg.FailurePolicy decides and the returned
// decision is marked Degraded. The decision is always appended to the audit log.
func (e *PolicyEngine) Check(ctx context.Context, attempt models.Attempt, scope string, now time.Time, cfg *models.PolicyConfig) (*models.Decision, error) {
	if cfg == nil {
		return nil, errors.ErrInvalidRequest("policy config is required")
	}

	started := time.Now()
	decision := e.evaluate(ctx, attempt, scope, now, cfg)
	e.metrics.ObserveCheckLatency(time.Since(started))
	e.metrics.RecordDecision(decision.Action(), decision.Code, decision.Dimension)

	e.audit.Append(ctx, models.NewLogEntry(attempt, scope, decision, now))

	if !decision.Allowed {
		e.logger.Info(ctx, "Attempt denied",
			logger.String("code", string(decision.Code)),
			logger.String("dimension", string(decision.BlockingDimension)),
			logger.String("scope", scope),
			logger.Int64("wait_seconds", decision.WaitSeconds),
		)
	}
	return decision, nil
}

func (e *PolicyEngine) evaluate(ctx context.Context, attempt models.Attempt, scope string, now time.Time, cfg *models.PolicyConfig) *models.Decision {
	identities := attempt.Identities()
	matcher := e.matcherFor(cfg)

	for _, id := range identities {
		if matcher.Classify(id.Dimension, id.Identifier) == constants.ListDenied {
			return &models.Decision{
				Allowed:           false,
				Code:              constants.DecisionBlacklisted,
				Reason:            fmt.Sprintf("%s is blacklisted", id.Dimension),
				Dimension:         id.Dimension,
				BlockingDimension: id.Dimension,
			}
		}
	}
	for _, id := range identities {
		if matcher.Classify(id.Dimension, id.Identifier) == constants.ListAllowed {
			return &models.Decision{
				Allowed:   true,
				Code:      constants.DecisionWhitelisted,
				Reason:    fmt.Sprintf("%s is whitelisted", id.Dimension),
				Dimension: id.Dimension,
			}
		}
	}

	targets := e.targets(identities, scope, cfg)

	for _, t := range targets {
		block, err := e.blocks.Check(ctx, t.dim, t.identifier, t.scope, now)
		if err != nil {
			return e.storeFailure(ctx, cfg, "active_block", err)
		}
		if block != nil {
			return &models.Decision{
				Allowed:           false,
				Code:              constants.DecisionBlocked,
				Reason:            "blocked: " + block.Reason,
				Dimension:         t.dim,
				BlockingDimension: t.dim,
				WaitSeconds:       block.RemainingSeconds(now),
			}
		}
	}

	var snapshot *models.Decision
	for _, t := range targets {
		if t.policy.CooldownSeconds > 0 {
			last, ok, err := e.store.LastAttempt(ctx, t.dim, t.identifier, t.scope)
			if err != nil {
				return e.storeFailure(ctx, cfg, "last_attempt", err)
			}
			cooldown := time.Duration(t.policy.CooldownSeconds) * time.Second
			if elapsed := now.Sub(last); ok && elapsed >= 0 && elapsed < cooldown {
				return &models.Decision{
					Allowed:           false,
					Code:              constants.DecisionCooldown,
					Reason:            fmt.Sprintf("%s must wait %ds between attempts", t.dim, t.policy.CooldownSeconds),
					Dimension:         t.dim,
					BlockingDimension: t.dim,
					WaitSeconds:       models.Window{End: last.Add(cooldown)}.RemainingSeconds(now),
				}
			}
		}

		var denied *models.Decision
		for _, limit := range t.policy.Limits {
			window := e.clock.WindowFor(now, limit.Granularity)
			count, err := e.store.Peek(ctx, t.key(limit.Granularity), window)
			if err != nil {
				return e.storeFailure(ctx, cfg, "peek", err)
			}
			if count >= limit.Max {
				wait := window.RemainingSeconds(now)
				if denied == nil || wait > denied.WaitSeconds {
					denied = &models.Decision{
						Allowed:           false,
						Code:              constants.DecisionLimitExceeded,
						Reason:            fmt.Sprintf("%s limit of %d per %s reached", t.dim, limit.Max, limit.Granularity),
						Dimension:         t.dim,
						BlockingDimension: t.dim,
						WaitSeconds:       wait,
						CurrentCount:      count,
						MaxAllowed:        limit.Max,
					}
				}
				continue
			}
			if snapshot == nil || utilisation(count, limit.Max) > utilisation(snapshot.CurrentCount, snapshot.MaxAllowed) {
				snapshot = &models.Decision{Dimension: t.dim, CurrentCount: count, MaxAllowed: limit.Max}
			}
		}
		if denied != nil {
			return denied
		}
	}

	allowed := &models.Decision{Allowed: true, Code: constants.DecisionOK, Reason: "allowed"}
	if snapshot != nil {
		allowed.Dimension = snapshot.Dimension
		allowed.CurrentCount = snapshot.CurrentCount
		allowed.MaxAllowed = snapshot.MaxAllowed
	}
	return allowed
}

// Record counts an attempt whose guarded action was performed, then escalates
// dimensions that define an escalation rule. Failures on one counter do not stop
// the others; all failures are returned joined.
func (e *PolicyEngine) Record(ctx context.Context, attempt models.Attempt, scope string, now time.Time, cfg *models.PolicyConfig) (*models.RecordResult, error) {
	if cfg == nil {
		return nil, errors.ErrInvalidRequest("policy config is required")
	}

	result := models.NewRecordResult()
	var errs []error

	for _, t := range e.targets(attempt.Identities(), scope, cfg) {
		incremented := true
		for _, g := range t.policy.Granularities() {
			count, err := e.store.Increment(ctx, t.key(g), e.clock.WindowFor(now, g), now)
			if err != nil {
				e.metrics.RecordStoreError("increment")
				errs = append(errs, fmt.Errorf("increment %s/%s: %w", t.dim, g, err))
				incremented = false
				continue
			}
			result.SetCount(t.dim, g, count)
		}

		if t.policy.Escalation == nil || !incremented {
			continue
		}
		block, attempts, err := e.blocks.EscalateIfNeeded(ctx, t.dim, t.identifier, t.scope, now, t.policy)
		if err != nil {
			e.metrics.RecordStoreError("escalate")
			errs = append(errs, fmt.Errorf("escalate %s: %w", t.dim, err))
			continue
		}
		if block == nil {
			continue
		}
		result.Blocks = append(result.Blocks, block)
		e.metrics.RecordEscalation(t.dim)
		e.audit.Append(ctx, &models.RateLimitLogEntry{
			Dimension:    t.dim,
			Identifier:   t.identifier,
			Scope:        t.scope,
			Action:       constants.ActionBlocked,
			Reason:       constants.BlockReasonThresholdExceeded,
			IPAddress:    attempt.IP,
			UserAgent:    models.TruncateUTF8(attempt.UserAgent, models.MaxUserAgentBytes),
			CurrentCount: attempts,
			MaxAllowed:   t.policy.Escalation.Threshold,
			CreatedAt:    now.UTC(),
		})
	}

	if len(errs) > 0 {
		return result, stderrors.Join(errs...)
	}
	return result, nil
}

// targets lists the enabled dimensions to evaluate, in priority order. Global
// counters ignore the scope.
func (e *PolicyEngine) targets(identities []models.Identity, scope string, cfg *models.PolicyConfig) []target {
	out := make([]target, 0, len(identities)+1)
	for _, id := range identities {
		p := cfg.Policy(id.Dimension)
		if !p.Enabled {
			continue
		}
		out = append(out, target{dim: id.Dimension, identifier: id.Identifier, scope: scope, policy: p})
	}
	if p := cfg.Policy(constants.DimensionGlobal); p.Enabled {
		out = append(out, target{dim: constants.DimensionGlobal, policy: p})
	}
	return out
}

func (e *PolicyEngine) storeFailure(ctx context.Context, cfg *models.PolicyConfig, operation string, err error) *models.Decision {
	e.metrics.RecordStoreError(operation)
	e.logger.Error(ctx, "Counter store unavailable, applying failure policy", err,
		logger.String("operation", operation),
		logger.String("failure_policy", string(cfg.FailurePolicy)),
	)

	if cfg.FailurePolicy == constants.FailClosed {
		wait := cfg.FailClosedRetrySeconds
		if wait <= 0 {
			wait = constants.DefaultFailClosedRetrySeconds
		}
		return &models.Decision{
			Allowed:     false,
			Code:        constants.DecisionStoreUnavailable,
			Reason:      "rate limit store unavailable, try again later",
			WaitSeconds: wait,
			Degraded:    true,
		}
	}
	return &models.Decision{
		Allowed:  true,
		Code:     constants.DecisionStoreUnavailable,
		Reason:   "rate limit store unavailable, allowed by failure policy",
		Degraded: true,
	}
}

// matcherFor returns the compiled allow/deny lists of cfg, recompiling only when a
// different config snapshot is passed.
func (e *PolicyEngine) matcherFor(cfg *models.PolicyConfig) *ListMatcher {
	if cur := e.lists.Load(); cur != nil && cur.cfg == cfg {
		return cur.matcher
	}
	compiled := &compiledLists{cfg: cfg, matcher: NewListMatcher(cfg.Whitelist, cfg.Blacklist)}
	e.lists.Store(compiled)
	return compiled.matcher
}

func utilisation(count, max int64) float64 {
	if max <= 0 {
		return 0
	}
	return float64(count) / float64(max)
}
