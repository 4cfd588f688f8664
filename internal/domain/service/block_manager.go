package service

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/internal/domain/repository"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

// BlockManager tracks explicit, time-boxed blocks layered on top of window counts.
// Expiry is passive: a block stops applying once its end time passes.
type BlockManager struct {
	store  repository.CounterRepository
	logger logger.Logger
}

// NewBlockManager creates a BlockManager over the counter store.
func NewBlockManager(store repository.CounterRepository, log logger.Logger) *BlockManager {
	return &BlockManager{
		store:  store,
		logger: log.WithComponent("block_manager"),
	}
}

// Check returns the active block of the identifier, or nil.
func (m *BlockManager) Check(ctx context.Context, dim constants.Dimension, identifier, scope string, now time.Time) (*models.BlockState, error) {
	block, err := m.store.ActiveBlock(ctx, dim, identifier, scope, now)
	if err != nil {
		return nil, fmt.Errorf("check block %s: %w", dim, err)
	}
	if !block.Active(now) {
		return nil, nil
	}
	return block, nil
}

// EscalateIfNeeded blocks the identifier when its attempts within the trailing
// escalation window reach the threshold. It returns the new block, or nil, with
// the attempts counted. Attempts are summed over minute windows that start
// inside the trailing window. It runs after Record, so a block takes effect
// from the next attempt.
func (m *BlockManager) EscalateIfNeeded(ctx context.Context, dim constants.Dimension, identifier, scope string, now time.Time, policy models.DimensionPolicy) (*models.BlockState, int64, error) {
	rule := policy.Escalation
	if rule == nil || identifier == "" {
		return nil, 0, nil
	}

	key := models.CounterKey{
		Dimension:   dim,
		Identifier:  identifier,
		Scope:       scope,
		Granularity: constants.GranularityMinute,
	}
	attempts, err := m.store.SumSince(ctx, key, now.Add(-rule.Window()), now)
	if err != nil {
		return nil, 0, fmt.Errorf("count attempts for escalation: %w", err)
	}
	if attempts < rule.Threshold {
		return nil, attempts, nil
	}

	existing, err := m.store.ActiveBlock(ctx, dim, identifier, scope, now)
	if err != nil {
		return nil, attempts, fmt.Errorf("check block before escalation: %w", err)
	}
	until := now.Add(rule.Duration())
	if existing.Active(now) && !existing.Until.Before(until) {
		return nil, attempts, nil
	}

	block, err := m.store.MarkBlocked(ctx, dim, identifier, scope, until, constants.BlockReasonThresholdExceeded, now)
	if err != nil {
		return nil, attempts, fmt.Errorf("mark blocked: %w", err)
	}

	m.logger.Warn(ctx, "Identifier blocked after repeated attempts",
		logger.String("dimension", string(dim)),
		logger.String("scope", scope),
		logger.Int64("attempts", attempts),
		logger.Int64("threshold", rule.Threshold),
		logger.Time("blocked_until", until),
	)
	return block, attempts, nil
}

// Block places a block on an identifier outside of escalation, e.g. by an operator.
func (m *BlockManager) Block(ctx context.Context, dim constants.Dimension, identifier, scope string, until time.Time, reason string, now time.Time) (*models.BlockState, error) {
	if reason == "" {
		reason = constants.BlockReasonManual
	}
	return m.store.MarkBlocked(ctx, dim, identifier, scope, until, reason, now)
}

// Unblock lifts an identifier's block. It reports whether a block existed.
func (m *BlockManager) Unblock(ctx context.Context, dim constants.Dimension, identifier, scope string) (bool, error) {
	return m.store.ClearBlock(ctx, dim, identifier, scope)
}
