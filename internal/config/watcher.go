package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/logger"
)

const reloadDebounce = 200 * time.Millisecond

// PolicyProvider hands out the current policy snapshot. Snapshots are immutable;
// a reload swaps in a new one and requests already holding the old one keep using it.
type PolicyProvider struct {
	v       *viper.Viper
	retry   int64
	grace   time.Duration
	current atomic.Pointer[models.PolicyConfig]
	logger  logger.Logger
}

// NewPolicyProvider builds the initial snapshot from cfg.
func NewPolicyProvider(cfg *Config, v *viper.Viper, log logger.Logger) (*PolicyProvider, error) {
	policy, err := cfg.Policy.ToPolicy(cfg.Guard.FailClosedRetrySeconds)
	if err != nil {
		return nil, err
	}
	p := &PolicyProvider{
		v:      v,
		retry:  cfg.Guard.FailClosedRetrySeconds,
		grace:  cfg.Cleanup.CounterGrace,
		logger: log.WithComponent("policy_provider"),
	}
	p.current.Store(policy)
	return p, nil
}

// Current returns the active policy snapshot.
func (p *PolicyProvider) Current() *models.PolicyConfig {
	return p.current.Load()
}

// Reload re-reads the config file and swaps the policy. An invalid file keeps the
// previous snapshot in place.
func (p *PolicyProvider) Reload(ctx context.Context) error {
	if p.v == nil {
		return fmt.Errorf("policy provider has no config source")
	}
	if err := p.v.ReadInConfig(); err != nil {
		return fmt.Errorf("re-read config: %w", err)
	}
	var settings PolicySettings
	if err := p.v.UnmarshalKey("policy", &settings); err != nil {
		return fmt.Errorf("unmarshal policy: %w", err)
	}
	policy, err := settings.ToPolicy(p.retry)
	if err != nil {
		return err
	}
	if err := checkCounterGrace(policy, p.grace); err != nil {
		return err
	}
	p.current.Store(policy)
	p.logger.Info(ctx, "Policy reloaded", logger.String("failure_policy", string(policy.FailurePolicy)))
	return nil
}

// Watch reloads the policy whenever the config file changes, until ctx is done.
// The directory is watched rather than the file so editors that replace the file
// on save are still seen.
func (p *PolicyProvider) Watch(ctx context.Context) error {
	if p.v == nil || p.v.ConfigFileUsed() == "" {
		p.logger.Info(ctx, "No config file in use, policy hot reload disabled")
		<-ctx.Done()
		return nil
	}
	path, err := filepath.Abs(p.v.ConfigFileUsed())
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	p.logger.Info(ctx, "Watching config file for policy changes", logger.String("path", path))

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				debounce = time.After(reloadDebounce)
			}
		case <-debounce:
			debounce = nil
			if err := p.Reload(ctx); err != nil {
				p.logger.Error(ctx, "Policy reload failed, keeping previous policy", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error(ctx, "Config watcher error", err)
		}
	}
}
