package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"perfd/internal/domain"
	"perfd/internal/infra/engineconfig"
)

const reloadDebounce = 200 * time.Millisecond

// DynamicConfigProvider serves the current engine configuration and
// reloads it when the file changes on disk. Reads are lock-free; a
// reload swaps the whole snapshot at once.
type DynamicConfigProvider struct {
	logger     *zap.Logger
	loader     *engineconfig.Loader
	configPath string
	apply      func(domain.EngineConfig) error

	state    atomic.Value
	revision atomic.Uint64

	reloadMu  sync.Mutex
	watchOnce sync.Once
}

// NewDynamicConfigProvider loads the initial configuration. apply is
// invoked with every successfully reloaded config; it may be nil.
func NewDynamicConfigProvider(ctx context.Context, configPath string, apply func(domain.EngineConfig) error, logger *zap.Logger) (*DynamicConfigProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := engineconfig.NewLoader(logger)
	cfg, err := loader.Load(ctx, configPath, engineconfig.LoadOptions{AllowCreate: true})
	if err != nil {
		return nil, err
	}

	provider := &DynamicConfigProvider{
		logger:     logger.Named("config_provider"),
		loader:     loader,
		configPath: configPath,
		apply:      apply,
	}
	provider.state.Store(cfg)
	provider.revision.Store(1)
	return provider, nil
}

// Snapshot returns the current configuration.
func (p *DynamicConfigProvider) Snapshot() domain.EngineConfig {
	return p.state.Load().(domain.EngineConfig)
}

// Revision returns the monotonically increasing reload counter.
func (p *DynamicConfigProvider) Revision() uint64 {
	return p.revision.Load()
}

// Watch starts the file watcher; subsequent calls are no-ops. The
// watcher stops when ctx ends.
func (p *DynamicConfigProvider) Watch(ctx context.Context) {
	if p.configPath == "" {
		return
	}
	p.watchOnce.Do(func() {
		go p.runWatcher(ctx)
	})
}

// Reload re-reads the file and applies the result. A failed load keeps
// the previous snapshot.
func (p *DynamicConfigProvider) Reload(ctx context.Context) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	cfg, err := p.loader.Load(ctx, p.configPath, engineconfig.LoadOptions{})
	if err != nil {
		return err
	}
	if p.apply != nil {
		if err := p.apply(cfg); err != nil {
			return err
		}
	}
	p.state.Store(cfg)
	rev := p.revision.Add(1)
	p.logger.Info("configuration reloaded", zap.Uint64("revision", rev))
	return nil
}

func (p *DynamicConfigProvider) runWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn("config watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(p.configPath); err != nil {
		p.logger.Warn("config watcher add failed", zap.String("path", p.configPath), zap.Error(err))
		return
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				p.logger.Warn("config watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		case <-timerChan(timer):
			timer = nil
			if err := p.Reload(ctx); err != nil {
				p.logger.Warn("config reload failed, keeping previous configuration", zap.Error(err))
			}
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
