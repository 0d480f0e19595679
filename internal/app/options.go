package service

import (
	"time"

	"github.com/okian/clanrank/internal/adapters/repository"
	"github.com/okian/clanrank/internal/config"
	"github.com/okian/clanrank/internal/domain/ranking"
	"github.com/okian/clanrank/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects a store instead of opening one from the driver setting.
// The service does not close an injected store.
func WithStore(store repository.Admin) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.ownsStore = false
		}
	}
}

// WithStoreDriver selects the store opened on Start.
func WithStoreDriver(driver, databasePath string) Option {
	return func(s *Service) {
		if driver != "" {
			s.storeDriver = driver
		}
		if databasePath != "" {
			s.databasePath = databasePath
		}
	}
}

// WithRankScheme sets base and step of the rank scheme.
func WithRankScheme(base, step int64) Option {
	return func(s *Service) {
		s.scheme = ranking.NewLinear(ranking.WithBase(base), ranking.WithStep(step))
	}
}

// WithMaxListSize bounds the reorder window.
func WithMaxListSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxListSize = n
		}
	}
}

// WithTransientRetries sets how often a transient row failure is retried.
func WithTransientRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.transientRetries = n
		}
	}
}

// WithOptimisticConcurrency toggles version-guarded session commits.
func WithOptimisticConcurrency(on bool) Option {
	return func(s *Service) {
		s.optimistic = on
	}
}

// WithSessionTTL expires sessions idle for longer than ttl.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithNoticeQueueSize bounds the notice queue.
func WithNoticeQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.noticeQueueSize = n
		}
	}
}

// WithAllowedOrigins restricts live websocket origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Service) {
		s.allowedOrigins = origins
	}
}

// WithClock overrides the time source used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// OptionsFromConfig maps loaded configuration onto service options.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithStoreDriver(cfg.StoreDriver, cfg.DatabasePath),
		WithRankScheme(cfg.BaseRankValue, cfg.RankStep),
		WithMaxListSize(cfg.MaxListSize),
		WithTransientRetries(cfg.TransientRetries),
		WithOptimisticConcurrency(cfg.OptimisticConcurrency),
		WithSessionTTL(cfg.SessionTTL()),
		WithNoticeQueueSize(cfg.NoticeQueueSize),
		WithAllowedOrigins(cfg.AllowedOrigins),
	}
}
