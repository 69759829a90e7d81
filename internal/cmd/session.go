package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/lakefront/s3console/internal/config"
	"github.com/lakefront/s3console/pkg/cache"
	"github.com/lakefront/s3console/pkg/history"
	"github.com/lakefront/s3console/pkg/histsync"
	"github.com/lakefront/s3console/pkg/profile"
	"github.com/lakefront/s3console/pkg/proxyclient"
	"github.com/lakefront/s3console/pkg/remotestore"
	"github.com/lakefront/s3console/pkg/requestqueue"
	"github.com/lakefront/s3console/pkg/s3direct"
)

// session bundles everything a command needs for one authenticated run:
// the cached store, the history tracker, and the sync engine.
type session struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *remotestore.CachedStore
	cache   *cache.Cache
	queue   *requestqueue.Queue
	history *history.Store
	tracker *history.Tracker
	sync    *histsync.Engine
	user    history.UserID
	creds   remotestore.Credentials

	cancel context.CancelFunc
}

// newSession wires the full client stack from config, environment and the
// optional --profile.
func newSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	prof, err := resolveProfile(cfg)
	if err != nil {
		return nil, err
	}
	creds, err := resolveCredentials(prof)
	if err != nil {
		return nil, err
	}

	raw, err := buildBackend(ctx, cfg, prof, creds)
	if err != nil {
		return nil, err
	}

	dataCache := cache.New(cache.Config{
		SweepInterval: cfg.Cache.SweepInterval,
		Logger:        logger.Named("cache"),
	})
	queue := requestqueue.New(requestqueue.Config{
		MinInterval:   cfg.Queue.MinInterval,
		BaseRateDelay: cfg.Queue.BaseRateDelay,
		MaxRateDelay:  cfg.Queue.MaxRateDelay,
		Logger:        logger.Named("queue"),
	})

	histPath, err := expandHome(cfg.History.Path)
	if err != nil {
		return nil, err
	}
	histStore, err := history.Open(ctx, history.Config{
		Path:       histPath,
		MaxEntries: cfg.History.MaxEntries,
		Logger:     logger.Named("history"),
	})
	if err != nil {
		return nil, err
	}

	user := history.DeriveUserID(creds.AccessKey, creds.Region)
	sessCtx, cancel := context.WithCancel(context.Background())

	s := &session{
		cfg:     cfg,
		logger:  logger,
		cache:   dataCache,
		queue:   queue,
		history: histStore,
		tracker: history.NewTracker(histStore, user, logger.Named("tracker")),
		user:    user,
		creds:   creds,
		cancel:  cancel,
	}

	historyURL := cfg.History.ServiceURL
	if prof != nil && prof.HistoryURL != "" {
		historyURL = prof.HistoryURL
	}
	if historyURL != "" {
		remote, err := histsync.NewClient(histsync.Config{
			BaseURL:   historyURL,
			AccessKey: creds.AccessKey,
			SecretKey: creds.SecretKey,
			Region:    creds.Region,
			Logger:    logger.Named("histsync"),
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.sync = histsync.NewEngine(histStore, remote, user, histsync.EngineConfig{
			BatchSize:    cfg.Sync.BatchSize,
			Interval:     cfg.Sync.Interval,
			AuthDebounce: cfg.Sync.AuthDebounce,
			Logger:       logger.Named("histsync"),
		})
		go s.sync.Run(sessCtx)
		s.sync.SetAuthenticated(true)
	}

	s.store = remotestore.NewCached(raw, dataCache, queue, remotestore.Config{
		Region: creds.Region,
		TTLs: remotestore.TTLs{
			Buckets:     cfg.Cache.BucketsTTL,
			Objects:     cfg.Cache.ObjectsTTL,
			Credentials: cfg.Cache.CredentialsTTL,
		},
		Teardown: func() {
			logger.Warn("authentication failure, tearing down session")
			if s.sync != nil {
				s.sync.SetAuthenticated(false)
			}
			dataCache.Clear()
		},
		Logger: logger.Named("store"),
	})

	return s, nil
}

// Close flushes pending history sync and releases everything.
func (s *session) Close() {
	if s.sync != nil {
		// Best effort final push before shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Proxy.Timeout)
		if err := s.sync.SyncPending(ctx); err != nil {
			s.logger.Debug("final history sync failed", zap.Error(err))
		}
		cancel()
		s.sync.Close()
	}
	s.cancel()
	if s.queue != nil {
		s.queue.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.history != nil {
		_ = s.history.Close()
	}
	_ = s.logger.Sync()
}

// resolveProfile loads the named --profile, or nil when unset.
func resolveProfile(cfg *config.Config) (*profile.Profile, error) {
	if profileName == "" {
		return nil, nil
	}
	dir, err := expandHome(cfg.Profiles.Dir)
	if err != nil {
		return nil, err
	}
	profiles, err := profile.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	p, ok := profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("profile %q not found in %s", profileName, dir)
	}
	return p, nil
}

// resolveCredentials reads the credential pair from the profile or the
// S3CONSOLE_ACCESS_KEY / S3CONSOLE_SECRET_KEY / S3CONSOLE_REGION variables.
func resolveCredentials(prof *profile.Profile) (remotestore.Credentials, error) {
	if prof != nil {
		return prof.Credentials()
	}
	creds := remotestore.Credentials{
		AccessKey: os.Getenv("S3CONSOLE_ACCESS_KEY"),
		SecretKey: os.Getenv("S3CONSOLE_SECRET_KEY"),
		Region:    os.Getenv("S3CONSOLE_REGION"),
	}
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return remotestore.Credentials{}, fmt.Errorf("credentials required: set S3CONSOLE_ACCESS_KEY and S3CONSOLE_SECRET_KEY, or use --profile")
	}
	return creds, nil
}

// buildBackend constructs the raw store for the selected backend.
func buildBackend(ctx context.Context, cfg *config.Config, prof *profile.Profile, creds remotestore.Credentials) (remotestore.Store, error) {
	if prof != nil && prof.Backend == profile.BackendDirect {
		return s3direct.New(ctx, s3direct.Config{
			Region:         creds.Region,
			Endpoint:       prof.Endpoint,
			AccessKey:      creds.AccessKey,
			SecretKey:      creds.SecretKey,
			ForcePathStyle: prof.ForcePathStyle,
		})
	}

	proxyURL := cfg.Proxy.URL
	if prof != nil && prof.ProxyURL != "" {
		proxyURL = prof.ProxyURL
	}
	return proxyclient.New(proxyclient.Config{
		BaseURL:     proxyURL,
		Credentials: creds,
		Timeout:     cfg.Proxy.Timeout,
	})
}

// expandHome resolves a leading ~/ against the user home directory.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
