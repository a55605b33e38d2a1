package bootstrap

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slimrmm/siterestore/internal/config"
	"github.com/slimrmm/siterestore/internal/extract"
	"github.com/slimrmm/siterestore/internal/handoff"
	"github.com/slimrmm/siterestore/internal/lock"
	"github.com/slimrmm/siterestore/internal/metrics"
	"github.com/slimrmm/siterestore/internal/security/csrf"
	"github.com/slimrmm/siterestore/internal/security/ratelimit"
	"github.com/slimrmm/siterestore/internal/serverenv"
)

// NewFromConfig wires a Bootstrap from a validated configuration. The
// returned close function releases backend connections.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, m metrics.Metrics) (*Bootstrap, func() error, error) {
	if m == nil {
		m = metrics.Noop{}
	}
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	dirMode, fileMode := cfg.Extract.DirPerm(), cfg.Extract.FilePerm()

	library := extract.NewZipEngine(logger)
	library.DirMode, library.FileMode = dirMode, fileMode

	proprietary := extract.NewProprietaryEngine(logger)
	proprietary.DirMode, proprietary.FileMode = dirMode, fileMode
	proprietary.IgnoreErrors = cfg.Extract.IgnoreErrors

	caps := extract.NewCapabilityDetector()
	caps.LibraryEnabled = cfg.Extract.LibraryEnabled
	caps.ShellEnabled = cfg.Extract.AllowShell
	caps.UnzipPath = cfg.Extract.UnzipPath

	model, err := serverenv.ParseModel(cfg.Runtime.ExecutionModel)
	if err != nil {
		return nil, nil, err
	}
	proxy, err := serverenv.ParseProxy(cfg.Runtime.Proxy)
	if err != nil {
		return nil, nil, err
	}

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		rl, err := lock.NewRedisLocker(cfg.Lock.RedisURL, cfg.Lock.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("lock backend: %w", err)
		}
		closers = append(closers, rl.Close)
		locker = rl
	case "none":
		locker = lock.Nop{}
	default:
		locker = lock.NewFileLocker(cfg.RootDir, cfg.Lock.TTL)
	}

	var store handoff.Store
	switch cfg.Handoff.Store {
	case "redis":
		rs, err := handoff.NewRedisStore(cfg.Handoff.RedisURL, []byte(cfg.Handoff.Secret))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("handoff store: %w", err)
		}
		closers = append(closers, rs.Close)
		store = rs
	default:
		store = handoff.NewMemoryStore()
	}

	key := []byte(cfg.Handoff.Secret)
	if len(key) == 0 {
		// Tokens then only verify within this process.
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("generating token key: %w", err)
		}
	}
	tokenCfg := csrf.DefaultConfig()
	tokenCfg.Key = key
	tokenCfg.TTL = cfg.Handoff.TokenTTL
	tokens, err := csrf.New(tokenCfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	limitCfg := ratelimit.DefaultConfig()
	limitCfg.Rate = cfg.Password.AttemptRate
	limitCfg.Burst = cfg.Password.AttemptBurst

	b := &Bootstrap{
		Config: cfg,
		Logger: logger,
		Engines: extract.Engines{
			Library:     library,
			Shell:       extract.NewShellEngine(logger, cfg.Extract.UnzipPath),
			Proprietary: proprietary,
		},
		Capabilities: caps,
		Environment:  serverenv.NewDetector(model, proxy, cfg.Server.Mode),
		Locker:       locker,
		Gate:         NewGate(cfg.Password.RejectDelay, ratelimit.NewKeyed(limitCfg), m),
		Handoff:      handoff.New(store, tokens, cfg.Handoff.TokenTTL),
		Metrics:      m,
	}
	return b, closeAll, nil
}
