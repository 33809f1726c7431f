package core

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/eldarion/identeco/internal/clock"
	"github.com/eldarion/identeco/internal/crypto"
	"github.com/eldarion/identeco/internal/lookingglass"
	"github.com/eldarion/identeco/internal/openid"
	"github.com/eldarion/identeco/internal/plugin"
	"github.com/eldarion/identeco/internal/protocols/openid2"
	"github.com/eldarion/identeco/internal/provider"
	"github.com/eldarion/identeco/internal/session"
	"github.com/eldarion/identeco/internal/store"
	"github.com/eldarion/identeco/internal/users"
)

// BootstrapOptions overrides parts of the wiring, mainly for tests
type BootstrapOptions struct {
	// Clock defaults to the system clock
	Clock clock.Clock
	// Users defaults to the demo directory
	Users *users.Directory
}

// BootstrapResult holds initialized dependencies
type BootstrapResult struct {
	Config       *Config
	Store        store.Store
	Engine       *openid.Server
	Pending      session.PendingStore
	Sessions     *session.Manager
	Users        *users.Directory
	Provider     *provider.Provider
	LookingGlass *lookingglass.Engine
	Registry     *plugin.Registry
}

// Bootstrap initializes the provider from cfg
func Bootstrap(ctx context.Context, cfg *Config, opts BootstrapOptions) (*BootstrapResult, error) {
	c := opts.Clock
	if c == nil {
		c = clock.System{}
	}
	res := &BootstrapResult{Config: cfg}

	st, err := store.Open(ctx, store.Options{
		Driver:  cfg.StoreDriver,
		DSN:     cfg.StoreDSN,
		DataDir: cfg.DataDir,
		Clock:   c,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}
	res.Store = st
	log.Printf("Store initialized: %s", cfg.StoreDriver)

	res.Engine = openid.NewServer(st, openid2.EndpointURL(cfg.BaseURL),
		openid.WithClock(c),
		openid.WithAssociationLifetime(cfg.AssociationLifetime),
	)

	switch cfg.SessionBackend {
	case "redis":
		pending, err := session.NewRedisPending(ctx, session.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.SessionTTL)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("failed to connect pending request store: %w", err)
		}
		res.Pending = pending
		log.Printf("Pending requests kept in Redis at %s", cfg.RedisAddr)
	default:
		res.Pending = session.NewMemoryPending(cfg.SessionTTL)
	}

	keySet, err := crypto.NewKeySet(cfg.SessionSecret)
	if err != nil {
		res.Close()
		return nil, fmt.Errorf("failed to initialize session key: %w", err)
	}
	if cfg.SessionSecret == "" {
		log.Println("No session secret configured, sessions will not survive a restart")
	}
	res.Sessions = session.NewManager(crypto.NewTokenService(keySet, cfg.BaseURL), cfg.SessionTTL, cfg.SecureCookies())

	res.Users = opts.Users
	if res.Users == nil {
		if res.Users, err = users.NewDemoDirectory(); err != nil {
			res.Close()
			return nil, fmt.Errorf("failed to create user directory: %w", err)
		}
	}

	res.Provider = provider.New(provider.Config{
		Engine:    res.Engine,
		Trust:     st,
		Pending:   res.Pending,
		Profiles:  res.Users,
		Allowlist: provider.NewAllowlist(cfg.TrustedDomains),
		IdentityURL: func(username string) string {
			return openid2.IdentityURL(cfg.BaseURL, username)
		},
	})
	if len(cfg.TrustedDomains) > 0 {
		log.Printf("Trusted relying parties: %v", cfg.TrustedDomains)
	}

	if cfg.LookingGlass {
		res.LookingGlass = lookingglass.NewEngine(cfg.CORSOrigins)
		log.Println("Looking Glass engine initialized")
	}

	openID, err := openid2.NewPlugin(openid2.Config{
		BaseURL:        cfg.BaseURL,
		Provider:       res.Provider,
		Sessions:       res.Sessions,
		Users:          res.Users,
		LookingGlass:   res.LookingGlass,
		ExtraEndpoints: cfg.ExtraEndpoints,
		Debug:          cfg.Debug,
	})
	if err != nil {
		res.Close()
		return nil, err
	}
	res.Registry = plugin.NewRegistry()
	if err := res.Registry.Register(openID); err != nil {
		res.Close()
		return nil, err
	}

	return res, nil
}

// Close releases the store and pending request connections
func (b *BootstrapResult) Close() error {
	var first error
	if closer, ok := b.Pending.(io.Closer); ok {
		first = closer.Close()
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
