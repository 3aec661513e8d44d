package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jmcleod/ironsession/config"
	"github.com/jmcleod/ironsession/crypto"
	"github.com/jmcleod/ironsession/issuer"
	"github.com/jmcleod/ironsession/keystore"
	"github.com/jmcleod/ironsession/session"
	"github.com/jmcleod/ironsession/storage"
	bboltstorage "github.com/jmcleod/ironsession/storage/bbolt"
	"github.com/jmcleod/ironsession/storage/memory"
	pgstorage "github.com/jmcleod/ironsession/storage/postgres"
	valkeystorage "github.com/jmcleod/ironsession/storage/valkey"
)

// sessionRuntime is everything a command needs to build session Managers.
type sessionRuntime struct {
	cfg      *config.Config
	repo     storage.Repository
	keys     *keystore.RepositoryStore
	identity session.IdentityResolver
	issuer   *issuer.Client
	close    func()
}

func openRuntime(ctx context.Context, cfg *config.Config) (*sessionRuntime, error) {
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &sessionRuntime{cfg: cfg, repo: repo, close: closeRepo}

	passphrase := os.Getenv(cfg.PassphraseEnv)
	if passphrase == "" {
		rt.Close()
		return nil, fmt.Errorf("set %s to the key store passphrase", cfg.PassphraseEnv)
	}
	params, err := keystore.KDFProfile(cfg.KDFProfile)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.keys, err = keystore.NewRepositoryStoreFromPassphrase(ctx, repo, passphrase, params, keystore.WithLogger(slog.Default()))
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Identity != "" {
		rt.identity = session.StaticIdentity(cfg.Identity)
	} else {
		rt.identity = session.NewDeviceIdentity(repo)
	}

	rt.issuer, err = issuer.NewClient(cfg.IssuerURL, &http.Client{Timeout: cfg.IssuerTimeout})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, func(), error) {
	switch cfg.Backend {
	case config.BackendBBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "session.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case config.BackendPostgres:
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case config.BackendValkey:
		repo, err := valkeystorage.NewRepositoryFromAddr(cfg.ValkeyAddrs(), cfg.ValkeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case config.BackendMemory:
		return memory.NewRepository(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// manager returns the Manager for the named policy.
func (rt *sessionRuntime) manager(policyName string) (*session.Manager, error) {
	var p session.Policy
	switch policyName {
	case session.PrimaryPolicy.Name:
		p = rt.cfg.PrimaryPolicy()
	case session.ServicePolicy.Name:
		p = rt.cfg.ServicePolicy()
	default:
		return nil, fmt.Errorf("unknown policy %q (want %s or %s)", policyName, session.PrimaryPolicy.Name, session.ServicePolicy.Name)
	}
	return session.NewManager(
		session.NewRepositoryStore(rt.repo, p.Namespace()),
		rt.keys,
		crypto.NewCipher(),
		rt.issuer,
		session.WithPolicy(p),
		session.WithIdentity(rt.identity),
		session.WithLogger(slog.Default()),
	)
}

func (rt *sessionRuntime) Close() {
	if rt.keys != nil {
		rt.keys.Lock()
	}
	if rt.close != nil {
		rt.close()
	}
}

func policyNames() []string {
	return []string{session.PrimaryPolicy.Name, session.ServicePolicy.Name}
}
