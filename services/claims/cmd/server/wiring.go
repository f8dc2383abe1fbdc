package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/accordsai/claimlane/pkg/authn"
	"github.com/accordsai/claimlane/pkg/config"
	"github.com/accordsai/claimlane/pkg/db"
	"github.com/accordsai/claimlane/services/claims/internal/api"
	"github.com/accordsai/claimlane/services/claims/internal/attestation"
	"github.com/accordsai/claimlane/services/claims/internal/claims"
	"github.com/accordsai/claimlane/services/claims/internal/idempotency"
	"github.com/accordsai/claimlane/services/claims/internal/payoutclient"
	pgstore "github.com/accordsai/claimlane/services/claims/internal/store"
)

type service struct {
	Engine  *claims.Engine
	Handler http.Handler
	close   func()
}

func (s *service) Close() {
	if s.close != nil {
		s.close()
	}
}

func genesisFromConfig(cfg config.Config) (claims.Genesis, error) {
	balance, err := claims.ParseAmount(strings.TrimSpace(cfg.Genesis.InitialBalance))
	if err != nil {
		return claims.Genesis{}, fmt.Errorf("genesis.initial_balance: %w", err)
	}
	ids := func(in []string) []claims.Identity {
		out := make([]claims.Identity, 0, len(in))
		for _, s := range in {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, claims.Identity(s))
			}
		}
		return out
	}
	g := claims.Genesis{
		Owner:                claims.Identity(strings.TrimSpace(cfg.Governance.Owner)),
		LiquidationThreshold: cfg.Genesis.Threshold,
		FeePercentage:        cfg.Genesis.Fee,
		QuorumSize:           cfg.Genesis.Quorum,
		InitialBalance:       balance,
		Whitelist:            ids(cfg.Genesis.Whitelist),
		Blacklist:            ids(cfg.Genesis.Blacklist),
		Validators:           ids(cfg.Genesis.Validators),
	}
	return g, g.Validate()
}

// build assembles storage, the engine and the HTTP handler for cfg and
// bootstraps an empty store from the configured genesis.
func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*service, error) {
	genesis, err := genesisFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	hashes, err := cfg.Auth.TokenHashes()
	if err != nil {
		return nil, err
	}
	credentials := []authn.CredentialStore{authn.StaticCredentials(hashes)}

	var (
		store    claims.Store
		idem     idempotency.Store
		receipts attestation.ReceiptStore
		revoker  api.CredentialRevoker
		closeFn  func()
	)
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Database.MigrateOnStart {
			if err := pgstore.Migrate(cfg.Database.URL); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pool, err := db.Connect(ctx, db.Options{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns, MinConns: cfg.Database.MinConns})
		if err != nil {
			return nil, err
		}
		pg := pgstore.New(pool)
		store, idem, receipts, closeFn = pg, pg, pg, pool.Close
		credentials = append(credentials, pg)
		revoker = pg
	default:
		store = claims.NewMemoryStore()
		idem = idempotency.NewMemoryStore(0)
		receipts = attestation.NewMemoryReceipts(4 * cfg.Attestation.MaxSkew)
	}

	var transferer claims.Transferer = claims.BookEntry
	if cfg.Payout.BaseURL != "" {
		transferer = payoutclient.New(cfg.Payout.BaseURL, cfg.Payout.Token, cfg.Payout.Timeout)
	}
	engine := claims.New(store, claims.WithLogger(log), claims.WithTransferer(transferer))
	created, err := engine.Bootstrap(ctx, genesis)
	if err != nil {
		if closeFn != nil {
			closeFn()
		}
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	if !created {
		log.Info("store already initialized; genesis config ignored")
	}

	var ingress *attestation.Ingress
	if cfg.Attestation.Secret != "" {
		ingress = attestation.NewIngress(attestation.Config{
			Secret:    cfg.Attestation.Secret,
			Validator: claims.Identity(cfg.Attestation.Validator),
			MaxSkew:   cfg.Attestation.MaxSkew,
		}, receipts, engine.Verification, log)
	}

	h := api.New(api.Options{
		Engine:       engine,
		Auth:         authn.NewAuthenticator(cfg.Auth.CacheTTL, credentials...),
		Idempotency:  idem,
		Attestations: ingress,
		Revoker:      revoker,
		Limiter:      api.NewLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		Logger:       log,
	})
	return &service{Engine: engine, Handler: h.Routes(), close: closeFn}, nil
}
