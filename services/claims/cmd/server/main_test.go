package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/accordsai/claimlane/pkg/authn"
	"github.com/accordsai/claimlane/pkg/config"
	"github.com/accordsai/claimlane/services/claims/internal/claims"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CLAIMLANE_CONFIG", "")
	t.Setenv("CLAIMLANE_STORAGE_DRIVER", "memory")
	t.Setenv("CLAIMLANE_GOVERNANCE_OWNER", "gov")
	t.Setenv("CLAIMLANE_GENESIS_INITIAL_BALANCE", "1000")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Genesis.Whitelist = []string{"alice", " "}
	cfg.Genesis.Validators = []string{"val-1"}
	cfg.Auth.Tokens = []string{"alice:" + authn.HashToken("tok-alice")}
	return cfg
}

func TestGenesisFromConfig(t *testing.T) {
	cfg := testConfig(t)
	g, err := genesisFromConfig(cfg)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if g.Owner != "gov" || g.LiquidationThreshold != 80 || g.FeePercentage != 5 || g.InitialBalance.String() != "1000" {
		t.Fatalf("unexpected genesis: %+v", g)
	}
	if len(g.Whitelist) != 1 || g.Whitelist[0] != "alice" {
		t.Fatalf("blank identities should be dropped: %v", g.Whitelist)
	}

	cfg.Genesis.InitialBalance = "-1"
	if _, err := genesisFromConfig(cfg); err == nil {
		t.Fatalf("expected error for negative balance")
	}
	cfg.Genesis.InitialBalance = "0"
	cfg.Genesis.Threshold = 100
	if _, err := genesisFromConfig(cfg); err == nil {
		t.Fatalf("expected error for threshold 100")
	}
}

func TestBuildMemoryService(t *testing.T) {
	cfg := testConfig(t)
	svc, err := build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer svc.Close()

	bal, err := svc.Engine.Ledger.Balance(context.Background())
	if err != nil || bal.String() != "1000" {
		t.Fatalf("unexpected balance %v %v", bal, err)
	}
	ok, err := svc.Engine.Policy.IsAuthorizedValidator(context.Background(), claims.Identity("val-1"))
	if err != nil || !ok {
		t.Fatalf("expected val-1 to be a validator")
	}

	req := httptest.NewRequest("POST", "/claims/v1/claims", strings.NewReader(`{"claim_id":"c-1","principal":"1000","leverage":90,"insurance_rate":50}`))
	req.Header.Set("Authorization", "Bearer tok-alice")
	rec := httptest.NewRecorder()
	svc.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	svc.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/claims/v1/attestations", strings.NewReader("{}")))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("attestations should be disabled without a secret, got %d", rec.Code)
	}
}
