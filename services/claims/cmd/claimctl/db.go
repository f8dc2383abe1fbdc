package main

import (
	"errors"
	"strings"

	"github.com/accordsai/claimlane/pkg/authn"
	"github.com/accordsai/claimlane/pkg/db"
	pgstore "github.com/accordsai/claimlane/services/claims/internal/store"
	"github.com/golang-migrate/migrate/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (a *app) databaseURL() (string, error) {
	dsn := strings.TrimSpace(a.v.GetString("database_url"))
	if dsn == "" {
		return "", errors.New("--database-url or CLAIMLANE_DATABASE_URL is required")
	}
	return dsn, nil
}

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or roll back schema migrations"}

	withMigrator := func(fn func(m *migrate.Migrate) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			dsn, err := a.databaseURL()
			if err != nil {
				return err
			}
			m, err := pgstore.Migrator(dsn)
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m)
		}
	}
	report := func(m *migrate.Migrate) error {
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return a.print(map[string]any{"version": nil})
		}
		if err != nil {
			return err
		}
		return a.print(map[string]any{"version": v, "dirty": dirty})
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m *migrate.Migrate) error {
			if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return err
			}
			return report(m)
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(m *migrate.Migrate) error {
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return err
				}
				return report(m)
			}),
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE:  withMigrator(report),
		},
	)
	return cmd
}

// newToken returns a random bearer token.
func newToken() string {
	return "clt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (a *app) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Create and manage API bearer tokens"}

	cmd.AddCommand(&cobra.Command{
		Use:   "hash <token>",
		Short: "Print the sha256 hash used in auth.tokens entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(map[string]string{"token_hash": authn.HashToken(args[0])})
		},
	})

	withStore := func(fn func(cmd *cobra.Command, st *pgstore.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			dsn, err := a.databaseURL()
			if err != nil {
				return err
			}
			pool, err := db.Connect(cmd.Context(), db.Options{URL: dsn, MaxConns: 2, MinConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()
			return fn(cmd, pgstore.New(pool), args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "issue <identity>",
			Short: "Generate a token for identity and store its hash",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(cmd *cobra.Command, st *pgstore.Store, args []string) error {
				token := newToken()
				hash := authn.HashToken(token)
				if err := st.IssueCredential(cmd.Context(), args[0], hash); err != nil {
					return err
				}
				return a.print(map[string]string{"identity": args[0], "token": token, "token_hash": hash})
			}),
		},
		&cobra.Command{
			Use:   "revoke <token>",
			Short: "Revoke a stored token",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(cmd *cobra.Command, st *pgstore.Store, args []string) error {
				revoked, err := st.RevokeCredential(cmd.Context(), authn.HashToken(args[0]))
				if err != nil {
					return err
				}
				return a.print(map[string]bool{"revoked": revoked})
			}),
		},
	)
	return cmd
}
