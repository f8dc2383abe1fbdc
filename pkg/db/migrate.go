package db

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationURL rewrites a postgres:// DSN to the scheme the pgx/v5 migrate
// driver registers.
func MigrationURL(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	for _, p := range []string{"postgres://", "postgresql://", "pgx5://"} {
		if strings.HasPrefix(dsn, p) {
			return "pgx5://" + strings.TrimPrefix(dsn, p), nil
		}
	}
	return "", fmt.Errorf("migrations need a URL-form DSN (postgres://...)")
}

// NewMigrator loads migrations from dir inside src.
func NewMigrator(dsn string, src fs.FS, dir string) (*migrate.Migrate, error) {
	url, err := MigrationURL(dsn)
	if err != nil {
		return nil, err
	}
	d, err := iofs.New(src, dir)
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", d, url)
}

// RunMigrations applies all pending up migrations.
func RunMigrations(dsn string, src fs.FS, dir string) error {
	m, err := NewMigrator(dsn, src, dir)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
