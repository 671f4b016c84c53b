package ledger

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrateLogger routes golang-migrate output to zap.
type migrateLogger struct {
	log     *zap.SugaredLogger
	verbose bool
}

var _ migrate.Logger = (*migrateLogger)(nil)

func (l *migrateLogger) Printf(format string, v ...interface{}) { l.log.Infof(format, v...) }

func (l *migrateLogger) Verbose() bool { return l.verbose }

func newMigrate(databaseURL string, log *zap.Logger) (*migrate.Migrate, error) {
	if databaseURL == "" {
		return nil, errors.New("ledger: database url is required")
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("ledger: open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: create migrate instance: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	m.Log = &migrateLogger{log: log.Named("migrate").Sugar()}
	return m, nil
}

// MigrateUp applies all pending schema migrations. A schema already at the
// latest version is not an error.
func MigrateUp(databaseURL string, log *zap.Logger) error {
	return runMigration(databaseURL, log, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown reverts steps migrations, or every migration when steps <= 0.
func MigrateDown(databaseURL string, steps int, log *zap.Logger) error {
	return runMigration(databaseURL, log, func(m *migrate.Migrate) error {
		if steps <= 0 {
			return m.Down()
		}
		return m.Steps(-steps)
	})
}

func runMigration(databaseURL string, log *zap.Logger, apply func(*migrate.Migrate) error) error {
	m, err := newMigrate(databaseURL, log)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := apply(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.Log.Printf("migrations already up-to-date")
			return nil
		}
		return fmt.Errorf("ledger: apply migrations: %w", err)
	}
	return nil
}
