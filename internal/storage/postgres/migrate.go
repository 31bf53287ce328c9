package postgres

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose хранит FS и диалект в глобальном состоянии.
var gooseMu sync.Mutex

func withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return fn()
}

// MigrateUp применяет все up-миграции.
func (s *Store) MigrateUp(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	return withGoose(func() error {
		if err := goose.UpContext(ctx, s.db, migrationsDir); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// MigrateDown откатывает последнюю применённую миграцию.
func (s *Store) MigrateDown(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	return withGoose(func() error {
		if err := goose.DownContext(ctx, s.db, migrationsDir); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return nil
	})
}

// MigrationVersion возвращает текущую версию схемы.
func (s *Store) MigrationVersion(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errStoreNotInitialized
	}
	var version int64
	err := withGoose(func() error {
		v, err := goose.GetDBVersionContext(ctx, s.db)
		if err != nil {
			return fmt.Errorf("migration version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}
