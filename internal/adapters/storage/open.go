package storage

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/racebot/internal/ports"
)

// Open returns the storage backend named by driver.
func Open(ctx context.Context, driver, dsn string) (ports.Storage, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStorage(dsn)
	case "postgres":
		return NewPostgresStorage(ctx, dsn)
	default:
		return nil, fmt.Errorf("storage.Open: unknown driver %q", driver)
	}
}
