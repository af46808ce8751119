package history

import (
	"context"
	"fmt"
	"strings"
)

// New selects a backend. "auto" prefers postgres when DATABASE_URL is set,
// then sqlite when a path is set, and falls back to in-memory.
func New(ctx context.Context, driver, databaseURL, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "auto":
		if strings.TrimSpace(databaseURL) != "" {
			return NewPostgresStore(ctx, databaseURL)
		}
		if strings.TrimSpace(sqlitePath) != "" {
			return NewSQLiteStore(sqlitePath)
		}
		return NewMemoryStore(), nil
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if strings.TrimSpace(sqlitePath) == "" {
			sqlitePath = "echosoul.db"
		}
		return NewSQLiteStore(sqlitePath)
	case "postgres":
		if strings.TrimSpace(databaseURL) == "" {
			return nil, fmt.Errorf("postgres history driver requires DATABASE_URL")
		}
		return NewPostgresStore(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}
}
