package urltable

import (
	"context"
	"fmt"

	"github.com/mirrorctl/mirrorctl/internal/config"
)

// Open selects and opens the backend named by cfg.Backend.
func Open(ctx context.Context, cfg *config.URLTableConfig) (Table, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryTable(), nil
	case "sqlite":
		return OpenSQLite(cfg.DSN)
	case "mongo":
		return OpenMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
	default:
		return nil, fmt.Errorf("unknown url table backend %q", cfg.Backend)
	}
}
