package cmd

import (
	"context"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core/store"
)

// openStore opens the local store and brings its schema up to date.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
