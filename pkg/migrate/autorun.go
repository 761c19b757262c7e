package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/logger"
)

// MaybeRunDev applies the embedded schema on boot in dev when
// SUBSYNC_AUTO_MIGRATE is set. Other environments run cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.Flags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "event", "migrate.autorun")
	if err := Run(ctx, sqlDB, nil, "up", logg); err != nil {
		return err
	}
	logg.Info(ctx, "dev schema up to date")
	return nil
}
