package bootstrap

import (
	"context"

	"github.com/flowyoga/coach-backend/internal/catalog"
	"github.com/flowyoga/coach-backend/internal/progress"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideCatalogStore(db *gorm.DB) *catalog.Store {
	return catalog.NewStore(db)
}

func ProvideProgressStore(redisClient *redis.Client) *progress.Store {
	return progress.NewStore(redisClient)
}

func RunMigrations(catalogStore *catalog.Store) error {
	if err := catalogStore.Migrate(); err != nil {
		return err
	}
	return catalogStore.Seed(context.Background())
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideCatalogStore,
		ProvideProgressStore,
	),
	fx.Invoke(RunMigrations),
)
