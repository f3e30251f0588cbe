package bootstrap

import (
	"context"
	"log/slog"

	"github.com/otic-labs/vision-backend/internal/bank"
	"github.com/otic-labs/vision-backend/internal/recognition"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideBankStore(db *gorm.DB, qdrantClient *qdrant.Client, cfg *Config, logger *slog.Logger) *bank.Store {
	return bank.NewStore(db, qdrantClient, cfg.ClusterCount, logger)
}

// ProvideBank wraps the persistent store in the retry policy every remote
// bank access goes through.
func ProvideBank(store *bank.Store, cfg *Config) bank.Bank {
	return bank.WithRetry(store, bank.RetryConfig{
		MaxAttempts: uint64(cfg.BankRetryAttempts),
		BaseDelay:   cfg.BankRetryBaseDelay,
	})
}

func ProvideFrameStore(redisClient *redis.Client, cfg *Config) *recognition.FrameStore {
	return recognition.NewFrameStore(redisClient, cfg.FrameTTL)
}

func ProvideSessionStore(redisClient *redis.Client) *recognition.SessionStore {
	return recognition.NewSessionStore(redisClient)
}

func RunMigrations(store *bank.Store) error {
	if err := store.Migrate(); err != nil {
		return err
	}
	return store.EnsureCollection(context.Background())
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideBankStore,
		ProvideBank,
		ProvideFrameStore,
		ProvideSessionStore,
	),
	fx.Invoke(RunMigrations),
)
