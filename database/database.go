package database

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// KeyFetchTokenTTL is how long an unused keyFetchToken is kept. The auth
// server expires them quickly and they are single use.
const KeyFetchTokenTTL = 10 * time.Minute

// Account holds the secrets kept for a signed-in Firefox Account. Tokens
// and keys are lowercase hex.
type Account struct {
	Email            string `gorm:"primaryKey"`
	UID              string `gorm:"column:uid;index"`
	SessionToken     string
	KeyFetchToken    string
	KeyFetchIssuedAt *time.Time
	KA               string `gorm:"column:ka"`
	KB               string `gorm:"column:kb"`
	Verified         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Connect opens the database named by uri and runs migrations. postgres://
// and postgresql:// URIs use Postgres; anything else is a SQLite DSN.
func Connect(uri string) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(uri), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Connected to database", "driver", db.Dialector.Name())

	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, err
	}

	slog.Info("Database migrations completed")
	return db, nil
}

func dialector(uri string) gorm.Dialector {
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		return postgres.Open(uri)
	}
	return sqlite.Open(uri)
}

// StartCleanup removes expired keyFetchTokens every interval until ctx is
// done.
func StartCleanup(ctx context.Context, db *gorm.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run once at startup
	Cleanup(ctx, db)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Cleanup(ctx, db)
		}
	}
}

// Cleanup clears keyFetchTokens issued more than KeyFetchTokenTTL ago and
// returns how many accounts were touched.
func Cleanup(ctx context.Context, db *gorm.DB) int64 {
	threshold := time.Now().Add(-KeyFetchTokenTTL)

	result := db.WithContext(ctx).Model(&Account{}).
		Where("key_fetch_issued_at < ?", threshold).
		Updates(map[string]any{"key_fetch_token": "", "key_fetch_issued_at": nil})
	if result.Error != nil {
		slog.Warn("Failed to clean up keyFetchTokens", "error", result.Error)
		return 0
	}
	if result.RowsAffected > 0 {
		slog.Info("Cleaned up expired keyFetchTokens", "count", result.RowsAffected)
	}
	return result.RowsAffected
}
