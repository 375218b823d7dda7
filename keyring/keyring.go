// Package keyring persists the tokens and Sync keys of signed-in accounts,
// keyed by email address.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ahyattdev/fxa-sync-client/database"
	"github.com/ahyattdev/fxa-sync-client/synccrypto"
)

// ErrNotFound is returned when no secrets are stored for an email.
var ErrNotFound = errors.New("keyring: account not found")

// Session is what a successful login leaves behind. Tokens are hex.
type Session struct {
	UID           string
	SessionToken  string
	KeyFetchToken string
	Verified      bool
}

// Store is the keyring collaborator used by the sync service.
type Store interface {
	SaveSession(ctx context.Context, email string, s Session) error
	LoadSession(ctx context.Context, email string) (*Session, error)
	// ConsumeKeyFetchToken returns the stored keyFetchToken and clears it.
	ConsumeKeyFetchToken(ctx context.Context, email string) (string, error)
	SaveSyncKeys(ctx context.Context, email string, keys *synccrypto.SyncKeys) error
	LoadSyncKeys(ctx context.Context, email string) (*synccrypto.SyncKeys, error)
	Forget(ctx context.Context, email string) error
	List(ctx context.Context) ([]string, error)
}

// GormStore is a Store backed by the database package's Account table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store over db. db must have been migrated with
// database.Connect.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) SaveSession(ctx context.Context, email string, s Session) error {
	account := database.Account{
		Email:         email,
		UID:           s.UID,
		SessionToken:  s.SessionToken,
		KeyFetchToken: s.KeyFetchToken,
		Verified:      s.Verified,
	}
	if s.KeyFetchToken != "" {
		now := time.Now()
		account.KeyFetchIssuedAt = &now
	}

	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"uid", "session_token", "key_fetch_token", "key_fetch_issued_at", "verified", "updated_at"}),
	}).Create(&account).Error
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (g *GormStore) LoadSession(ctx context.Context, email string) (*Session, error) {
	account, err := g.load(ctx, g.db, email)
	if err != nil {
		return nil, err
	}
	return &Session{
		UID:           account.UID,
		SessionToken:  account.SessionToken,
		KeyFetchToken: account.KeyFetchToken,
		Verified:      account.Verified,
	}, nil
}

func (g *GormStore) ConsumeKeyFetchToken(ctx context.Context, email string) (string, error) {
	var token string
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := g.load(ctx, tx, email)
		if err != nil {
			return err
		}
		if account.KeyFetchToken == "" {
			return fmt.Errorf("no keyFetchToken for %s: %w", email, ErrNotFound)
		}
		token = account.KeyFetchToken
		return tx.Model(&database.Account{}).Where("email = ?", email).
			Updates(map[string]any{"key_fetch_token": "", "key_fetch_issued_at": nil}).Error
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (g *GormStore) SaveSyncKeys(ctx context.Context, email string, keys *synccrypto.SyncKeys) error {
	if len(keys.KA) != synccrypto.TokenLength {
		return &synccrypto.LengthError{What: "kA", Want: synccrypto.TokenLength, Got: len(keys.KA)}
	}
	if len(keys.KB) != synccrypto.TokenLength {
		return &synccrypto.LengthError{What: "kB", Want: synccrypto.TokenLength, Got: len(keys.KB)}
	}

	result := g.db.WithContext(ctx).Model(&database.Account{}).Where("email = ?", email).
		Updates(map[string]any{
			"ka": synccrypto.HexEncode(keys.KA),
			"kb": synccrypto.HexEncode(keys.KB),
		})
	if result.Error != nil {
		return fmt.Errorf("save sync keys: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) LoadSyncKeys(ctx context.Context, email string) (*synccrypto.SyncKeys, error) {
	account, err := g.load(ctx, g.db, email)
	if err != nil {
		return nil, err
	}
	if account.KA == "" || account.KB == "" {
		return nil, fmt.Errorf("no sync keys for %s: %w", email, ErrNotFound)
	}

	kA, err := synccrypto.DecodeToken("kA", account.KA, synccrypto.TokenLength)
	if err != nil {
		return nil, err
	}
	kB, err := synccrypto.DecodeToken("kB", account.KB, synccrypto.TokenLength)
	if err != nil {
		return nil, err
	}
	return &synccrypto.SyncKeys{KA: kA, KB: kB}, nil
}

func (g *GormStore) Forget(ctx context.Context, email string) error {
	result := g.db.WithContext(ctx).Where("email = ?", email).Delete(&database.Account{})
	if result.Error != nil {
		return fmt.Errorf("forget account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) List(ctx context.Context) ([]string, error) {
	var emails []string
	if err := g.db.WithContext(ctx).Model(&database.Account{}).Order("email").Pluck("email", &emails).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return emails, nil
}

func (g *GormStore) load(ctx context.Context, db *gorm.DB, email string) (*database.Account, error) {
	var account database.Account
	if err := db.WithContext(ctx).Where("email = ?", email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &account, nil
}
