package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quantumchat/models"
	"quantumchat/utils"
)

var ErrInvalidResetToken = errors.New("invalid or expired reset token")

// ResetTokens issues and redeems single-use password reset tokens.
type ResetTokens interface {
	Issue(ctx context.Context, email string) (string, error)
	Consume(ctx context.Context, email, token string) error
}

// NewResetTokens stores tokens in Redis when available and in the
// database otherwise.
func NewResetTokens(rdb *redis.Client, db *gorm.DB, ttl time.Duration) ResetTokens {
	if rdb != nil {
		return &redisResetTokens{rdb: rdb, ttl: ttl}
	}
	return &dbResetTokens{db: db, ttl: ttl}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sameHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type redisResetTokens struct {
	rdb *redis.Client
	ttl time.Duration
}

func resetKey(email string) string { return "reset:" + normalizeEmail(email) }

func (r *redisResetTokens) Issue(ctx context.Context, email string) (string, error) {
	token, hash, err := utils.GenerateRandomToken()
	if err != nil {
		return "", err
	}
	if err := r.rdb.Set(ctx, resetKey(email), hash, r.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (r *redisResetTokens) Consume(ctx context.Context, email, token string) error {
	stored, err := r.rdb.GetDel(ctx, resetKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return err
	}
	if !sameHash(stored, utils.HashToken(token)) {
		return ErrInvalidResetToken
	}
	return nil
}

type dbResetTokens struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func (d *dbResetTokens) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func (d *dbResetTokens) Issue(ctx context.Context, email string) (string, error) {
	token, hash, err := utils.GenerateRandomToken()
	if err != nil {
		return "", err
	}
	row := models.PasswordReset{
		Email:     normalizeEmail(email),
		TokenHash: hash,
		ExpiresAt: d.clock().Add(d.ttl),
	}
	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_hash", "expires_at"}),
	}).Create(&row).Error
	if err != nil {
		return "", err
	}
	return token, nil
}

func (d *dbResetTokens) Consume(ctx context.Context, email, token string) error {
	db := d.db.WithContext(ctx)

	var row models.PasswordReset
	if err := db.Where("email = ?", normalizeEmail(email)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if d.clock().After(row.ExpiresAt) {
		db.Delete(&row)
		return ErrInvalidResetToken
	}
	if !sameHash(row.TokenHash, utils.HashToken(token)) {
		return ErrInvalidResetToken
	}
	// RowsAffected guards against two concurrent redemptions
	res := db.Where("id = ? AND token_hash = ?", row.ID, row.TokenHash).Delete(&models.PasswordReset{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidResetToken
	}
	return nil
}
