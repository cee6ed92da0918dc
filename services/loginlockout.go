package services

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockoutKeyPrefix  = "lockout:"
	lockoutTTL        = 25 * time.Hour // auto-cleanup
	failThreshold     = 3
	maxLockoutMinutes = 24 * 60 // 24h cap
)

// LoginLockout throttles repeated failed logins per email. A nil Redis
// client disables it.
type LoginLockout struct {
	rdb *redis.Client
	now func() time.Time
}

func NewLoginLockout(rdb *redis.Client) *LoginLockout {
	return &LoginLockout{rdb: rdb, now: time.Now}
}

// lockoutDuration returns the lockout duration based on cumulative fail count.
// Tier 1 (3 fails):  15 min
// Tier 2 (6 fails):  30 min
// Tier 3 (9 fails):  60 min
// ... doubles each tier, capped at 24h.
func lockoutDuration(failCount int) time.Duration {
	tier := failCount / failThreshold
	if tier <= 0 {
		return 0
	}
	if tier > 8 {
		tier = 8
	}
	minutes := 15 * (1 << (tier - 1))
	if minutes > maxLockoutMinutes {
		minutes = maxLockoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func lockoutKey(email string) string {
	return lockoutKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}

// IsLocked reports whether email is locked out and the seconds remaining.
func (lo *LoginLockout) IsLocked(ctx context.Context, email string) (bool, int) {
	if lo == nil || lo.rdb == nil {
		return false, 0
	}
	lockedUntil, err := lo.rdb.HGet(ctx, lockoutKey(email), "locked_until").Result()
	if err != nil {
		return false, 0
	}

	ts, err := strconv.ParseInt(lockedUntil, 10, 64)
	if err != nil {
		return false, 0
	}

	until := time.Unix(ts, 0)
	now := lo.now()
	if now.After(until) {
		return false, 0
	}
	return true, int(until.Sub(now).Seconds())
}

// RecordFailure increments the fail count and applies lockout if threshold reached.
func (lo *LoginLockout) RecordFailure(ctx context.Context, email string) {
	if lo == nil || lo.rdb == nil {
		return
	}
	key := lockoutKey(email)

	newCount, err := lo.rdb.HIncrBy(ctx, key, "fail_count", 1).Result()
	if err != nil {
		slog.Warn("lockout incr failed", "email", email, "error", err)
		return
	}
	if err := lo.rdb.Expire(ctx, key, lockoutTTL).Err(); err != nil {
		slog.Warn("lockout expire failed", "email", email, "error", err)
	}

	if newCount >= failThreshold && newCount%failThreshold == 0 {
		lockedUntil := lo.now().Add(lockoutDuration(int(newCount))).Unix()
		if err := lo.rdb.HSet(ctx, key, "locked_until", strconv.FormatInt(lockedUntil, 10)).Err(); err != nil {
			slog.Warn("lockout set failed", "email", email, "error", err)
		}
	}
}

// RecordSuccess resets the fail count.
func (lo *LoginLockout) RecordSuccess(ctx context.Context, email string) {
	if lo == nil || lo.rdb == nil {
		return
	}
	if err := lo.rdb.Del(ctx, lockoutKey(email)).Err(); err != nil {
		slog.Warn("lockout reset failed", "email", email, "error", err)
	}
}
