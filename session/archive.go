package session

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Archive persists committed transcript lines to Redis so a finished
// session can be reviewed afterwards (LRANGE transcript:<sessionId>).
// Redis is optional: when unreachable at startup the archive runs
// disabled and every operation is a no-op. Failures are logged, never
// fatal, and nothing here touches the realtime audio path.
type Archive struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// ArchiveEntry is one committed transcript line.
type ArchiveEntry struct {
	Role      string    `json:"role"` // "user" or "model"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewArchive connects to Redis at addr. An empty addr, or a Redis that
// does not answer a ping, yields a disabled archive.
func NewArchive(addr, password string, ttl time.Duration, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Archive{ttl: ttl, logger: logger}
	if addr == "" {
		return a
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		// Redis unavailable, continue without it.
		logger.Info("transcript archive disabled", zap.String("addr", addr), zap.Error(err))
		_ = rdb.Close()
		return a
	}

	a.rdb = rdb
	logger.Info("transcript archive enabled", zap.String("addr", addr))
	return a
}

// Enabled reports whether a Redis connection is live.
func (a *Archive) Enabled() bool {
	return a != nil && a.rdb != nil
}

// Append records one committed chat message under the session's
// transcript key. Best effort.
func (a *Archive) Append(ctx context.Context, sessionID string, entry ArchiveEntry) {
	if !a.Enabled() || sessionID == "" {
		return
	}

	payload, err := sonic.Marshal(entry)
	if err != nil {
		a.logger.Warn("archive marshal failed", zap.Error(err))
		return
	}

	key := "transcript:" + sessionID
	pipe := a.rdb.Pipeline()
	pipe.RPush(ctx, key, payload)
	if a.ttl > 0 {
		pipe.Expire(ctx, key, a.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		a.logger.Warn("archive append failed", zap.String("session", sessionID), zap.Error(err))
	}
}

// Close releases the Redis connection.
func (a *Archive) Close() {
	if a.Enabled() {
		_ = a.rdb.Close()
		a.rdb = nil
	}
}
