package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix      = "stats:v1:"
	generationPrefix = "stats:gen:"
	cacheTimeout     = 2 * time.Second
	generationTTL    = 24 * time.Hour
)

var errStaleSummary = errors.New("stats: summary outdated")

func cacheKey(userID string) string {
	return cachePrefix + userID
}

func generationKey(userID string) string {
	return generationPrefix + userID
}

// cached returns the stored summary. Cache failures are logged and treated as
// a miss.
func (a *Aggregator) cached(ctx context.Context, userID string) (Summary, bool) {
	if a.cache == nil {
		return Summary{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	raw, err := a.cache.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			a.logger.Warn("stats cache lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		}
		return Summary{}, false
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		a.logger.Warn("stats cache entry unreadable", slog.String("user_id", userID), slog.Any("error", err))
		return Summary{}, false
	}
	return s, true
}

// generation reads the user's invalidation counter. ok is false when Redis
// cannot answer, in which case nothing should be cached.
func (a *Aggregator) generation(ctx context.Context, userID string) (int64, bool) {
	if a.cache == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	gen, err := a.cache.Get(ctx, generationKey(userID)).Int64()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		a.logger.Warn("stats generation lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		return 0, false
	}
}

// remember stores s unless the user's generation moved past gen. The check
// and the write run under WATCH so an Invalidate in between aborts the write.
func (a *Aggregator) remember(ctx context.Context, s Summary, gen int64) {
	if a.cache == nil {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		a.logger.Error("encode stats", slog.String("user_id", s.UserID), slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	genKey := generationKey(s.UserID)
	err = a.cache.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleSummary
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(s.UserID), payload, a.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleSummary), errors.Is(err, redis.TxFailedErr):
		a.logger.Debug("stats summary outdated before caching", slog.String("user_id", s.UserID))
	default:
		a.logger.Warn("stats cache write failed", slog.String("user_id", s.UserID), slog.Any("error", err))
	}
}

// Invalidate drops the cached summaries of userIDs and bumps their
// generation so summaries computed before the commit are never cached.
// Write services call it right after a commit that touches those users.
func (a *Aggregator) Invalidate(ctx context.Context, userIDs ...string) {
	if a.cache == nil || len(userIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
	defer cancel()
	_, err := a.cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Incr(ctx, generationKey(id))
			pipe.Expire(ctx, generationKey(id), generationTTL)
			pipe.Del(ctx, cacheKey(id))
		}
		return nil
	})
	if err != nil {
		a.logger.Warn("stats cache invalidation failed", slog.Any("user_ids", userIDs), slog.Any("error", err))
	}
}
