package shares

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/redis/go-redis/v9"
)

const redeemRetries = 5

// RedisRepository stores each token as a hash under "share:<token hash>".
// Keys carry no TTL.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository connects to redisURL and pings it.
func NewRedisRepository(ctx context.Context, redisURL string) (*RedisRepository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRepositoryWithClient(client), nil
}

func NewRedisRepositoryWithClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client, prefix: "share:"}
}

func (r *RedisRepository) key(tokenHash string) string {
	return r.prefix + tokenHash
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

var errTokenExists = errors.New("token exists")

// Create writes every field of the token in one MULTI/EXEC, so readers never
// see a partial hash.
func (r *RedisRepository) Create(ctx context.Context, tok *models.ShareToken) error {
	key := r.key(tok.TokenHash)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errTokenExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"document_id", tok.DocumentID,
				"created_at", dbx.Stamp(tok.CreatedAt),
				"expires_at", dbx.Stamp(tok.ExpiresAt),
				"access_count", tok.AccessCount,
			)
			return nil
		})
		return err
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		return fmt.Errorf("failed to create share token for document[%s]: %w", tok.DocumentID, err)
	}
	return nil
}

func parseToken(tokenHash string, vals map[string]string) (*models.ShareToken, error) {
	created, err := strconv.ParseInt(vals["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	expires, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}
	count, err := strconv.ParseInt(vals["access_count"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("access_count: %w", err)
	}
	return &models.ShareToken{
		TokenHash:   tokenHash,
		DocumentID:  vals["document_id"],
		CreatedAt:   dbx.Time(created),
		ExpiresAt:   dbx.Time(expires),
		AccessCount: count,
	}, nil
}

func (r *RedisRepository) Get(ctx context.Context, tokenHash string) (*models.ShareToken, error) {
	vals, err := r.client.HGetAll(ctx, r.key(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get share token: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	tok, err := parseToken(tokenHash, vals)
	if err != nil {
		return nil, fmt.Errorf("failed to decode share token: %w", err)
	}
	return tok, nil
}

// Redeem reads and increments under WATCH so a concurrent redeem of the same
// token retries instead of racing the expiry check.
func (r *RedisRepository) Redeem(ctx context.Context, tokenHash string, now time.Time) (*models.ShareToken, error) {
	key := r.key(tokenHash)
	var result *models.ShareToken

	txf := func(tx *redis.Tx) error {
		result = nil
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return nil
		}
		tok, err := parseToken(tokenHash, vals)
		if err != nil {
			return err
		}
		if !tok.Usable(now) {
			return nil
		}

		var incr *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.HIncrBy(ctx, key, "access_count", 1)
			return nil
		})
		if err != nil {
			return err
		}
		tok.AccessCount = incr.Val()
		result = tok
		return nil
	}

	for i := 0; i < redeemRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to redeem share token: %w", err)
		}
		return result, nil
	}
	return nil, fmt.Errorf("failed to redeem share token: %w", redis.TxFailedErr)
}
