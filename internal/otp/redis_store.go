package otp

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"shetmall-auth/internal/auth"
)

const (
	keyPrefix          = "otp"
	defaultMaxAttempts = 5
	maxTxRetries       = 4
)

// RedisStore keeps sha256(code) per email in a hash with the code's TTL.
// A code is deleted on first successful use or after too many wrong guesses.
type RedisStore struct {
	client      *redis.Client
	maxAttempts int
}

func NewRedisStore(client *redis.Client, maxAttempts int) *RedisStore {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &RedisStore{client: client, maxAttempts: maxAttempts}
}

func (s *RedisStore) key(email string) string {
	return keyPrefix + ":" + email
}

func (s *RedisStore) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	key := s.key(email)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "hash", digest(code), "attempts", 0)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: save otp: %v", auth.ErrDependencyUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, email, code string) error {
	key := s.key(email)
	provided := digest(code)

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			stored, ok := fields["hash"]
			if !ok {
				return ErrCodeNotFound
			}

			if subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) != 1 {
				attempts, _ := strconv.Atoi(fields["attempts"])
				attempts++
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					if attempts >= s.maxAttempts {
						pipe.Del(ctx, key)
					} else {
						pipe.HIncrBy(ctx, key, "attempts", 1)
					}
					return nil
				})
				if err != nil {
					return err
				}
				return ErrCodeMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrCodeNotFound) || errors.Is(err, ErrCodeMismatch) {
				return err
			}
			return fmt.Errorf("%w: consume otp: %v", auth.ErrDependencyUnavailable, err)
		}
		return nil
	}

	return ErrCodeNotFound
}

func digest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
