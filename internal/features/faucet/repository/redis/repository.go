package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"faucet-backend/internal/features/faucet/models"
	"faucet-backend/internal/features/faucet/repository"
	redisp "faucet-backend/internal/platform/redis"
)

const (
	keyPrefixClaim  = "faucet:claim:"
	keyPrefixPayout = "faucet:payout:"
	streamPayouts   = "faucet:payouts"
	streamAudit     = "faucet:audit"
	keyRankAmount   = "faucet:rank:amount"
	keyRankLevel    = "faucet:rank:level"
)

type Repository struct {
	client *redisp.Client
}

func NewRepository(client *redisp.Client) repository.Repository {
	return &Repository{client: client}
}

func claimKey(recipient, day string) string {
	return keyPrefixClaim + day + ":" + recipient
}

func (r *Repository) FindClaim(ctx context.Context, recipient, day string) (*models.ClaimRecord, error) {
	data, err := r.client.Get(ctx, claimKey(recipient, day)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim record: %w", err)
	}

	var rec models.ClaimRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claim record: %w", err)
	}
	return &rec, nil
}

func (r *Repository) UpsertClaim(ctx context.Context, rec *models.ClaimRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal claim record: %w", err)
	}
	// Records are audit history, they carry no expiration.
	return r.client.Set(ctx, claimKey(rec.Recipient, rec.Date), data, 0).Err()
}

// ConsumeSecret clears the outstanding secret under WATCH so that two
// concurrent redemptions of the same challenge cannot both proceed: the
// transaction of the loser fails and surfaces as ErrSecretConflict.
func (r *Repository) ConsumeSecret(ctx context.Context, recipient, day, secret string) (*models.ClaimRecord, error) {
	var out *models.ClaimRecord
	key := claimKey(recipient, day)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return repository.ErrSecretConflict
		}
		if err != nil {
			return err
		}

		var rec models.ClaimRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.Hash == "" || rec.Hash != secret {
			return repository.ErrSecretConflict
		}

		out = &rec
		updated := rec
		updated.Hash = ""
		raw, err := json.Marshal(&updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, repository.ErrSecretConflict
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RestoreSecret reinstates a consumed secret after a failed dispatch.
// A record that meanwhile received a fresh secret is left untouched.
func (r *Repository) RestoreSecret(ctx context.Context, recipient, day, secret string) error {
	key := claimKey(recipient, day)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var rec models.ClaimRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.Hash != "" {
			return nil
		}
		rec.Hash = secret
		raw, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return repository.ErrSecretConflict
	}
	return err
}

func (r *Repository) SettleClaim(ctx context.Context, recipient, day string, reward float64, level int, now time.Time) (*models.ClaimRecord, error) {
	var out *models.ClaimRecord
	key := claimKey(recipient, day)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var rec models.ClaimRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}

		rec.Times++
		rec.Amount += reward
		if level > rec.MaxLevel {
			rec.MaxLevel = level
		}
		rec.LastRequestAt = now
		raw, err := json.Marshal(&rec)
		if err != nil {
			return err
		}

		bestLevel, err := tx.HGet(ctx, keyRankLevel, recipient).Int()
		if err != nil && err != redis.Nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.ZIncrBy(ctx, keyRankAmount, reward, recipient)
			if level > bestLevel {
				pipe.HSet(ctx, keyRankLevel, recipient, level)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = &rec
		return nil
	}, key)

	if err != nil {
		return nil, fmt.Errorf("failed to settle claim: %w", err)
	}
	return out, nil
}

func (r *Repository) InsertPayout(ctx context.Context, rec *models.PayoutRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal payout record: %w", err)
	}

	key := keyPrefixPayout + uuid.New().String()
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store payout record: %w", err)
	}

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPayouts,
		Values: map[string]interface{}{
			"recipient": rec.Recipient,
			"hash_tx":   rec.HashTx,
			"reward":    rec.Reward,
			"nanos":     rec.Nanos,
			"level":     rec.Level,
		},
	}).Err()
}

func (r *Repository) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	params, err := json.Marshal(entry.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal audit params: %w", err)
	}

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamAudit,
		Values: map[string]interface{}{
			"recipient":  entry.Recipient,
			"message":    entry.Message,
			"params":     params,
			"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Err()
}

func (r *Repository) TopRecipients(ctx context.Context, n int64) ([]models.RankRow, error) {
	members, err := r.client.ZRevRangeWithScores(ctx, keyRankAmount, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	rows := make([]models.RankRow, 0, len(members))
	for _, m := range members {
		recipient, _ := m.Member.(string)
		level, err := r.client.HGet(ctx, keyRankLevel, recipient).Int()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to read leaderboard level: %w", err)
		}
		rows = append(rows, models.RankRow{Recipient: recipient, Amount: m.Score, Level: level})
	}
	return rows, nil
}
