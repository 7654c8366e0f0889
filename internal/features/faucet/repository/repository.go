package repository

import (
	"context"
	"errors"
	"time"

	"faucet-backend/internal/features/faucet/models"
)

// ErrSecretConflict is returned by ConsumeSecret when the stored secret
// does not match the presented one, or when a concurrent redemption won
// the race for the same record.
var ErrSecretConflict = errors.New("challenge secret conflict")

// Repository is the persistence boundary of the faucet core. Claim
// records are keyed by (recipient, day); payout records and audit
// entries are append-only.
type Repository interface {
	// FindClaim returns nil, nil when no record exists for the key.
	FindClaim(ctx context.Context, recipient, day string) (*models.ClaimRecord, error)
	UpsertClaim(ctx context.Context, rec *models.ClaimRecord) error

	// ConsumeSecret atomically clears the record's challenge secret if
	// and only if it still equals secret. Exactly one of N concurrent
	// callers for the same secret succeeds; the rest get
	// ErrSecretConflict. Returns the record as read.
	ConsumeSecret(ctx context.Context, recipient, day, secret string) (*models.ClaimRecord, error)

	// RestoreSecret puts secret back on a record whose dispatch failed,
	// provided no new secret has been issued meanwhile.
	RestoreSecret(ctx context.Context, recipient, day, secret string) error

	// SettleClaim advances the counters after a successful payout:
	// increments the claim count, adds reward to the cumulative amount,
	// raises MaxLevel if improved and stamps LastRequestAt.
	SettleClaim(ctx context.Context, recipient, day string, reward float64, level int, now time.Time) (*models.ClaimRecord, error)

	InsertPayout(ctx context.Context, rec *models.PayoutRecord) error
	InsertAudit(ctx context.Context, entry *models.AuditEntry) error

	// TopRecipients returns the leaderboard, ordered by cumulative
	// awarded amount descending.
	TopRecipients(ctx context.Context, n int64) ([]models.RankRow, error)
}
