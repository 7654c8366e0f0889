// Package service implements the faucet core: challenge issuance, claim
// validation, reward calculation and payout dispatch.
package service

import (
	"context"
	"time"

	"faucet-backend/internal/common/logger"
	"faucet-backend/internal/features/faucet/models"
	"faucet-backend/internal/features/faucet/repository"
	"faucet-backend/internal/metrics"
)

// Ledger is the external payment collaborator. Implementations submit
// transfers in the ledger's smallest unit and report connectivity.
type Ledger interface {
	Established(ctx context.Context) bool
	SpendableBalance(ctx context.Context) (float64, error)
	SubmitTransfer(ctx context.Context, recipient string, nanos int64) (string, error)
	ValidateAddressSyntax(addr string) bool
	NormalizeAddress(addr string) (string, error)
}

// GeoLookup enriches records with a coarse location tag. It must never
// fail a request; unknown locations come back as placeholders.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) string
}

// Policy carries the quota, cooldown and reward knobs.
type Policy struct {
	DailyClaimCap  int
	DailyAmountCap float64
	Cooldown       time.Duration
	MinLevel       int
	MaxLevel       int
	FlatReward     bool
	LedgerTimeout  time.Duration
	DenyIPs        []string
	DenyAddresses  []string
}

type Service struct {
	repo      repository.Repository
	ledger    Ledger
	geo       GeoLookup
	policy    Policy
	rewards   Calculator
	metrics   *metrics.Metrics
	denyIPs   map[string]struct{}
	denyAddrs map[string]struct{}
	now       func() time.Time
}

func New(repo repository.Repository, ledger Ledger, geo GeoLookup, policy Policy, m *metrics.Metrics) *Service {
	s := &Service{
		repo:      repo,
		ledger:    ledger,
		geo:       geo,
		policy:    policy,
		rewards:   Calculator{Flat: policy.FlatReward},
		metrics:   m,
		denyIPs:   make(map[string]struct{}, len(policy.DenyIPs)),
		denyAddrs: make(map[string]struct{}, len(policy.DenyAddresses)),
		now:       time.Now,
	}
	for _, ip := range policy.DenyIPs {
		if ip != "" {
			s.denyIPs[ip] = struct{}{}
		}
	}
	for _, addr := range policy.DenyAddresses {
		if addr == "" {
			continue
		}
		// Deny entries are matched in the ledger's canonical form when
		// they parse as addresses, verbatim otherwise.
		if canonical, err := ledger.NormalizeAddress(addr); err == nil {
			s.denyAddrs[canonical] = struct{}{}
		} else {
			s.denyAddrs[addr] = struct{}{}
		}
	}
	return s
}

// TopRecipients returns the public leaderboard.
func (s *Service) TopRecipients(ctx context.Context) ([]models.RankRow, error) {
	return s.repo.TopRecipients(ctx, 8)
}

func (s *Service) ipDenied(ip string) bool {
	_, ok := s.denyIPs[ip]
	return ok
}

func (s *Service) addressDenied(canonical string) bool {
	_, ok := s.denyAddrs[canonical]
	return ok
}

// dayKey buckets records by server-local calendar day, MM/DD/YYYY.
func dayKey(t time.Time) string {
	return t.Format("01/02/2006")
}

// audit records a rejection or abuse signal for operator diagnosis. The
// caller still answers the client with the uniform opaque response.
func (s *Service) audit(ctx context.Context, recipient string, reason Reason, message string, params map[string]interface{}) {
	if params == nil {
		params = map[string]interface{}{}
	}
	params["reason"] = string(reason)

	s.metrics.RejectionsTotal.WithLabelValues(string(reason)).Inc()
	logger.Warn().
		Str("recipient", recipient).
		Str("reason", string(reason)).
		Fields(params).
		Msg(message)

	entry := &models.AuditEntry{
		Recipient: recipient,
		Message:   message,
		Params:    params,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertAudit(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("failed to write audit entry")
	}
}
