package service

import (
	"context"

	"faucet-backend/internal/common/logger"
	"faucet-backend/internal/features/faucet/models"
)

// dispatch submits the transfer through the ledger client and persists
// the payout record. It never touches claim records; the validator owns
// those transitions.
func (s *Service) dispatch(ctx context.Context, recipient string, amount float64, level int, ip, geo, secret string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.LedgerTimeout)
	defer cancel()

	if !s.ledger.Established(ctx) {
		s.audit(ctx, "", ReasonNoConsensus, "cannot send transaction, no consensus", nil)
		return "", reject(ReasonNoConsensus, "")
	}

	balance, err := s.ledger.SpendableBalance(ctx)
	if err != nil {
		s.metrics.LedgerErrorsTotal.Inc()
		s.audit(ctx, "", ReasonLedgerError, "failed to read wallet balance", map[string]interface{}{"error": err.Error()})
		return "", reject(ReasonLedgerError, "balance unavailable")
	}
	if balance <= 0 {
		s.audit(ctx, "", ReasonZeroBalance, "balance is zero", nil)
		return "", reject(ReasonZeroBalance, "")
	}

	nanos := Nanos(amount)
	txID, err := s.ledger.SubmitTransfer(ctx, recipient, nanos)
	if err != nil {
		s.metrics.LedgerErrorsTotal.Inc()
		s.audit(ctx, recipient, ReasonLedgerError, err.Error(), map[string]interface{}{
			"hash": secret, "level": level, "reward": amount, "ip": ip, "geo": geo,
		})
		return "", reject(ReasonLedgerError, "transfer failed")
	}

	payout := &models.PayoutRecord{
		IP:        ip,
		Geo:       geo,
		Hash:      secret,
		HashTx:    txID,
		Recipient: recipient,
		Reward:    amount,
		Nanos:     nanos,
		Level:     level,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertPayout(ctx, payout); err != nil {
		// The transfer is already on the ledger; losing the record is an
		// operator problem, not a caller one.
		logger.Error().Err(err).Str("tx", txID).Str("recipient", recipient).Msg("failed to persist payout record")
	}

	logger.Info().
		Str("recipient", recipient).
		Str("tx", txID).
		Float64("reward", amount).
		Int("level", level).
		Msg("payout dispatched")
	return txID, nil
}
