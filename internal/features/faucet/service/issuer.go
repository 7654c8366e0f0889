package service

import (
	"context"
	"fmt"

	"faucet-backend/internal/features/faucet/codec"
	"faucet-backend/internal/features/faucet/models"
)

// Issue creates or recovers the claim record for (recipient, today) and
// returns the encoded challenge token. Re-issuing while a challenge is
// outstanding returns the same token; deny-listed recipients receive a
// decoy token with no record written, so both outcomes look identical
// on the wire.
func (s *Service) Issue(ctx context.Context, recipient, ip string) (string, error) {
	if ip == "" || s.ipDenied(ip) {
		s.audit(ctx, recipient, ReasonIPDenied, "challenge request from denied ip", map[string]interface{}{"ip": ip})
		return "", reject(ReasonIPDenied, ip)
	}
	if recipient == "" || !s.ledger.ValidateAddressSyntax(recipient) {
		s.audit(ctx, recipient, ReasonAddressInvalid, "challenge request for invalid address", map[string]interface{}{"ip": ip})
		return "", reject(ReasonAddressInvalid, recipient)
	}
	canonical, err := s.ledger.NormalizeAddress(recipient)
	if err != nil {
		s.audit(ctx, recipient, ReasonAddressInvalid, "challenge request for invalid address", map[string]interface{}{"ip": ip})
		return "", reject(ReasonAddressInvalid, recipient)
	}

	if s.addressDenied(canonical) {
		secret, err := generateSecret()
		if err != nil {
			return "", fmt.Errorf("failed to mint decoy secret: %w", err)
		}
		s.metrics.DecoysIssuedTotal.Inc()
		s.audit(ctx, canonical, ReasonAddressDenied, "deny-listed recipient served decoy token", map[string]interface{}{"ip": ip})
		return codec.Encode(secret), nil
	}

	now := s.now()
	day := dayKey(now)
	rec, err := s.repo.FindClaim(ctx, canonical, day)
	if err != nil {
		return "", fmt.Errorf("failed to look up claim record: %w", err)
	}

	if rec == nil {
		secret, err := generateSecret()
		if err != nil {
			return "", fmt.Errorf("failed to mint challenge secret: %w", err)
		}
		rec = &models.ClaimRecord{
			Recipient:     canonical,
			IP:            ip,
			Geo:           s.geo.Lookup(ctx, ip),
			Date:          day,
			Hash:          secret,
			LastRequestAt: now,
			CreatedAt:     now,
		}
		if err := s.repo.UpsertClaim(ctx, rec); err != nil {
			return "", fmt.Errorf("failed to create claim record: %w", err)
		}
		s.metrics.ChallengesIssuedTotal.Inc()
		return codec.Encode(secret), nil
	}

	if rec.Times >= s.policy.DailyClaimCap || rec.Amount >= s.policy.DailyAmountCap {
		s.audit(ctx, canonical, ReasonQuotaExceeded, "daily quota exhausted at challenge request", map[string]interface{}{
			"ip": ip, "times": rec.Times, "amount": rec.Amount,
		})
		return "", reject(ReasonQuotaExceeded, canonical)
	}

	// One unredeemed challenge at a time: re-issue the outstanding one.
	if rec.Hash != "" {
		return codec.Encode(rec.Hash), nil
	}

	secret, err := generateSecret()
	if err != nil {
		return "", fmt.Errorf("failed to mint challenge secret: %w", err)
	}
	rec.IP = ip
	rec.Geo = s.geo.Lookup(ctx, ip)
	rec.Hash = secret
	if err := s.repo.UpsertClaim(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to update claim record: %w", err)
	}
	s.metrics.ChallengesIssuedTotal.Inc()
	return codec.Encode(secret), nil
}
