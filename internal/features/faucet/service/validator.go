package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"faucet-backend/internal/common/logger"
	"faucet-backend/internal/features/faucet/codec"
	"faucet-backend/internal/features/faucet/repository"
)

// Redemption wire shape: 43 hyphen-separated 24-digit groups. Group 0
// and groups 36..42 carry the encoded secret, groups 1..35 the payload.
var (
	// Written as 21+21 trailing groups: Go's regexp parser rejects a
	// single (-\d{24}){42} because the nested repeat product 24*42
	// exceeds its limit of 1000.
	bodyPattern   = regexp.MustCompile(`^\d{24}(-\d{24}){21}(-\d{24}){21}$`)
	secretPattern = regexp.MustCompile(`^[A-Za-z0-9]{64}$`)
)

const (
	bodyGroups         = 43
	payloadGroupsStart = 1
	payloadGroupsEnd   = 36
)

type redeemPayload struct {
	Key       string          `json:"key"`
	Recipient string          `json:"recipient"`
	Level     json.RawMessage `json:"level"`
}

// Redeem validates a redemption payload and, when admitted, dispatches
// the payout and advances the claim record. Every rejection path is
// opaque to the caller; the reason goes to the audit log only.
func (s *Service) Redeem(ctx context.Context, body, ip string) (float64, error) {
	amount, err := s.redeem(ctx, body, ip)
	if err != nil {
		s.metrics.RedemptionsTotal.WithLabelValues("rejected").Inc()
		return 0, err
	}
	s.metrics.RedemptionsTotal.WithLabelValues("paid").Inc()
	s.metrics.PayoutAmountTotal.Add(amount)
	return amount, nil
}

func (s *Service) redeem(ctx context.Context, body, ip string) (float64, error) {
	if ip == "" || s.ipDenied(ip) {
		s.audit(ctx, "", ReasonIPDenied, "redemption from denied ip", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonIPDenied, ip)
	}
	if !bodyPattern.MatchString(body) {
		s.audit(ctx, "", ReasonInputMalformed, "redemption body does not match wire shape", map[string]interface{}{"ip": ip, "length": len(body)})
		return 0, reject(ReasonInputMalformed, "bad wire shape")
	}

	groups := strings.Split(body, "-")
	secret := codec.Decode(strings.Join(append([]string{groups[0]}, groups[payloadGroupsEnd:bodyGroups]...), "-"))
	if !secretPattern.MatchString(secret) {
		s.audit(ctx, "", ReasonInputMalformed, "candidate secret malformed", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonInputMalformed, "bad secret shape")
	}

	payloadText := codec.Decode(strings.Join(groups[payloadGroupsStart:payloadGroupsEnd], "-"))
	var payload redeemPayload
	if err := json.Unmarshal([]byte(payloadText), &payload); err != nil {
		s.audit(ctx, "", ReasonInputMalformed, "redemption payload is not valid json", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonInputMalformed, "bad payload")
	}
	if payload.Key == "" || payload.Recipient == "" || len(payload.Level) == 0 {
		s.audit(ctx, payload.Recipient, ReasonInputMalformed, "redemption payload missing fields", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonInputMalformed, "missing fields")
	}
	level, err := parseLevel(payload.Level)
	if err != nil {
		s.audit(ctx, payload.Recipient, ReasonInputMalformed, "redemption level not an integer", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonInputMalformed, "bad level")
	}

	if !s.ledger.ValidateAddressSyntax(payload.Recipient) {
		s.audit(ctx, payload.Recipient, ReasonAddressInvalid, "redemption for invalid address", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonAddressInvalid, payload.Recipient)
	}
	canonical, err := s.ledger.NormalizeAddress(payload.Recipient)
	if err != nil {
		s.audit(ctx, payload.Recipient, ReasonAddressInvalid, "redemption for invalid address", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonAddressInvalid, payload.Recipient)
	}
	if s.addressDenied(canonical) {
		s.audit(ctx, canonical, ReasonAddressDenied, "redemption for deny-listed address", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonAddressDenied, canonical)
	}

	if level < 0 || level > s.policy.MaxLevel || level < s.policy.MinLevel {
		s.audit(ctx, canonical, ReasonInputMalformed, "redemption level out of range", map[string]interface{}{"ip": ip, "level": level})
		return 0, reject(ReasonInputMalformed, "level out of range")
	}

	// Anti-tamper: the inner key must be the encoded form of the same
	// secret carried in the outer hash groups.
	if codec.Encode(secret) != payload.Key {
		s.audit(ctx, canonical, ReasonChallengeMismatch, "payload key does not derive from presented secret", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonChallengeMismatch, "key mismatch")
	}

	now := s.now()
	day := dayKey(now)
	rec, err := s.repo.FindClaim(ctx, canonical, day)
	if err != nil {
		return 0, fmt.Errorf("failed to look up claim record: %w", err)
	}
	if rec == nil || rec.Hash != secret {
		s.audit(ctx, canonical, ReasonChallengeMismatch, "no matching outstanding challenge", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonChallengeMismatch, "no outstanding challenge")
	}
	if rec.Times >= s.policy.DailyClaimCap || rec.Amount >= s.policy.DailyAmountCap {
		s.audit(ctx, canonical, ReasonQuotaExceeded, "daily quota exhausted at redemption", map[string]interface{}{
			"ip": ip, "times": rec.Times, "amount": rec.Amount,
		})
		return 0, reject(ReasonQuotaExceeded, canonical)
	}
	if now.Sub(rec.LastRequestAt) < s.policy.Cooldown {
		s.audit(ctx, canonical, ReasonCooldownActive, "redemption within cooldown window", map[string]interface{}{"ip": ip})
		return 0, reject(ReasonCooldownActive, canonical)
	}

	// Consume the secret before dispatching so that concurrent redeems
	// of the same challenge produce exactly one payout.
	if _, err := s.repo.ConsumeSecret(ctx, canonical, day, secret); err != nil {
		if errors.Is(err, repository.ErrSecretConflict) {
			s.audit(ctx, canonical, ReasonChallengeMismatch, "lost redemption race", map[string]interface{}{"ip": ip})
			return 0, reject(ReasonChallengeMismatch, "lost race")
		}
		return 0, fmt.Errorf("failed to consume challenge secret: %w", err)
	}

	geo := s.geo.Lookup(ctx, ip)
	amount := s.rewards.Reward(level)
	if _, err := s.dispatch(ctx, canonical, amount, level, ip, geo, secret); err != nil {
		// The slot stays claimable: put the secret back so the record is
		// unchanged on the wire-visible level.
		if rerr := s.repo.RestoreSecret(ctx, canonical, day, secret); rerr != nil {
			logger.Error().Err(rerr).Str("recipient", canonical).Msg("failed to restore challenge secret after dispatch failure")
		}
		return 0, err
	}

	if _, err := s.repo.SettleClaim(ctx, canonical, day, amount, level, now); err != nil {
		s.audit(ctx, canonical, ReasonLedgerError, "failed to settle claim after payout", map[string]interface{}{
			"ip": ip, "level": level, "reward": amount, "error": err.Error(),
		})
		return 0, reject(ReasonLedgerError, "settle failed")
	}
	return amount, nil
}

// parseLevel accepts a JSON number or a numeric string; clients are
// inconsistent about quoting the field.
func parseLevel(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0, fmt.Errorf("empty level")
	}
	return strconv.Atoi(s)
}
