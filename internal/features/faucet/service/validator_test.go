package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faucet-backend/internal/features/faucet/codec"
)

// redeemFixture wires a service with a controllable clock and one
// issued challenge, past its cooldown window.
type redeemFixture struct {
	s      *Service
	repo   *fakeRepo
	ledger *fakeLedger
	secret string
	token  string
	day    string
	clock  *time.Time
}

func newRedeemFixture(t *testing.T, policy Policy) *redeemFixture {
	t.Helper()
	repo := newFakeRepo()
	ledger := newFakeLedger()
	s := newTestService(t, repo, ledger, policy)

	base := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	token, err := s.Issue(context.Background(), testRecipient, testIP)
	require.NoError(t, err)

	f := &redeemFixture{
		s:      s,
		repo:   repo,
		ledger: ledger,
		secret: codec.Decode(token),
		token:  token,
		day:    dayKey(base),
		clock:  &clock,
	}
	f.advance(10 * time.Second)
	return f
}

func (f *redeemFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *redeemFixture) body(t *testing.T, level interface{}) string {
	return buildRedeemBody(t, f.secret, f.token, testRecipient, level)
}

func TestRedeemHappyPath(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())

	amount, err := f.s.Redeem(context.Background(), f.body(t, 7), testIP)
	require.NoError(t, err)
	assert.InDelta(t, 0.064, amount, 1e-9) // 7*0.002 + 0.05 tier bonus

	require.Equal(t, 1, f.ledger.transferCount())
	assert.Equal(t, testRecipientKey, f.ledger.transfers[0].recipient)
	assert.Equal(t, int64(64_000_000), f.ledger.transfers[0].nanos)

	rec := f.repo.claim(testRecipientKey, f.day)
	require.NotNil(t, rec)
	assert.Empty(t, rec.Hash, "secret clears after redemption")
	assert.Equal(t, 1, rec.Times)
	assert.InDelta(t, 0.064, rec.Amount, 1e-9)
	assert.Equal(t, 7, rec.MaxLevel)

	require.Len(t, f.repo.payouts, 1)
	payout := f.repo.payouts[0]
	assert.Equal(t, f.secret, payout.Hash)
	assert.NotEmpty(t, payout.HashTx)
	assert.Equal(t, int64(64_000_000), payout.Nanos)
}

func TestRedeemTopTier(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())

	amount, err := f.s.Redeem(context.Background(), f.body(t, 20), testIP)
	require.NoError(t, err)
	assert.InDelta(t, 5.04, amount, 1e-9)
	assert.Equal(t, int64(5_040_000_000), f.ledger.transfers[0].nanos)
}

func TestRedeemStringLevelTolerated(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())

	amount, err := f.s.Redeem(context.Background(), f.body(t, `"7"`), testIP)
	require.NoError(t, err)
	assert.InDelta(t, 0.064, amount, 1e-9)
}

func TestRedeemMalformedBody(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())

	for _, body := range []string{
		"",
		"garbage",
		strings.Repeat("1", 24),                              // one group only
		f.body(t, 7) + "-" + strings.Repeat("1", 24),         // 44 groups
		strings.Replace(f.body(t, 7), "-", "x", 1),           // broken separator
	} {
		_, err := f.s.Redeem(context.Background(), body, testIP)
		require.Error(t, err)
		rej, ok := AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, ReasonInputMalformed, rej.Reason)
	}
	assert.Zero(t, f.ledger.transferCount())
}

func TestRedeemLevelOutOfRange(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())

	for _, level := range []interface{}{-1, 0, 2, 21, 100} {
		_, err := f.s.Redeem(context.Background(), f.body(t, level), testIP)
		require.Error(t, err, "level %v", level)
	}
	assert.Zero(t, f.ledger.transferCount())
}

func TestRedeemTamperedKeyRejectedWithoutMutation(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())

	// Forge the outer hash groups with a different secret while keeping
	// the inner key derived from the real one: the double-carriage check
	// must catch it, and vice versa.
	otherSecret := strings.Repeat("Zz9Zz9Zz", 8)
	forged := buildRedeemBody(t, otherSecret, f.token, testRecipient, 7)

	_, err := f.s.Redeem(context.Background(), forged, testIP)
	require.Error(t, err)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonChallengeMismatch, rej.Reason)

	rec := f.repo.claim(testRecipientKey, f.day)
	require.NotNil(t, rec)
	assert.Equal(t, f.secret, rec.Hash, "record must stay untouched")
	assert.Zero(t, rec.Times)
	assert.Zero(t, f.ledger.transferCount())
}

func TestRedeemCooldownEnforced(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())

	_, err := f.s.Redeem(context.Background(), f.body(t, 7), testIP)
	require.NoError(t, err)

	// Second challenge, redeemed 2s after the successful claim.
	token, err := f.s.Issue(context.Background(), testRecipient, testIP)
	require.NoError(t, err)
	f.advance(2 * time.Second)

	body := buildRedeemBody(t, codec.Decode(token), token, testRecipient, 7)
	_, err = f.s.Redeem(context.Background(), body, testIP)
	require.Error(t, err)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonCooldownActive, rej.Reason)

	// Past the window the same challenge goes through.
	f.advance(4 * time.Second)
	amount, err := f.s.Redeem(context.Background(), body, testIP)
	require.NoError(t, err)
	assert.InDelta(t, 0.064, amount, 1e-9)
}

func TestRedeemUnknownChallenge(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())

	stranger := strings.Repeat("Ab3xYz01", 8)
	body := buildRedeemBody(t, stranger, codec.Encode(stranger), testOtherAddr, 7)
	_, err := f.s.Redeem(context.Background(), body, testIP)
	require.Error(t, err)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonChallengeMismatch, rej.Reason)
}

func TestRedeemQuotaMonotonic(t *testing.T) {
	policy := defaultPolicy()
	policy.DailyClaimCap = 3
	f := newRedeemFixture(t, policy)
	ctx := context.Background()

	total := 0.0
	for i := 0; i < 3; i++ {
		token, err := f.s.Issue(ctx, testRecipient, testIP)
		require.NoError(t, err)
		f.advance(10 * time.Second)

		body := buildRedeemBody(t, codec.Decode(token), token, testRecipient, 4)
		amount, err := f.s.Redeem(ctx, body, testIP)
		require.NoError(t, err)
		assert.InDelta(t, 0.008, amount, 1e-9) // below every bonus tier
		total += amount
	}

	rec := f.repo.claim(testRecipientKey, f.day)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.Times)
	assert.InDelta(t, total, rec.Amount, 1e-9)

	// The cap is now reached: no further challenge is issued.
	_, err := f.s.Issue(ctx, testRecipient, testIP)
	require.Error(t, err)
}

func TestRedeemDispatchFailureKeepsSlotClaimable(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())
	ctx := context.Background()

	f.ledger.transferErr = fmt.Errorf("mempool rejected transaction")
	_, err := f.s.Redeem(ctx, f.body(t, 7), testIP)
	require.Error(t, err)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonLedgerError, rej.Reason)

	rec := f.repo.claim(testRecipientKey, f.day)
	require.NotNil(t, rec)
	assert.Equal(t, f.secret, rec.Hash, "secret restored after failed dispatch")
	assert.Zero(t, rec.Times)
	assert.Empty(t, f.repo.payouts)

	// Same challenge succeeds once the ledger recovers.
	f.ledger.mu.Lock()
	f.ledger.transferErr = nil
	f.ledger.mu.Unlock()
	f.advance(10 * time.Second)

	amount, err := f.s.Redeem(ctx, f.body(t, 7), testIP)
	require.NoError(t, err)
	assert.InDelta(t, 0.064, amount, 1e-9)
}

func TestRedeemNoConsensus(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())
	f.ledger.established = false

	_, err := f.s.Redeem(context.Background(), f.body(t, 7), testIP)
	require.Error(t, err)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNoConsensus, rej.Reason)
	assert.Equal(t, f.secret, f.repo.claim(testRecipientKey, f.day).Hash)
}

func TestRedeemZeroBalance(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())
	f.ledger.balance = 0

	_, err := f.s.Redeem(context.Background(), f.body(t, 7), testIP)
	require.Error(t, err)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonZeroBalance, rej.Reason)
}

func TestRedeemDeniedIP(t *testing.T) {
	policy := defaultPolicy()
	policy.DenyIPs = []string{"198.51.100.1"}
	f := newRedeemFixture(t, policy)

	_, err := f.s.Redeem(context.Background(), f.body(t, 7), "198.51.100.1")
	require.Error(t, err)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonIPDenied, rej.Reason)
}

func TestRedeemDoubleSpendRace(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())
	body := f.body(t, 7)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.s.Redeem(context.Background(), body, testIP)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent redemption may win")
	assert.Equal(t, 1, f.ledger.transferCount(), "exactly one payout may be dispatched")
	assert.Equal(t, 1, f.repo.claim(testRecipientKey, f.day).Times)
}

func TestTopRecipients(t *testing.T) {
	f := newRedeemFixture(t, defaultPolicy())
	ctx := context.Background()

	_, err := f.s.Redeem(ctx, f.body(t, 10), testIP)
	require.NoError(t, err)

	rows, err := f.s.TopRecipients(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, testRecipientKey, rows[0].Recipient)
	assert.InDelta(t, 1.02, rows[0].Amount, 1e-9)
	assert.Equal(t, 10, rows[0].Level)
}
