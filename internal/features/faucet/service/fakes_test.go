package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"faucet-backend/internal/features/faucet/codec"
	"faucet-backend/internal/features/faucet/models"
	"faucet-backend/internal/features/faucet/repository"
	"faucet-backend/internal/metrics"
)

// fakeRepo is an in-memory Repository with the same atomicity the redis
// implementation provides: ConsumeSecret admits exactly one caller per
// outstanding secret.
type fakeRepo struct {
	mu         sync.Mutex
	claims     map[string]*models.ClaimRecord
	payouts    []*models.PayoutRecord
	audits     []*models.AuditEntry
	rankAmount map[string]float64
	rankLevel  map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		claims:     make(map[string]*models.ClaimRecord),
		rankAmount: make(map[string]float64),
		rankLevel:  make(map[string]int),
	}
}

func claimKey(recipient, day string) string {
	return day + "|" + recipient
}

func (f *fakeRepo) FindClaim(_ context.Context, recipient, day string) (*models.ClaimRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.claims[claimKey(recipient, day)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) UpsertClaim(_ context.Context, rec *models.ClaimRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.claims[claimKey(rec.Recipient, rec.Date)] = &cp
	return nil
}

func (f *fakeRepo) ConsumeSecret(_ context.Context, recipient, day, secret string) (*models.ClaimRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.claims[claimKey(recipient, day)]
	if !ok || rec.Hash == "" || rec.Hash != secret {
		return nil, repository.ErrSecretConflict
	}
	out := *rec
	rec.Hash = ""
	return &out, nil
}

func (f *fakeRepo) RestoreSecret(_ context.Context, recipient, day, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.claims[claimKey(recipient, day)]
	if !ok {
		return repository.ErrSecretConflict
	}
	if rec.Hash == "" {
		rec.Hash = secret
	}
	return nil
}

func (f *fakeRepo) SettleClaim(_ context.Context, recipient, day string, reward float64, level int, now time.Time) (*models.ClaimRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.claims[claimKey(recipient, day)]
	if !ok {
		return nil, fmt.Errorf("no claim record for %s", recipient)
	}
	rec.Times++
	rec.Amount += reward
	if level > rec.MaxLevel {
		rec.MaxLevel = level
	}
	rec.LastRequestAt = now
	f.rankAmount[recipient] += reward
	if level > f.rankLevel[recipient] {
		f.rankLevel[recipient] = level
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) InsertPayout(_ context.Context, rec *models.PayoutRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.payouts = append(f.payouts, &cp)
	return nil
}

func (f *fakeRepo) InsertAudit(_ context.Context, entry *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.audits = append(f.audits, &cp)
	return nil
}

func (f *fakeRepo) TopRecipients(_ context.Context, n int64) ([]models.RankRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]models.RankRow, 0, len(f.rankAmount))
	for recipient, amount := range f.rankAmount {
		rows = append(rows, models.RankRow{Recipient: recipient, Amount: amount, Level: f.rankLevel[recipient]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Amount > rows[j].Amount })
	if int64(len(rows)) > n {
		rows = rows[:n]
	}
	return rows, nil
}

func (f *fakeRepo) claim(recipient, day string) *models.ClaimRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.claims[claimKey(recipient, day)]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

type transferCall struct {
	recipient string
	nanos     int64
}

type fakeLedger struct {
	mu          sync.Mutex
	established bool
	balance     float64
	balanceErr  error
	transferErr error
	transfers   []transferCall
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{established: true, balance: 1000}
}

func (f *fakeLedger) Established(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.established
}

func (f *fakeLedger) SpendableBalance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeLedger) SubmitTransfer(_ context.Context, recipient string, nanos int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.transfers = append(f.transfers, transferCall{recipient: recipient, nanos: nanos})
	return fmt.Sprintf("0xtx%04d", len(f.transfers)), nil
}

func (f *fakeLedger) ValidateAddressSyntax(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	for _, c := range addr[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func (f *fakeLedger) NormalizeAddress(addr string) (string, error) {
	if !f.ValidateAddressSyntax(addr) {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	return strings.ToLower(addr), nil
}

func (f *fakeLedger) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

type fakeGeo struct{}

func (fakeGeo) Lookup(context.Context, string) string {
	return "US; CA; San Francisco; America/Los_Angeles"
}

func defaultPolicy() Policy {
	return Policy{
		DailyClaimCap:  100,
		DailyAmountCap: 10,
		Cooldown:       5 * time.Second,
		MinLevel:       3,
		MaxLevel:       20,
		LedgerTimeout:  5 * time.Second,
	}
}

func newTestService(t *testing.T, repo *fakeRepo, ledger *fakeLedger, policy Policy) *Service {
	t.Helper()
	s := New(repo, ledger, fakeGeo{}, policy, metrics.New(prometheus.NewRegistry()))
	s.now = func() time.Time { return time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC) }
	return s
}

// buildRedeemBody assembles a wire-correct redemption payload: group 0
// and groups 36..42 carry the encoded secret, groups 1..35 the
// zero-padded JSON payload.
func buildRedeemBody(t *testing.T, secret, key, recipient string, level interface{}) string {
	t.Helper()

	hashGroups := strings.Split(codec.Encode(secret), "-")
	require.Len(t, hashGroups, 8)

	payload := fmt.Sprintf(`{"key":"%s","recipient":"%s","level":%v}`, key, recipient, level)
	dataGroups := strings.Split(codec.Encode(payload), "-")
	require.LessOrEqual(t, len(dataGroups), 35, "payload does not fit the wire format")

	last := dataGroups[len(dataGroups)-1]
	dataGroups[len(dataGroups)-1] = last + strings.Repeat("0", codec.GroupWidth-len(last))
	for len(dataGroups) < 35 {
		dataGroups = append(dataGroups, strings.Repeat("0", codec.GroupWidth))
	}

	groups := append([]string{hashGroups[0]}, dataGroups...)
	groups = append(groups, hashGroups[1:]...)
	require.Len(t, groups, 43)
	return strings.Join(groups, "-")
}
