package service

import "fmt"

// Reason classifies why a request was turned away. The taxonomy is
// operator-facing only; callers always see the uniform opaque response.
type Reason string

const (
	ReasonInputMalformed    Reason = "input_malformed"
	ReasonAddressInvalid    Reason = "address_invalid"
	ReasonIPDenied          Reason = "ip_denied"
	ReasonAddressDenied     Reason = "address_denied"
	ReasonQuotaExceeded     Reason = "quota_exceeded"
	ReasonCooldownActive    Reason = "cooldown_active"
	ReasonChallengeMismatch Reason = "challenge_mismatch"
	ReasonNoConsensus       Reason = "no_consensus"
	ReasonZeroBalance       Reason = "zero_balance"
	ReasonLedgerError       Reason = "ledger_error"
)

// Rejection is the typed error produced by the admission pipeline.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, detail string) *Rejection {
	return &Rejection{Reason: reason, Detail: detail}
}

// AsRejection extracts a Rejection from err when it is one.
func AsRejection(err error) (*Rejection, bool) {
	rej, ok := err.(*Rejection)
	return rej, ok
}
