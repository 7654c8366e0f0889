package models

import "time"

// ClaimRecord tracks one recipient's faucet usage for one calendar day.
// It is keyed by (recipient, date) and is never deleted; a new day opens
// a fresh record. Hash holds the outstanding challenge secret and is
// empty while no challenge is pending.
type ClaimRecord struct {
	Recipient     string    `json:"recipient"`
	IP            string    `json:"ip"`
	Geo           string    `json:"geo"`
	Date          string    `json:"date"`
	Times         int       `json:"times"`
	Amount        float64   `json:"amount"`
	MaxLevel      int       `json:"max_level"`
	Hash          string    `json:"hash"`
	LastRequestAt time.Time `json:"last_request_at"`
	CreatedAt     time.Time `json:"created_at"`
}
