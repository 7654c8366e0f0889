package models

import "time"

// PayoutRecord is written once per confirmed transfer and never mutated.
// Nanos is the awarded amount in the ledger's smallest unit; Reward is
// the same amount in the native unit.
type PayoutRecord struct {
	IP        string    `json:"ip"`
	Geo       string    `json:"geo"`
	Hash      string    `json:"hash"`
	HashTx    string    `json:"hash_tx"`
	Recipient string    `json:"recipient"`
	Reward    float64   `json:"reward"`
	Nanos     int64     `json:"nanos"`
	Level     int       `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// RankRow is one leaderboard entry: a recipient's cumulative awarded
// amount and the best level it ever claimed.
type RankRow struct {
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	Level     int     `json:"level"`
}
