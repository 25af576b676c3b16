package storage

import (
	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/swarm"
)

// Recorder adapts DB to the coordinator's trade history hook. Write failures
// are logged and dropped; history must never block the trade path.
type Recorder struct {
	db *DB
}

// NewRecorder creates a recorder over the database
func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// RecordTrade persists one wallet's executed leg
func (r *Recorder) RecordTrade(walletID, mint string, action swarm.Action, solAmount float64, tokenAmount uint64, txID string) {
	if err := r.db.RecordTrade(walletID, mint, string(action), solAmount, tokenAmount, txID); err != nil {
		log.Warn().Err(err).Str("wallet", walletID).Msg("trade history write failed")
	}
}
