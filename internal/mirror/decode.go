package mirror

import (
	"errors"
	"math"
	"strconv"

	"solana-swarm-bot/internal/blockchain"
	"solana-swarm-bot/internal/swarm"
	"solana-swarm-bot/internal/venue"
)

// epsilonSOL is the minimum base-currency movement treated as a trade.
// Anything smaller is fees and rent noise.
const epsilonSOL = 0.001

// ErrNotATrade marks transactions that decode cleanly but are not a buy or
// sell by the target (transfers, approvals, dust).
var ErrNotATrade = errors.New("not a trade")

// ErrDecode marks transactions the decoder cannot interpret
var ErrDecode = errors.New("decode failed")

// decodeTrade extracts the target's trade from a parsed transaction. It looks
// at the target's SOL delta and non-SOL token deltas: a token increase paired
// with a SOL decrease beyond epsilon is a buy, the inverse is a sell.
func decodeTrade(tx *blockchain.ParsedTransaction, target, signature string) (*DetectedTrade, error) {
	if tx.Meta.Err != nil {
		return nil, ErrNotATrade
	}

	keys := tx.Transaction.Message.AccountKeys
	targetIdx := -1
	programIDs := make([]string, 0, len(keys))
	for i, k := range keys {
		programIDs = append(programIDs, k.Pubkey)
		if k.Pubkey == target {
			targetIdx = i
		}
	}
	if targetIdx < 0 || targetIdx >= len(tx.Meta.PreBalances) || targetIdx >= len(tx.Meta.PostBalances) {
		return nil, ErrDecode
	}

	solDelta := (float64(tx.Meta.PostBalances[targetIdx]) - float64(tx.Meta.PreBalances[targetIdx])) / 1e9

	// Per-mint token deltas owned by the target
	pre := make(map[string]uint64)
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Owner == target && b.Mint != venue.SOLMint {
			amt, _ := strconv.ParseUint(b.UITokenAmount.Amount, 10, 64)
			pre[b.Mint] += amt
		}
	}
	post := make(map[string]uint64)
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Owner == target && b.Mint != venue.SOLMint {
			amt, _ := strconv.ParseUint(b.UITokenAmount.Amount, 10, 64)
			post[b.Mint] += amt
		}
	}

	var mint string
	var tokenDelta int64
	for m := range post {
		if d := int64(post[m]) - int64(pre[m]); d != 0 {
			mint, tokenDelta = m, d
			break
		}
	}
	if mint == "" {
		for m := range pre {
			if _, ok := post[m]; !ok {
				mint, tokenDelta = m, -int64(pre[m])
				break
			}
		}
	}
	if mint == "" || tokenDelta == 0 {
		return nil, ErrNotATrade
	}

	trade := &DetectedTrade{
		Target:    target,
		Signature: signature,
		Mint:      mint,
		Venue:     venue.ClassifyPrograms(programIDs),
		Slot:      tx.Slot,
	}

	switch {
	case tokenDelta > 0 && solDelta < -epsilonSOL:
		trade.Action = swarm.ActionBuy
		trade.SolAmount = math.Abs(solDelta)
		trade.TokenAmount = uint64(tokenDelta)
	case tokenDelta < 0 && solDelta > epsilonSOL:
		trade.Action = swarm.ActionSell
		trade.SolAmount = solDelta
		trade.TokenAmount = uint64(-tokenDelta)
	default:
		return nil, ErrNotATrade
	}

	return trade, nil
}
