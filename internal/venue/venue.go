package venue

import (
	"context"
	"errors"
	"fmt"
)

// SOLMint is the wrapped SOL mint address
const SOLMint = "So11111111111111111111111111111111111111112"

// Tag identifies a token-exchange protocol
type Tag string

const (
	TagPumpFun  Tag = "pumpfun"
	TagPumpSwap Tag = "pumpswap"
	TagRaydium  Tag = "raydium"
)

// ErrQuoteUnsupported is returned by builders without price discovery
var ErrQuoteUnsupported = errors.New("venue does not support quotes")

// BuildRequest describes one wallet's leg of a trade
type BuildRequest struct {
	Wallet      string // wallet public key
	Mint        string
	Lamports    uint64 // buy: SOL in (lamports)
	TokenAmount uint64 // sell: raw token amount
	SlippageBps int
	PriorityFee uint64
	PoolAddress string // optional pool hint
}

// Quote is a venue's price estimate for a build request
type Quote struct {
	InputAmount    uint64
	OutputAmount   uint64
	PriceImpactPct float64
}

// Builder produces pre-finalized unsigned transactions for one wallet.
// Implementations expose the capability set {BuildBuy, BuildSell, Quote};
// Quote may return ErrQuoteUnsupported.
type Builder interface {
	BuildBuy(ctx context.Context, req BuildRequest) (string, *Quote, error)
	BuildSell(ctx context.Context, req BuildRequest) (string, *Quote, error)
	Quote(ctx context.Context, req BuildRequest) (*Quote, error)
}

// Registry dispatches build requests by venue tag. Callers never branch on
// the tag themselves.
type Registry struct {
	builders   map[Tag]Builder
	defaultTag Tag
}

// NewRegistry creates an empty registry with a default venue
func NewRegistry(defaultTag Tag) *Registry {
	return &Registry{
		builders:   make(map[Tag]Builder),
		defaultTag: defaultTag,
	}
}

// Register binds a builder to a tag
func (r *Registry) Register(tag Tag, b Builder) {
	r.builders[tag] = b
}

// For returns the builder for a tag; an empty tag selects the default venue
func (r *Registry) For(tag Tag) (Builder, error) {
	if tag == "" {
		tag = r.defaultTag
	}
	b, ok := r.builders[tag]
	if !ok {
		return nil, fmt.Errorf("no builder registered for venue %q", tag)
	}
	return b, nil
}

// DefaultTag returns the registry's default venue
func (r *Registry) DefaultTag() Tag {
	return r.defaultTag
}

// ProgramIDs maps known on-chain program ids to venue tags; used by the trade
// decoder to classify transactions.
var ProgramIDs = map[string]Tag{
	"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P":  TagPumpFun,
	"pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA":  TagPumpSwap,
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": TagRaydium,
}

// ClassifyPrograms returns the venue tag for the first known program id in the
// list, or empty when none match.
func ClassifyPrograms(programIDs []string) Tag {
	for _, id := range programIDs {
		if tag, ok := ProgramIDs[id]; ok {
			return tag
		}
	}
	return ""
}
