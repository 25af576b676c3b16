package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/blockchain"
)

// MaxWallets caps the pool size
const MaxWallets = 20

// Wallet is one trading identity in the pool. Cached fields are mutated only
// by the pool (single-writer); readers go through the accessor methods.
type Wallet struct {
	ID     string
	signer *blockchain.Signer

	mu              sync.RWMutex
	balanceLamports uint64
	tokens          map[string]uint64 // mint -> raw token amount
	lastTradeAt     time.Time
	enabled         bool
}

// Signer returns the wallet's signing key
func (w *Wallet) Signer() *blockchain.Signer {
	return w.signer
}

// Address returns the wallet's base58 address
func (w *Wallet) Address() string {
	return w.signer.Address()
}

// BalanceLamports returns the cached SOL balance in lamports
func (w *Wallet) BalanceLamports() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balanceLamports
}

// BalanceSOL returns the cached SOL balance
func (w *Wallet) BalanceSOL() float64 {
	return float64(w.BalanceLamports()) / 1e9
}

// TokenBalance returns the cached holding for a mint
func (w *Wallet) TokenBalance(mint string) uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tokens[mint]
}

// Enabled reports whether the wallet participates in selection
func (w *Wallet) Enabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// LastTradeAt returns the wallet's last trade timestamp
func (w *Wallet) LastTradeAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastTradeAt
}

// MarkTraded stamps the wallet's last trade time
func (w *Wallet) MarkTraded(t time.Time) {
	w.mu.Lock()
	w.lastTradeAt = t
	w.mu.Unlock()
}

// Position is the swarm-wide view of one mint's holdings
type Position struct {
	Mint        string
	Total       uint64
	ByWallet    map[string]uint64
	LastUpdated time.Time
}

// Pool owns the wallet set and refreshes cached balances and positions
type Pool struct {
	rpc     *blockchain.RPCClient
	mu      sync.RWMutex
	wallets []*Wallet
	byID    map[string]*Wallet

	// Bounded fan-out for refresh RPC bursts
	sem chan struct{}
}

// NewPool creates a pool from parsed signers. Wallet ids are assigned in order
// (wallet_0, wallet_1, ...); all wallets start enabled.
func NewPool(rpc *blockchain.RPCClient, signers []*blockchain.Signer) (*Pool, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("no wallet keys configured")
	}
	if len(signers) > MaxWallets {
		return nil, fmt.Errorf("too many wallets: %d (max %d)", len(signers), MaxWallets)
	}

	p := &Pool{
		rpc:  rpc,
		byID: make(map[string]*Wallet, len(signers)),
		sem:  make(chan struct{}, 8),
	}

	for i, s := range signers {
		w := &Wallet{
			ID:      fmt.Sprintf("wallet_%d", i),
			signer:  s,
			tokens:  make(map[string]uint64),
			enabled: true,
		}
		p.wallets = append(p.wallets, w)
		p.byID[w.ID] = w
	}

	log.Info().Int("count", len(p.wallets)).Msg("wallet pool initialized")
	return p, nil
}

// List returns all wallets in id order
func (p *Pool) List() []*Wallet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Wallet, len(p.wallets))
	copy(out, p.wallets)
	return out
}

// Get returns the wallet with the given id, or nil
func (p *Pool) Get(id string) *Wallet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byID[id]
}

// Enabled returns the enabled wallets in id order
func (p *Pool) Enabled() []*Wallet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Wallet
	for _, w := range p.wallets {
		if w.Enabled() {
			out = append(out, w)
		}
	}
	return out
}

// Enable marks a wallet eligible for selection
func (p *Pool) Enable(id string) error {
	return p.setEnabled(id, true)
}

// Disable excludes a wallet from selection; it stays in the pool
func (p *Pool) Disable(id string) error {
	return p.setEnabled(id, false)
}

func (p *Pool) setEnabled(id string, enabled bool) error {
	w := p.Get(id)
	if w == nil {
		return fmt.Errorf("unknown wallet %q", id)
	}
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
	log.Info().Str("wallet", id).Bool("enabled", enabled).Msg("wallet toggled")
	return nil
}

// RefreshBalances queries the chain for every wallet concurrently and updates
// cached SOL balances. A failed fetch keeps the previous cached value.
func (p *Pool) RefreshBalances(ctx context.Context) {
	wallets := p.List()

	var wg sync.WaitGroup
	for _, w := range wallets {
		wg.Add(1)
		go func(w *Wallet) {
			defer wg.Done()
			p.sem <- struct{}{}
			defer func() { <-p.sem }()

			balance, err := p.rpc.GetBalance(ctx, w.Address())
			if err != nil {
				log.Warn().Err(err).Str("wallet", w.ID).Msg("balance refresh failed, keeping cached value")
				return
			}
			w.mu.Lock()
			w.balanceLamports = balance
			w.mu.Unlock()
		}(w)
	}
	wg.Wait()
}

// RefreshPositions queries every wallet's token accounts for a mint and
// returns the aggregated swarm view. Absent accounts clear the cache entry.
func (p *Pool) RefreshPositions(ctx context.Context, mint string) *Position {
	wallets := p.List()

	type result struct {
		id     string
		amount uint64
		ok     bool
	}
	results := make([]result, len(wallets))

	var wg sync.WaitGroup
	for i, w := range wallets {
		wg.Add(1)
		go func(i int, w *Wallet) {
			defer wg.Done()
			p.sem <- struct{}{}
			defer func() { <-p.sem }()

			accounts, err := p.rpc.GetTokenAccountsByOwner(ctx, w.Address(), mint)
			if err != nil {
				log.Warn().Err(err).Str("wallet", w.ID).Str("mint", mint).Msg("position refresh failed, keeping cached value")
				results[i] = result{id: w.ID, amount: w.TokenBalance(mint), ok: false}
				return
			}

			var amount uint64
			for _, acc := range accounts {
				amount += acc.Amount
			}

			w.mu.Lock()
			if amount == 0 {
				delete(w.tokens, mint)
			} else {
				w.tokens[mint] = amount
			}
			w.mu.Unlock()

			results[i] = result{id: w.ID, amount: amount, ok: true}
		}(i, w)
	}
	wg.Wait()

	pos := &Position{
		Mint:        mint,
		ByWallet:    make(map[string]uint64, len(wallets)),
		LastUpdated: time.Now(),
	}
	for _, r := range results {
		pos.ByWallet[r.id] = r.amount
		pos.Total += r.amount
	}
	return pos
}
