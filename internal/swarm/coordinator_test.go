package swarm

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"solana-swarm-bot/internal/blockchain"
	"solana-swarm-bot/internal/events"
	"solana-swarm-bot/internal/venue"
	"solana-swarm-bot/internal/wallet"
)

// fakeChain accepts every transaction and confirms every signature
type fakeChain struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	confirm bool
}

func (f *fakeChain) SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, signedTx)
	return fmt.Sprintf("sig_%d", len(f.sent)), nil
}

func (f *fakeChain) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*blockchain.SignatureStatus, error) {
	out := make([]*blockchain.SignatureStatus, len(signatures))
	if !f.confirm {
		return out, nil
	}
	for i := range signatures {
		out[i] = &blockchain.SignatureStatus{ConfirmationStatus: "confirmed"}
	}
	return out, nil
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeBundler records submitted bundles
type fakeBundler struct {
	mu        sync.Mutex
	submitted [][]string
	err       error
}

func (f *fakeBundler) SubmitBundle(ctx context.Context, signedTxs []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, signedTxs)
	return fmt.Sprintf("bundle_%d", len(f.submitted)), nil
}

func (f *fakeBundler) TipLamports() uint64 { return 10_000 }

func (f *fakeBundler) bundles() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

type fakeBlockhash struct{}

func (fakeBlockhash) Get() (string, error) {
	return base58.Encode(make([]byte, 32)), nil
}

// fakeBuilder returns a minimal unsigned transaction and records requests
type fakeBuilder struct {
	mu       sync.Mutex
	requests []venue.BuildRequest
	buildErr error
}

func (f *fakeBuilder) build(req venue.BuildRequest) (string, *venue.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return "", nil, f.buildErr
	}
	f.requests = append(f.requests, req)
	unsigned := append([]byte{0}, []byte("message for "+req.Wallet)...)
	quote := &venue.Quote{InputAmount: req.Lamports}
	if req.TokenAmount > 0 {
		// Sell: 1000 lamports per raw token unit
		quote = &venue.Quote{InputAmount: req.TokenAmount, OutputAmount: req.TokenAmount * 1_000}
	}
	return base64.StdEncoding.EncodeToString(unsigned), quote, nil
}

func (f *fakeBuilder) BuildBuy(ctx context.Context, req venue.BuildRequest) (string, *venue.Quote, error) {
	return f.build(req)
}

func (f *fakeBuilder) BuildSell(ctx context.Context, req venue.BuildRequest) (string, *venue.Quote, error) {
	return f.build(req)
}

func (f *fakeBuilder) Quote(ctx context.Context, req venue.BuildRequest) (*venue.Quote, error) {
	amount := req.Lamports
	if req.TokenAmount > 0 {
		amount = req.TokenAmount
	}
	return &venue.Quote{InputAmount: amount, OutputAmount: amount * 2}, nil
}

func (f *fakeBuilder) reqs() []venue.BuildRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// balanceServer mocks the JSON-RPC surface the pool refresh paths hit
func balanceServer(t *testing.T, lamports uint64, tokenAmount uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req blockchain.RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		switch req.Method {
		case "getBalance":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","result":{"context":{"slot":1},"value":%d},"id":1}`, lamports)
		case "getTokenAccountsByOwner":
			if tokenAmount == 0 {
				fmt.Fprint(w, `{"jsonrpc":"2.0","result":{"value":[]},"id":1}`)
				return
			}
			fmt.Fprintf(w, `{"jsonrpc":"2.0","result":{"value":[{
				"pubkey":"TokenAcc",
				"account":{"data":{"parsed":{"info":{"mint":"TestMint","tokenAmount":{"amount":"%d","decimals":6}}}}}
			}]},"id":1}`, tokenAmount)
		default:
			fmt.Fprint(w, `{"jsonrpc":"2.0","result":null,"id":1}`)
		}
	}))
}

func testPool(t *testing.T, server *httptest.Server, n int) *wallet.Pool {
	t.Helper()
	var signers []*blockchain.Signer
	for i := 0; i < n; i++ {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		signer, err := blockchain.ParseSigner(base58.Encode(priv))
		if err != nil {
			t.Fatalf("parse signer: %v", err)
		}
		signers = append(signers, signer)
	}
	pool, err := wallet.NewPool(blockchain.NewRPCClient(server.URL, "", ""), signers)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return pool
}

func testRegistry(builder venue.Builder) *venue.Registry {
	reg := venue.NewRegistry(venue.TagPumpFun)
	reg.Register(venue.TagPumpFun, builder)
	return reg
}

func TestSelectMode(t *testing.T) {
	c := &Coordinator{opts: Options{BundleEnabled: true, BundleSize: 5}}

	cases := []struct {
		name     string
		override ExecutionMode
		bundles  bool
		wallets  int
		want     ExecutionMode
	}{
		{"override wins", ModeSequential, true, 10, ModeSequential},
		{"bundling disabled", ModeAuto, false, 10, ModeParallel},
		{"single wallet", ModeAuto, true, 1, ModeParallel},
		{"fits one bundle", ModeAuto, true, 5, ModeBundle},
		{"needs chunks", ModeAuto, true, 6, ModeMultiBundle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c.opts.BundleEnabled = tc.bundles
			if got := c.selectMode(tc.override, tc.wallets); got != tc.want {
				t.Errorf("selectMode(%q, %d) = %q, want %q", tc.override, tc.wallets, got, tc.want)
			}
		})
	}
}

func TestCoordinatedBuyParallel(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0) // 10 SOL each
	defer server.Close()

	pool := testPool(t, server, 3)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}

	c := NewCoordinator(pool, testRegistry(builder), chain, nil, fakeBlockhash{}, events.NewBus(8), Options{
		MinReserveSol:  0.01,
		ConfirmTimeout: time.Second,
	})

	res := c.CoordinatedBuy(context.Background(), TradeIntent{
		Mint:         "TestMint",
		SolPerWallet: 0.1,
	})

	if !res.Success {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	if res.Mode != ModeParallel {
		t.Errorf("mode = %q, want parallel", res.Mode)
	}
	if chain.sentCount() != 3 {
		t.Errorf("sent %d transactions, want 3", chain.sentCount())
	}
	succeeded := 0
	for _, r := range res.Results {
		if r.Success {
			succeeded++
			if r.TxID == "" {
				t.Errorf("wallet %s: success without signature", r.WalletID)
			}
		}
	}
	if succeeded != 3 {
		t.Errorf("succeeded = %d, want 3", succeeded)
	}
	if res.TotalSolIn < 0.29 || res.TotalSolIn > 0.31 {
		t.Errorf("TotalSolIn = %f, want ~0.3", res.TotalSolIn)
	}
}

func TestBuyDropsInsufficientWallets(t *testing.T) {
	server := balanceServer(t, 50_000_000, 0) // 0.05 SOL each
	defer server.Close()

	pool := testPool(t, server, 2)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}

	c := NewCoordinator(pool, testRegistry(builder), chain, nil, fakeBlockhash{}, nil, Options{
		MinReserveSol: 0.01,
	})

	res := c.CoordinatedBuy(context.Background(), TradeIntent{
		Mint:         "TestMint",
		SolPerWallet: 0.1, // needs 0.11 with reserve, wallets hold 0.05
	})

	if res.Success {
		t.Fatal("expected failure when every wallet lacks balance")
	}
	if chain.sentCount() != 0 {
		t.Errorf("sent %d transactions, want 0", chain.sentCount())
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, ErrNoWallets.Error()) {
			found = true
		}
	}
	if !found {
		t.Errorf("errors missing %q: %v", ErrNoWallets, res.Errors)
	}
	for _, r := range res.Results {
		if r.Error != ErrInsufficientFunds.Error() {
			t.Errorf("wallet %s error = %q, want insufficient balance", r.WalletID, r.Error)
		}
	}
}

func TestBundleModeSubmitsAtomically(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0)
	defer server.Close()

	pool := testPool(t, server, 3)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}
	bundler := &fakeBundler{}

	c := NewCoordinator(pool, testRegistry(builder), chain, bundler, fakeBlockhash{}, nil, Options{
		MinReserveSol: 0.01,
		BundleEnabled: true,
		BundleSize:    5,
	})

	res := c.CoordinatedBuy(context.Background(), TradeIntent{
		Mint:         "TestMint",
		SolPerWallet: 0.1,
	})

	if !res.Success {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	if res.Mode != ModeBundle {
		t.Errorf("mode = %q, want bundle", res.Mode)
	}
	bundles := bundler.bundles()
	if len(bundles) != 1 {
		t.Fatalf("submitted %d bundles, want 1", len(bundles))
	}
	// 3 wallet transactions plus the tip transfer
	if len(bundles[0]) != 4 {
		t.Errorf("bundle holds %d transactions, want 4", len(bundles[0]))
	}
	if len(res.BundleIDs) != 1 {
		t.Errorf("bundle ids = %v, want one", res.BundleIDs)
	}
	if chain.sentCount() != 0 {
		t.Errorf("individual sends = %d, want 0 on the atomic path", chain.sentCount())
	}
}

func TestBundleFailureFallsBackToParallel(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0)
	defer server.Close()

	pool := testPool(t, server, 3)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}
	bundler := &fakeBundler{err: fmt.Errorf("rate limited")}

	c := NewCoordinator(pool, testRegistry(builder), chain, bundler, fakeBlockhash{}, nil, Options{
		MinReserveSol:  0.01,
		BundleEnabled:  true,
		BundleSize:     5,
		ConfirmTimeout: time.Second,
	})

	res := c.CoordinatedBuy(context.Background(), TradeIntent{
		Mint:         "TestMint",
		SolPerWallet: 0.1,
	})

	if !res.Success {
		t.Fatalf("fallback should succeed, errors: %v", res.Errors)
	}
	if chain.sentCount() != 3 {
		t.Errorf("fallback sent %d transactions, want 3", chain.sentCount())
	}
	if len(res.BundleIDs) != 0 {
		t.Errorf("bundle ids = %v, want none after failure", res.BundleIDs)
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, ErrBundle.Error()) {
			found = true
		}
	}
	if !found {
		t.Errorf("errors missing bundle failure: %v", res.Errors)
	}
}

func TestMultiBundleChunksIndependently(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0)
	defer server.Close()

	pool := testPool(t, server, 7)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}
	bundler := &fakeBundler{}

	c := NewCoordinator(pool, testRegistry(builder), chain, bundler, fakeBlockhash{}, nil, Options{
		MinReserveSol: 0.01,
		BundleEnabled: true,
		BundleSize:    3,
	})

	res := c.CoordinatedBuy(context.Background(), TradeIntent{
		Mint:         "TestMint",
		SolPerWallet: 0.1,
	})

	if !res.Success {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	if res.Mode != ModeMultiBundle {
		t.Errorf("mode = %q, want multi-bundle", res.Mode)
	}
	// 7 wallets at K=3 is 3 chunks
	if len(res.BundleIDs) != 3 {
		t.Errorf("bundle ids = %v, want 3", res.BundleIDs)
	}
	succeeded := 0
	for _, r := range res.Results {
		if r.Success {
			succeeded++
		}
	}
	if succeeded != 7 {
		t.Errorf("succeeded = %d, want 7", succeeded)
	}
}

func TestPercentSellFloorsAmount(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 1001)
	defer server.Close()

	pool := testPool(t, server, 1)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}

	c := NewCoordinator(pool, testRegistry(builder), chain, nil, fakeBlockhash{}, nil, Options{
		ConfirmTimeout: time.Second,
	})

	res := c.CoordinatedSell(context.Background(), TradeIntent{
		Mint:    "TestMint",
		Percent: 50,
	})

	if !res.Success {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	reqs := builder.reqs()
	if len(reqs) != 1 {
		t.Fatalf("built %d requests, want 1", len(reqs))
	}
	if reqs[0].TokenAmount != 500 {
		t.Errorf("token amount = %d, want floor(1001*0.5) = 500", reqs[0].TokenAmount)
	}
}

func TestSellCreditsExpectedProceeds(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 1000)
	defer server.Close()

	pool := testPool(t, server, 1)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}

	c := NewCoordinator(pool, testRegistry(builder), chain, nil, fakeBlockhash{}, nil, Options{
		ConfirmTimeout: time.Second,
	})

	res := c.CoordinatedSell(context.Background(), TradeIntent{
		Mint:    "TestMint",
		Percent: 100,
	})

	if !res.Success {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	// 1000 tokens quoted at 1000 lamports each
	want := float64(1_000_000) / 1e9
	if res.Results[0].SolAmount != want {
		t.Errorf("sell SolAmount = %f, want %f from builder quote", res.Results[0].SolAmount, want)
	}
	if res.TotalSolOut != want {
		t.Errorf("TotalSolOut = %f, want %f", res.TotalSolOut, want)
	}
	if res.TotalSolIn != 0 {
		t.Errorf("TotalSolIn = %f, want 0 on a sell", res.TotalSolIn)
	}
}

func TestBundleOverrideOverflowFailsLoudly(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0)
	defer server.Close()

	pool := testPool(t, server, 7)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}
	bundler := &fakeBundler{}

	c := NewCoordinator(pool, testRegistry(builder), chain, bundler, fakeBlockhash{}, nil, Options{
		MinReserveSol: 0.01,
		BundleEnabled: true,
		BundleSize:    5,
	})

	res := c.CoordinatedBuy(context.Background(), TradeIntent{
		Mint:         "TestMint",
		SolPerWallet: 0.1,
		Mode:         ModeBundle, // explicit single bundle for 7 wallets
	})

	if !res.Success {
		t.Fatalf("bundled wallets should succeed, errors: %v", res.Errors)
	}
	if len(res.Results) != 7 {
		t.Fatalf("got %d results, want one per wallet", len(res.Results))
	}
	succeeded, overflowed := 0, 0
	for _, r := range res.Results {
		switch {
		case r.Success:
			succeeded++
		case strings.Contains(r.Error, "exceeds bundle capacity"):
			overflowed++
		default:
			t.Errorf("wallet %s unexpected error %q", r.WalletID, r.Error)
		}
	}
	if succeeded != 5 || overflowed != 2 {
		t.Errorf("succeeded/overflowed = %d/%d, want 5/2", succeeded, overflowed)
	}
}

func TestSellWithoutPositionFails(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0)
	defer server.Close()

	pool := testPool(t, server, 2)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}

	c := NewCoordinator(pool, testRegistry(builder), chain, nil, fakeBlockhash{}, nil, Options{})

	res := c.CoordinatedSell(context.Background(), TradeIntent{
		Mint:    "TestMint",
		Percent: 100,
	})

	if res.Success {
		t.Fatal("expected failure when no wallet holds the token")
	}
	for _, r := range res.Results {
		if r.Error != ErrNoPosition.Error() {
			t.Errorf("wallet %s error = %q, want no position", r.WalletID, r.Error)
		}
	}
}

func TestBuyRejectsNonPositiveAmount(t *testing.T) {
	c := &Coordinator{}
	res := c.CoordinatedBuy(context.Background(), TradeIntent{Mint: "M", SolPerWallet: 0})
	if res.Success {
		t.Error("expected failure for zero amount")
	}
}

func TestSellRejectsInvalidPercent(t *testing.T) {
	c := &Coordinator{}
	res := c.CoordinatedSell(context.Background(), TradeIntent{Mint: "M", Percent: 150})
	if res.Success {
		t.Error("expected failure for percent over 100")
	}
	res = c.CoordinatedSell(context.Background(), TradeIntent{Mint: "M"})
	if res.Success {
		t.Error("expected failure without amount or percent")
	}
}

func TestSequentialConfirmsEachLeg(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0)
	defer server.Close()

	pool := testPool(t, server, 2)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: true}

	c := NewCoordinator(pool, testRegistry(builder), chain, nil, fakeBlockhash{}, nil, Options{
		ConfirmTimeout: 3 * time.Second,
	})

	res := c.CoordinatedBuy(context.Background(), TradeIntent{
		Mint:         "TestMint",
		SolPerWallet: 0.1,
		Mode:         ModeSequential,
	})

	if !res.Success {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	if res.Mode != ModeSequential {
		t.Errorf("mode = %q, want sequential", res.Mode)
	}
	for _, r := range res.Results {
		if !r.Success || r.TxID == "" {
			t.Errorf("wallet %s = %+v, want confirmed success", r.WalletID, r)
		}
	}
}

func TestSequentialTimeoutKeepsSignature(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0)
	defer server.Close()

	pool := testPool(t, server, 1)
	builder := &fakeBuilder{}
	chain := &fakeChain{confirm: false} // never confirms

	c := NewCoordinator(pool, testRegistry(builder), chain, nil, fakeBlockhash{}, nil, Options{
		ConfirmTimeout: 1200 * time.Millisecond,
	})

	res := c.CoordinatedBuy(context.Background(), TradeIntent{
		Mint:         "TestMint",
		SolPerWallet: 0.1,
		Mode:         ModeSequential,
	})

	if res.Success {
		t.Fatal("expected failure on confirmation timeout")
	}
	if len(res.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(res.Results))
	}
	r := res.Results[0]
	if r.TxID == "" {
		t.Error("timed-out leg should keep its signature")
	}
	if !strings.Contains(r.Error, ErrConfirmTimeout.Error()) {
		t.Errorf("error = %q, want confirmation timeout", r.Error)
	}
}

func TestSimulateEstimatesFees(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0)
	defer server.Close()

	pool := testPool(t, server, 6)
	builder := &fakeBuilder{}
	bundler := &fakeBundler{}

	c := NewCoordinator(pool, testRegistry(builder), &fakeChain{}, bundler, fakeBlockhash{}, nil, Options{
		MinReserveSol: 0.01,
		PriorityFee:   100_000,
		BundleEnabled: true,
		BundleSize:    5,
	})

	sim := c.Simulate(context.Background(), TradeIntent{
		Mint:         "TestMint",
		SolPerWallet: 0.2,
	})

	if !sim.Feasible {
		t.Fatal("expected feasible simulation")
	}
	if sim.Mode != ModeMultiBundle {
		t.Errorf("mode = %q, want multi-bundle", sim.Mode)
	}
	if sim.BundleCount != 2 {
		t.Errorf("bundle count = %d, want 2", sim.BundleCount)
	}
	// 6 wallets * 100k priority + 2 bundles * 10k tip
	if sim.EstimatedFees != 620_000 {
		t.Errorf("estimated fees = %d, want 620000", sim.EstimatedFees)
	}
	if sim.TotalSolIn < 1.19 || sim.TotalSolIn > 1.21 {
		t.Errorf("total sol in = %f, want 1.2", sim.TotalSolIn)
	}
}

func TestQuoteAggregatesWallets(t *testing.T) {
	server := balanceServer(t, 10_000_000_000, 0)
	defer server.Close()

	pool := testPool(t, server, 2)
	builder := &fakeBuilder{}

	c := NewCoordinator(pool, testRegistry(builder), &fakeChain{}, nil, fakeBlockhash{}, nil, Options{
		MinReserveSol: 0.01,
	})

	// Quote skips the chain; balances are zero until refreshed, so seed them
	c.pool.RefreshBalances(context.Background())

	qb, err := c.CoordinatedQuote(context.Background(), TradeIntent{
		Mint:         "TestMint",
		Action:       ActionBuy,
		SolPerWallet: 0.1,
	})
	if err != nil {
		t.Fatalf("CoordinatedQuote: %v", err)
	}
	if len(qb.Quotes) != 2 {
		t.Fatalf("got %d quotes, want 2", len(qb.Quotes))
	}
	if qb.TotalOutput != qb.TotalInput*2 {
		t.Errorf("totals = in %d out %d, fake doubles input", qb.TotalInput, qb.TotalOutput)
	}
}
