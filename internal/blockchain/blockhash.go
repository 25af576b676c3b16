package blockchain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// CachedBlockhash holds the cached blockhash with metadata
type CachedBlockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// BlockhashCache provides a double-buffered blockhash cache with background prefetching
type BlockhashCache struct {
	// Double buffer: current is always valid, next is being fetched
	current atomic.Pointer[CachedBlockhash]
	next    atomic.Pointer[CachedBlockhash]

	rpc      *RPCClient
	ttl      time.Duration
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBlockhashCache creates a new double-buffered blockhash cache
func NewBlockhashCache(rpc *RPCClient, refreshInterval, ttl time.Duration) *BlockhashCache {
	return &BlockhashCache{
		rpc:      rpc,
		interval: refreshInterval,
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background refresh goroutine. The initial fetch must succeed.
func (c *BlockhashCache) Start() error {
	if err := c.fetchAndRotate(); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.prefetchLoop()

	log.Info().
		Dur("interval", c.interval).
		Dur("ttl", c.ttl).
		Msg("blockhash cache started")

	return nil
}

// Stop stops the background refresh
func (c *BlockhashCache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Get returns the cached blockhash without blocking on the happy path
func (c *BlockhashCache) Get() (string, error) {
	cached := c.current.Load()
	if cached != nil && time.Since(cached.FetchedAt) < c.ttl {
		return cached.Hash, nil
	}

	next := c.next.Load()
	if next != nil && time.Since(next.FetchedAt) < c.ttl {
		return next.Hash, nil
	}

	// Both buffers stale - force synchronous refresh (rare)
	log.Warn().Msg("blockhash cache miss, forcing sync refresh")
	if err := c.fetchAndRotate(); err != nil {
		return "", err
	}

	return c.current.Load().Hash, nil
}

func (c *BlockhashCache) prefetchLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.fetchAndRotate(); err != nil {
				log.Warn().Err(err).Msg("blockhash prefetch failed")
			}
		}
	}
}

func (c *BlockhashCache) fetchAndRotate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return err
	}

	newHash := &CachedBlockhash{
		Hash:                 result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
		FetchedAt:            time.Now(),
	}

	// Rotate: next -> current, new -> next
	current := c.current.Load()
	c.current.Store(c.next.Load())
	c.next.Store(newHash)

	// Bootstrap case: if current was nil, set it directly
	if current == nil {
		c.current.Store(newHash)
	}

	return nil
}
