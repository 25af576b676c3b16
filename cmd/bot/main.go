package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/api"
	"solana-swarm-bot/internal/blockchain"
	"solana-swarm-bot/internal/bundle"
	"solana-swarm-bot/internal/config"
	"solana-swarm-bot/internal/events"
	"solana-swarm-bot/internal/health"
	"solana-swarm-bot/internal/mirror"
	"solana-swarm-bot/internal/service"
	"solana-swarm-bot/internal/storage"
	"solana-swarm-bot/internal/swarm"
	"solana-swarm-bot/internal/triggers"
	"solana-swarm-bot/internal/venue"
	"solana-swarm-bot/internal/wallet"
	"solana-swarm-bot/internal/websocket"
)

func main() {
	setupLogger()
	banner()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.NewManager(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Wallet keys: primary plus the numbered series
	var signers []*blockchain.Signer
	primary := cfg.PrimaryKey()
	if primary == "" {
		log.Fatal().Msg("primary wallet key not set")
	}
	for i, raw := range append([]string{primary}, cfg.ExtraKeys()...) {
		signer, err := blockchain.ParseSigner(raw)
		if err != nil {
			log.Fatal().Err(err).Int("index", i+1).Msg("invalid wallet key")
		}
		signers = append(signers, signer)
	}

	rpc := blockchain.NewRPCClient(cfg.RPCURL(), cfg.Get().RPC.FallbackURL, os.Getenv(cfg.Get().RPC.APIKeyEnv))

	blockhash := blockchain.NewBlockhashCache(rpc, 5*time.Second, 30*time.Second)
	if err := blockhash.Start(); err != nil {
		log.Fatal().Err(err).Msg("blockhash cache failed to start")
	}

	pool, err := wallet.NewPool(rpc, signers)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet pool setup failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool.RefreshBalances(ctx)
	cancel()

	// Venue builders
	venueCfg := cfg.Get().Venue
	timeout := time.Duration(venueCfg.TimeoutSec) * time.Second
	prices := venue.NewPriceClient(venueCfg.PumpAPIURL, timeout)
	registry := venue.NewRegistry(venue.TagPumpFun)
	registry.Register(venue.TagPumpFun, venue.NewPumpBuilder(venueCfg.PumpAPIURL, cfg.VenueAuthToken(), "pump", timeout, prices))
	registry.Register(venue.TagPumpSwap, venue.NewPumpBuilder(venueCfg.PumpAPIURL, cfg.VenueAuthToken(), "pump-amm", timeout, prices))
	registry.Register(venue.TagRaydium, venue.NewSwapBuilder(venueCfg.SwapAPIURL, timeout))

	// Bundle client
	var bundler swarm.BundleClient
	var bundleProbe health.BundleProbe
	bundleCfg := cfg.Get().Bundle
	if bundleCfg.Enabled {
		bc := bundle.NewClient(cfg.BundleURL(), bundleCfg.TipLamports)
		bundler = bc
		bundleProbe = bc
	}

	bus := events.NewBus(256)

	swarmCfg := cfg.GetSwarm()
	coordinator := swarm.NewCoordinator(pool, registry, rpc, bundler, blockhash, bus, swarm.Options{
		AmountVariancePct: swarmCfg.AmountVariancePct,
		MinReserveSol:     swarmCfg.MinReserveSol,
		SlippageBps:       swarmCfg.SlippageBps,
		PriorityFee:       swarmCfg.PriorityFee,
		StaggerDelay:      time.Duration(swarmCfg.StaggerDelayMs) * time.Millisecond,
		RateLimit:         time.Duration(swarmCfg.RateLimitMs) * time.Millisecond,
		ConfirmTimeout:    cfg.ConfirmTimeout(),
		SettleDelay:       cfg.SettleDelay(),
		BundleEnabled:     bundleCfg.Enabled,
		BundleSize:        bundleCfg.MaxPerBundle,
		SkipPreflight:     cfg.SkipPreflight(),
	})

	// Storage: trade history and presets
	db, err := storage.NewDB(cfg.Get().Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("storage setup failed")
	}
	coordinator.SetRecorder(storage.NewRecorder(db))
	presets := storage.NewPresetStore(db)

	// Websocket subscriptions for the mirror engine
	wsCfg := cfg.Get().WS
	ws := websocket.NewClient(cfg.WSURL(),
		time.Duration(wsCfg.ReconnectDelayMs)*time.Millisecond,
		time.Duration(wsCfg.PingIntervalMs)*time.Millisecond)
	if err := ws.Connect(); err != nil {
		log.Warn().Err(err).Msg("websocket connect failed, mirroring unavailable until reconnect")
	}

	mirrorCfg := cfg.Get().Mirror
	mirrors := mirror.NewEngine(coordinator, rpc, ws, bus, mirror.Options{
		MaxTargets:        mirrorCfg.MaxTargets,
		DefaultMultiplier: mirrorCfg.DefaultMultiplier,
		SeenTTL:           time.Duration(mirrorCfg.SeenTTLMinutes) * time.Minute,
	})

	triggerCfg := cfg.Get().Triggers
	scheduler := triggers.NewScheduler(coordinator, prices, bus,
		time.Duration(triggerCfg.PriceIntervalSec)*time.Second,
		triggerCfg.StopLossSlippageBps)
	scheduler.Start()

	checker := health.NewChecker(rpc, prices, venue.SOLMint, bundleProbe, 30*time.Second)
	checker.Start()

	svc := service.New(coordinator, mirrors, scheduler, presets, db, rpc, blockhash, cfg.SkipPreflight())

	apiCfg := cfg.Get().API
	server := api.NewServer(apiCfg.ListenHost, apiCfg.ListenPort, svc, checker)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	log.Info().
		Int("wallets", len(signers)).
		Bool("bundles", bundleCfg.Enabled).
		Str("api", fmt.Sprintf("%s:%d", apiCfg.ListenHost, apiCfg.ListenPort)).
		Msg("swarm bot running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	server.Shutdown()
	scheduler.Stop()
	mirrors.Stop()
	ws.Close()
	checker.Stop()
	blockhash.Stop()
	db.Close()
}

func banner() {
	color.Cyan("  Solana Swarm Bot")
	color.White("  coordinated multi-wallet execution")
	fmt.Println()
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
