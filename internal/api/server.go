package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"solana-swarm-bot/internal/health"
	"solana-swarm-bot/internal/mirror"
	"solana-swarm-bot/internal/service"
	"solana-swarm-bot/internal/storage"
	"solana-swarm-bot/internal/swarm"
	"solana-swarm-bot/internal/venue"
)

// Server exposes the service verbs over HTTP
type Server struct {
	app     *fiber.App
	svc     *service.Service
	checker *health.Checker
	host    string
	port    int
}

// NewServer creates the API server
func NewServer(host string, port int, svc *service.Service, checker *health.Checker) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	s := &Server{
		app:     app,
		svc:     svc,
		checker: checker,
		host:    host,
		port:    port,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	s.app.Get("/wallets", s.handleWallets)
	s.app.Post("/wallets/:id/enable", s.handleWalletEnable)
	s.app.Post("/wallets/:id/disable", s.handleWalletDisable)
	s.app.Post("/wallets/refresh", s.handleRefreshBalances)
	s.app.Post("/wallets/distribute", s.handleDistribute)
	s.app.Post("/wallets/consolidate", s.handleConsolidate)
	s.app.Post("/wallets/consolidate-tokens", s.handleConsolidateTokens)

	s.app.Post("/trade/buy", s.handleBuy)
	s.app.Post("/trade/sell", s.handleSell)
	s.app.Post("/trade/quote", s.handleQuote)
	s.app.Post("/trade/simulate", s.handleSimulate)
	s.app.Get("/trade/history", s.handleHistory)

	s.app.Get("/triggers", s.handleTriggers)
	s.app.Post("/triggers/stop-loss", s.handleStopLoss)
	s.app.Post("/triggers/take-profit", s.handleTakeProfit)
	s.app.Delete("/triggers/:id", s.handleRemoveTrigger)

	s.app.Get("/dca", s.handleDCAList)
	s.app.Post("/dca", s.handleDCASchedule)
	s.app.Delete("/dca/:id", s.handleDCACancel)
	s.app.Post("/dca/:id/pause", s.handleDCAPause)
	s.app.Post("/dca/:id/resume", s.handleDCAResume)

	s.app.Get("/mirror", s.handleMirrorList)
	s.app.Post("/mirror", s.handleMirrorAdd)
	s.app.Delete("/mirror/:address", s.handleMirrorRemove)
	s.app.Put("/mirror/:address/config", s.handleMirrorConfig)
	s.app.Get("/mirror/:address/stats", s.handleMirrorStats)

	s.app.Get("/presets", s.handlePresetList)
	s.app.Post("/presets", s.handlePresetSave)
	s.app.Get("/presets/:name", s.handlePresetShow)
	s.app.Delete("/presets/:name", s.handlePresetDelete)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if s.checker == nil {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
	}
	report := s.checker.Report()
	status := fiber.StatusOK
	if !report.Healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}

func (s *Server) handleWallets(c *fiber.Ctx) error {
	return c.JSON(s.svc.Wallets())
}

func (s *Server) handleWalletEnable(c *fiber.Ctx) error {
	if err := s.svc.EnableWallet(c.Params("id")); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleWalletDisable(c *fiber.Ctx) error {
	if err := s.svc.DisableWallet(c.Params("id")); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleRefreshBalances(c *fiber.Ctx) error {
	return c.JSON(s.svc.RefreshBalances(c.Context()))
}

func (s *Server) handleDistribute(c *fiber.Ctx) error {
	var body struct {
		AmountSol float64 `json:"amountSol"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	results, err := s.svc.DistributeSOL(c.Context(), body.AmountSol)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(results)
}

func (s *Server) handleConsolidate(c *fiber.Ctx) error {
	results, err := s.svc.ConsolidateSOL(c.Context())
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(results)
}

func (s *Server) handleConsolidateTokens(c *fiber.Ctx) error {
	var body struct {
		Mint string `json:"mint"`
	}
	if err := c.BodyParser(&body); err != nil || body.Mint == "" {
		return c.Status(400).JSON(fiber.Map{"error": "mint required"})
	}
	results, err := s.svc.ConsolidateTokens(c.Context(), body.Mint)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(results)
}

// tradeRequest is the shared trade payload
type tradeRequest struct {
	Mint         string   `json:"mint"`
	SolPerWallet float64  `json:"solPerWallet,omitempty"`
	TokenAmount  uint64   `json:"tokenAmount,omitempty"`
	Percent      float64  `json:"percent,omitempty"`
	Wallets      []string `json:"wallets,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	SlippageBps  int      `json:"slippageBps,omitempty"`
	PriorityFee  uint64   `json:"priorityFee,omitempty"`
	Venue        string   `json:"venue,omitempty"`
	PoolAddress  string   `json:"poolAddress,omitempty"`
	Preset       string   `json:"preset,omitempty"`
}

func (r tradeRequest) intent() swarm.TradeIntent {
	return swarm.TradeIntent{
		Mint:         r.Mint,
		SolPerWallet: r.SolPerWallet,
		TokenAmount:  r.TokenAmount,
		Percent:      r.Percent,
		Wallets:      r.Wallets,
		Mode:         swarm.ExecutionMode(r.Mode),
		SlippageBps:  r.SlippageBps,
		PriorityFee:  r.PriorityFee,
		Venue:        venue.Tag(r.Venue),
		PoolAddress:  r.PoolAddress,
	}
}

func (s *Server) handleBuy(c *fiber.Ctx) error {
	var body tradeRequest
	if err := c.BodyParser(&body); err != nil || body.Mint == "" {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	res, err := s.svc.Buy(c.Context(), body.intent(), body.Preset)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(res)
}

func (s *Server) handleSell(c *fiber.Ctx) error {
	var body tradeRequest
	if err := c.BodyParser(&body); err != nil || body.Mint == "" {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	res, err := s.svc.Sell(c.Context(), body.intent(), body.Preset)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(res)
}

func (s *Server) handleQuote(c *fiber.Ctx) error {
	var body tradeRequest
	if err := c.BodyParser(&body); err != nil || body.Mint == "" {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	intent := body.intent()
	if body.Percent > 0 || body.TokenAmount > 0 {
		intent.Action = swarm.ActionSell
	}
	qb, err := s.svc.Quote(c.Context(), intent)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(qb)
}

func (s *Server) handleSimulate(c *fiber.Ctx) error {
	var body tradeRequest
	if err := c.BodyParser(&body); err != nil || body.Mint == "" {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	intent := body.intent()
	if body.Percent > 0 || body.TokenAmount > 0 {
		intent.Action = swarm.ActionSell
	}
	return c.JSON(s.svc.Simulate(c.Context(), intent))
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	trades, err := s.svc.TradeHistory(c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(trades)
}

type triggerRequest struct {
	Mint        string   `json:"mint"`
	Price       float64  `json:"price"`
	SellPercent float64  `json:"sellPercent"`
	Wallets     []string `json:"wallets,omitempty"`
	SlippageBps int      `json:"slippageBps,omitempty"`
}

func (s *Server) handleTriggers(c *fiber.Ctx) error {
	return c.JSON(s.svc.Triggers())
}

func (s *Server) handleStopLoss(c *fiber.Ctx) error {
	var body triggerRequest
	if err := c.BodyParser(&body); err != nil || body.Mint == "" || body.Price <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	if body.SellPercent == 0 {
		body.SellPercent = 100
	}
	return c.JSON(s.svc.AddStopLoss(body.Mint, body.Price, body.SellPercent, body.Wallets, body.SlippageBps))
}

func (s *Server) handleTakeProfit(c *fiber.Ctx) error {
	var body triggerRequest
	if err := c.BodyParser(&body); err != nil || body.Mint == "" || body.Price <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	if body.SellPercent == 0 {
		body.SellPercent = 100
	}
	return c.JSON(s.svc.AddTakeProfit(body.Mint, body.Price, body.SellPercent, body.Wallets, body.SlippageBps))
}

func (s *Server) handleRemoveTrigger(c *fiber.Ctx) error {
	if err := s.svc.RemoveTrigger(c.Params("id")); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleDCAList(c *fiber.Ctx) error {
	return c.JSON(s.svc.DCARecords())
}

func (s *Server) handleDCASchedule(c *fiber.Ctx) error {
	var body struct {
		Mint              string   `json:"mint"`
		AmountPerInterval float64  `json:"amountPerInterval"`
		IntervalMs        int      `json:"intervalMs"`
		TotalIntervals    int      `json:"totalIntervals"`
		Wallets           []string `json:"wallets,omitempty"`
	}
	if err := c.BodyParser(&body); err != nil || body.Mint == "" {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	rec, err := s.svc.ScheduleDCA(body.Mint, body.AmountPerInterval,
		time.Duration(body.IntervalMs)*time.Millisecond, body.TotalIntervals, body.Wallets)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rec)
}

func (s *Server) handleDCACancel(c *fiber.Ctx) error {
	if err := s.svc.CancelDCA(c.Params("id")); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleDCAPause(c *fiber.Ctx) error {
	if err := s.svc.PauseDCA(c.Params("id")); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleDCAResume(c *fiber.Ctx) error {
	if err := s.svc.ResumeDCA(c.Params("id")); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

type mirrorRequest struct {
	Address string         `json:"address"`
	Name    string         `json:"name"`
	Config  *mirror.Config `json:"config,omitempty"`
}

func (s *Server) handleMirrorList(c *fiber.Ctx) error {
	type entry struct {
		Address string        `json:"address"`
		Name    string        `json:"name"`
		Enabled bool          `json:"enabled"`
		Config  mirror.Config `json:"config"`
		Stats   mirror.Stats  `json:"stats"`
	}
	var out []entry
	for _, t := range s.svc.MirrorTargets() {
		out = append(out, entry{
			Address: t.Address,
			Name:    t.Name,
			Enabled: t.Enabled,
			Config:  t.Config(),
			Stats:   t.Stats(),
		})
	}
	return c.JSON(out)
}

func (s *Server) handleMirrorAdd(c *fiber.Ctx) error {
	var body mirrorRequest
	if err := c.BodyParser(&body); err != nil || body.Address == "" {
		return c.Status(400).JSON(fiber.Map{"error": "address required"})
	}
	cfg := mirror.DefaultConfig()
	if body.Config != nil {
		cfg = *body.Config
	}
	t, err := s.svc.AddMirrorTarget(body.Address, body.Name, cfg)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"address": t.Address, "name": t.Name, "config": t.Config()})
}

func (s *Server) handleMirrorRemove(c *fiber.Ctx) error {
	if err := s.svc.RemoveMirrorTarget(c.Params("address")); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleMirrorConfig(c *fiber.Ctx) error {
	var cfg mirror.Config
	if err := c.BodyParser(&cfg); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	if err := s.svc.SetMirrorConfig(c.Params("address"), cfg); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleMirrorStats(c *fiber.Ctx) error {
	stats, err := s.svc.MirrorStats(c.Params("address"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(stats)
}

func (s *Server) handlePresetList(c *fiber.Ctx) error {
	presets, err := s.svc.Presets()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(presets)
}

func (s *Server) handlePresetSave(c *fiber.Ctx) error {
	var body struct {
		Name     string                 `json:"name"`
		Settings storage.PresetSettings `json:"settings"`
	}
	if err := c.BodyParser(&body); err != nil || body.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name required"})
	}
	if err := s.svc.SavePreset(body.Name, body.Settings); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handlePresetShow(c *fiber.Ctx) error {
	p, err := s.svc.Preset(c.Params("name"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(p)
}

func (s *Server) handlePresetDelete(c *fiber.Ctx) error {
	if err := s.svc.DeletePreset(c.Params("name")); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Start begins serving
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting api server")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
