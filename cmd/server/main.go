// Command server runs the trading service: the daily job table (Phase-1
// screen, Phase-2 selection, market-open entries, the trading-hours tick,
// close-out, cache flush), its Recovery Manager catch-up pass on start,
// and a minimal health/admin HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/kquant-trader/internal/apperr"
	"github.com/aristath/kquant-trader/internal/brokerage"
	"github.com/aristath/kquant-trader/internal/cache"
	"github.com/aristath/kquant-trader/internal/config"
	"github.com/aristath/kquant-trader/internal/database"
	"github.com/aristath/kquant-trader/internal/deployment"
	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/governor"
	"github.com/aristath/kquant-trader/internal/modules/market_hours"
	"github.com/aristath/kquant-trader/internal/orchestration"
	"github.com/aristath/kquant-trader/internal/phase2"
	"github.com/aristath/kquant-trader/internal/risk"
	"github.com/aristath/kquant-trader/internal/scheduler"
	"github.com/aristath/kquant-trader/internal/scoring"
	"github.com/aristath/kquant-trader/internal/screener"
	"github.com/aristath/kquant-trader/internal/telemetry"
	"github.com/aristath/kquant-trader/internal/token"
	"github.com/aristath/kquant-trader/internal/trading"
	"github.com/aristath/kquant-trader/pkg/logger"
)

// Exit codes per the service's CLI contract.
const (
	exitOK            = 0
	exitConfigError   = 2
	exitDependencyErr = 3
	exitAuthError     = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		configPath = v
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfigError
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	log.Info().Str("environment", cfg.Secrets.Environment).Msg("starting")

	deployLock := deployment.NewDeploymentLock(filepath.Join(cfg.Paths.DataRoot, "deploy.lock"), zerologDeploymentLogger{log})
	if err := deployLock.AcquireLock(10 * time.Minute); err != nil {
		log.Error().Err(err).Msg("another instance appears to be running")
		return exitDependencyErr
	}
	defer deployLock.ReleaseLock()

	db, err := database.New(database.Config{
		Path:    cfg.Database.Path,
		Profile: database.ProfileLedger,
		Name:    "trading",
	})
	if err != nil {
		log.Error().Err(err).Msg("open database")
		return exitDependencyErr
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Error().Err(err).Msg("migrate database")
		return exitDependencyErr
	}
	store := database.NewStore(db)

	var notifier telemetry.Notifier
	if cfg.Secrets.NotificationBotURL != "" {
		notifier = telemetry.NewWebhookNotifier(cfg.Secrets.NotificationBotURL, cfg.Secrets.NotificationBotKey)
	}
	_ = telemetry.New(db.Conn(), notifier, log)

	var redisClient *redis.Client
	if redisOpts, err := redis.ParseURL(cfg.Secrets.CacheBackendURL); err != nil {
		log.Warn().Err(err).Msg("cache backend url invalid, running with in-process fallback cache only")
	} else {
		redisClient = redis.NewClient(redisOpts)
	}
	memCache := cache.New("kquant", redisClient, log)

	gov := governor.New(governor.Config{Windows: []governor.Window{
		{Name: "1s", Span: time.Second, Cap: cfg.RateLimit.OneSecond},
		{Name: "1m", Span: time.Minute, Cap: cfg.RateLimit.OneMinute},
		{Name: "1h", Span: time.Hour, Cap: cfg.RateLimit.OneHour},
	}}, log)

	// brokerage.New needs the token.Manager (as its refresher), and
	// token.New needs a token.Refresher that only the brokerage.Client
	// provides; each is only satisfiable by the other. lazyRef
	// breaks the cycle: it's handed to token.New as the Refresher, then
	// pointed at the real client once brokerage.New returns.
	lazyRef := &lazyRefresher{}
	tokenMgr := token.New(
		filepath.Join(cfg.Paths.DataRoot, "token", "state.json"),
		filepath.Join(cfg.Paths.DataRoot, "token", "state.lock"),
		lazyRef,
		log,
	)

	brokerClient := brokerage.New(brokerage.Config{
		PublicKey:  cfg.Secrets.AppKey,
		PrivateKey: cfg.Secrets.AppSecret,
		BaseURL:    brokerBaseURL(cfg.Secrets.Environment),
		Namespace:  "kquant",
		TTLs: cache.TTLs{
			cache.ClassPrice:     cfg.Cache.TTLs.Price(),
			cache.ClassOHLCV:     cfg.Cache.TTLs.OHLCV(),
			cache.ClassFinancial: cfg.Cache.TTLs.Financial(),
			cache.ClassUniverse:  cfg.Cache.TTLs.Universe(),
		},
	}, gov, tokenMgr, memCache, log)
	lazyRef.client = brokerClient

	if _, err := tokenMgr.GetValidToken(context.Background()); err != nil {
		log.Error().Err(err).Msg("initial token acquisition failed")
		return exitAuthError
	}

	dataSource := brokerage.NewMarketDataSource(brokerClient, 120)
	clock := market_hours.NewService()

	registry := scoring.NewRegistry()

	kelly := risk.NewKellySizer(risk.Config{
		MinTrades:       cfg.Risk.Kelly.MinTrades,
		MinFraction:     cfg.Risk.Kelly.MinPos,
		MaxFraction:     cfg.Risk.Kelly.MaxPos,
		HalfKelly:       cfg.Risk.Kelly.Fraction,
		DefaultFraction: cfg.Risk.Kelly.MinPos,
		Multipliers: risk.RegimeMultipliers{
			Bull:     cfg.Risk.RegimeAdjustments.Bull,
			Sideways: cfg.Risk.RegimeAdjustments.Sideways,
			Bear:     cfg.Risk.RegimeAdjustments.Bear,
			HighVol:  cfg.Risk.RegimeAdjustments.HighVol,
		},
	}, log)
	corrGate := risk.NewCorrelationGate()
	breaker := risk.NewCircuitBreaker(risk.BreakerConfig{
		DailyLossFraction:  cfg.Risk.CircuitBreaker.DailyLoss,
		ConsecLosses:       cfg.Risk.CircuitBreaker.ConsecLosses,
		ErrorSpikeCount:    cfg.Risk.CircuitBreaker.ErrorSpike,
		MarketMoveFraction: cfg.Risk.CircuitBreaker.MarketVol,
	}, log)
	drawdown := risk.NewMonitor(risk.DrawdownThresholds{
		Warn:      cfg.Risk.Drawdown.Warn,
		Reduce:    cfg.Risk.Drawdown.Reduce,
		Halt:      cfg.Risk.Drawdown.Halt,
		CloseHalf: cfg.Risk.Drawdown.CloseHalf,
		CloseAll:  cfg.Risk.Drawdown.CloseAll,
	}, log)

	engine := trading.New(
		brokerClient,
		store,
		clock,
		kelly, corrGate, breaker, drawdown,
		trading.Config{MaxHoldingDays: 20, SlippageWarnFrac: 0.005},
		log,
	)

	defaults := config.DefaultWeights()
	weights := domain.FactorWeights{
		Momentum: defaults["momentum"], Value: defaults["value"], Quality: defaults["quality"],
		Volume: defaults["volume"], Volatility: defaults["volatility"], Technical: defaults["technical"],
		MarketStrength: defaults["market_strength"],
	}

	scr := screener.New(dataSource, registry, screener.Config{
		Workers:        cfg.Concurrency.BrokerageMaxInflight,
		MinSuccessRate: 0.9,
		ScoreThreshold: 0.5,
		MaxWatchlist:   100,
		Weights:        weights,
	}, log)

	artifactStore := phase2.NewArtifactStore(filepath.Join(cfg.Paths.DataRoot, "daily_selection"))
	pipeline := phase2.New(dataSource, registry, artifactStore, phase2.Config{
		NumBatches: cfg.Phase2.Batches,
		SafetyFilter: phase2.SafetyFilterConfig{
			RiskMax: cfg.Phase2.LegacyFilter.RiskMax, VolumeMin: cfg.Phase2.LegacyFilter.VolumeMin,
			ConfidenceMin: cfg.Phase2.LegacyFilter.ConfidenceMin, TechnicalMin: cfg.Phase2.LegacyFilter.TechnicalMin,
		},
		PriorityW: phase2.PriorityWeights{
			Technical: cfg.Phase2.PriorityCalculation.TechnicalW, Volume: cfg.Phase2.PriorityCalculation.VolumeW,
			Volatility: cfg.Phase2.PriorityCalculation.VolatilityW,
		},
		VolFitMin: cfg.Phase2.PriorityCalculation.Volatility.Min, VolFitMax: cfg.Phase2.PriorityCalculation.Volatility.Max,
		VolFitScale: cfg.Phase2.PriorityCalculation.Volatility.Scale,
		TargetCounts: phase2.TargetCounts{
			Bullish: cfg.Phase2.TargetCounts.Bullish, Neutral: cfg.Phase2.TargetCounts.Neutral, Bearish: cfg.Phase2.TargetCounts.Bearish,
		},
		SectorCap: cfg.Phase2.SectorCap, CorrThreshold: 0.7, Weights: weights, CVaRConfidence: 0.95,
	}, log)

	regimeDetector := orchestration.NewIndexRegimeDetector(brokerClient, "069500", scoring.RegimeThresholds{
		BullReturn: 0.05, BearReturn: -0.05, HighVolLevel: 0.30,
	})

	equity := orchestration.EquityFromBalance(brokerClient)

	sched := scheduler.New(log)
	jobs := []scheduler.Job{
		orchestration.NewPhase1Job(scr, store),
		orchestration.NewPhase2Job(pipeline, store, regimeDetector),
		orchestration.NewMarketOpenJob(store, engine, brokerClient, clock, equity),
		orchestration.NewTradingTickJob(store, engine, brokerClient, clock),
		orchestration.NewMarketCloseJob(store, engine, brokerClient),
		orchestration.NewPerfCloseoutJob(store),
		orchestration.NewCacheFlushJob(memCache, "kquant"),
	}
	schedules := []string{
		scheduler.SchedulePhase1, scheduler.SchedulePhase2First, scheduler.ScheduleMarketOpen,
		scheduler.ScheduleTradingTick, scheduler.ScheduleMarketClose, scheduler.SchedulePerfCloseout,
		scheduler.ScheduleCacheFlush,
	}
	for i, job := range jobs {
		if aware, ok := job.(scheduler.LoggerAware); ok {
			aware.SetLogger(log)
		}
		if err := sched.AddJob(schedules[i], job); err != nil {
			log.Error().Err(err).Str("job", job.Name()).Msg("register job")
			return exitConfigError
		}
	}

	recovery := scheduler.NewRecoveryManager(cfg.Phase2.Batches)
	runStartupCatchUp(recovery, jobs, artifactStore, store, log)

	sched.Start()
	defer sched.Stop()

	srv := newAdminServer(store)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin http server")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return exitOK
}

// runStartupCatchUp asks the Recovery Manager whether today's jobs already
// ran, per the artifact/wall-clock evidence on disk, and runs every one it
// says is still pending before handing control to the live cron table.
// Phase-2 batches run as a single synchronous pipeline call rather than
// per-batch (see phase2.Pipeline.Run), so any non-empty BatchesToRun is
// treated as "Phase-2 needs a catch-up pass" rather than run batch by batch.
// Market-open/close and perf-closeout completion has no dedicated done-flag
// column in the schema, so those three DoneState fields are left at their
// zero value (not done) — a false negative here just means the jobs'
// own idempotent status checks run again, which is safe; a false positive
// would silently skip a catch-up the operator actually needed.
func runStartupCatchUp(recovery *scheduler.RecoveryManager, jobs []scheduler.Job, artifacts *phase2.ArtifactStore, store *database.Store, log zerolog.Logger) {
	now := time.Now().UTC()
	date := now.Format("2006-01-02")

	watchlist, err := store.GetActiveWatchlist()
	phase1Done := err == nil && len(watchlist) > 0

	plan := recovery.Plan(now, date, scheduler.DoneState{Phase1Done: phase1Done}, artifacts)

	run := func(name string) {
		for _, job := range jobs {
			if job.Name() != name {
				continue
			}
			if err := job.Run(); err != nil {
				log.Error().Err(err).Str("job", job.Name()).Msg("catch-up run failed")
			}
			return
		}
	}

	if plan.RunPhase1 {
		run("phase1_screen")
	}
	if len(plan.BatchesToRun) > 0 {
		run("phase2_selection")
	}
	if plan.RunMarketOpen {
		run("market_open")
	}
	if plan.StartTradingLoop {
		run("trading_tick")
	}
	if plan.RunMarketClose {
		run("market_close")
	}
	if plan.RunPerfCloseout {
		run("perf_closeout")
	}
	if plan.RunCacheFlush {
		run("cache_flush")
	}
}

func newAdminServer(store *database.Store) *http.Server {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET"}}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := store.GetActiveWatchlist(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/status", statusHandler)

	return &http.Server{Addr: ":8080", Handler: r}
}

// statusHandler reports host CPU and memory usage alongside the process's
// own uptime, the same pair of readings the teacher's system endpoint
// surfaces for its own operators.
func statusHandler(w http.ResponseWriter, r *http.Request) {
	type status struct {
		CPUPercent    float64 `json:"cpu_percent"`
		MemoryPercent float64 `json:"memory_percent"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	}

	s := status{UptimeSeconds: time.Since(processStart).Seconds()}
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

var processStart = time.Now()

func brokerBaseURL(environment string) string {
	if environment == "prod" {
		return "https://openapi.koreainvestment.com:9443"
	}
	return "https://openapivts.koreainvestment.com:29443"
}

// lazyRefresher breaks the brokerage.Client / token.Manager construction
// cycle: token.New needs a Refresher before brokerage.New exists.
type lazyRefresher struct {
	client *brokerage.Client
}

func (l *lazyRefresher) RefreshToken(ctx context.Context) (domain.TokenState, error) {
	if l.client == nil {
		return domain.TokenState{}, apperr.Catastrophic("token_refresh_before_client_ready", errors.New("brokerage client not yet constructed"))
	}
	return l.client.RefreshToken(ctx)
}

// zerologDeploymentLogger adapts zerolog.Logger to deployment.Logger.
type zerologDeploymentLogger struct{ log zerolog.Logger }

func (z zerologDeploymentLogger) Debug() deployment.LogEvent { return zerologEvent{z.log.Debug()} }
func (z zerologDeploymentLogger) Info() deployment.LogEvent  { return zerologEvent{z.log.Info()} }
func (z zerologDeploymentLogger) Warn() deployment.LogEvent  { return zerologEvent{z.log.Warn()} }
func (z zerologDeploymentLogger) Error() deployment.LogEvent { return zerologEvent{z.log.Error()} }

type zerologEvent struct{ e *zerolog.Event }

func (z zerologEvent) Str(k, v string) deployment.LogEvent                  { z.e.Str(k, v); return z }
func (z zerologEvent) Int(k string, v int) deployment.LogEvent              { z.e.Int(k, v); return z }
func (z zerologEvent) Err(err error) deployment.LogEvent                    { z.e.Err(err); return z }
func (z zerologEvent) Dur(k string, v time.Duration) deployment.LogEvent    { z.e.Dur(k, v); return z }
func (z zerologEvent) Bool(k string, v bool) deployment.LogEvent            { z.e.Bool(k, v); return z }
func (z zerologEvent) Interface(k string, v interface{}) deployment.LogEvent {
	z.e.Interface(k, v)
	return z
}
func (z zerologEvent) Msg(msg string) { z.e.Msg(msg) }
