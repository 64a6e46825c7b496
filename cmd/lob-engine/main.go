package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/handikong/lobcore/internal/engine"
	"github.com/handikong/lobcore/internal/matching"
	"github.com/handikong/lobcore/pkg/common"
	"github.com/handikong/lobcore/pkg/config"
	"github.com/handikong/lobcore/pkg/logger"
	"github.com/handikong/lobcore/pkg/metrics"
	"github.com/handikong/lobcore/pkg/ratelimit"
)

// EngineYAML is the on-disk shape loaded by pkg/config for this binary,
// conventionally config/lob-engine.yaml.
type EngineYAML struct {
	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	WALDir      string `mapstructure:"wal_dir"`
	MailboxSize int    `mapstructure:"mailbox_size"`
	BatchMax    int    `mapstructure:"batch_max"`
}

func defaultEngineYAML() EngineYAML {
	return EngineYAML{
		LogLevel:    "info",
		MetricsAddr: "127.0.0.1:9090",
		WALDir:      "",
		MailboxSize: 4096,
		BatchMax:    256,
	}
}

// validateEngineYAML rejects a config whose actor-sizing knobs would wedge
// NewSymbolActor's defaulting logic into silently picking its own values.
func validateEngineYAML(out interface{}) error {
	cfg, ok := out.(*EngineYAML)
	if !ok {
		return fmt.Errorf("unexpected config type %T", out)
	}
	if cfg.MailboxSize <= 0 {
		return fmt.Errorf("mailbox_size must be > 0, got %d", cfg.MailboxSize)
	}
	if cfg.BatchMax <= 0 {
		return fmt.Errorf("batch_max must be > 0, got %d", cfg.BatchMax)
	}
	return nil
}

func main() {
	cfg := defaultEngineYAML()
	if _, err := config.LoadAndWatch("lob-engine", &cfg, validateEngineYAML); err != nil {
		// No config/lob-engine.yaml on disk, or it failed validation: run
		// the demo on built-in defaults instead of refusing to start.
		cfg = defaultEngineYAML()
	}

	logger.Init("lob-engine", cfg.LogLevel)
	defer logger.Sync()

	metrics.MustRegister()

	instanceID := common.New()
	baseCtx := context.WithValue(context.Background(), logger.TraceIdKey, instanceID)
	logger.Info(baseCtx, "starting lob-engine", zap.String("instance_id", instanceID))

	ctx, stop := signal.NotifyContext(baseCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := engine.NewChanBus(1 << 16)

	eng := engine.NewEngine(engine.EngineConfig{
		EventBusSize:    1 << 16,
		ActorCfg:        engine.ActorConfig{MailboxSize: cfg.MailboxSize, BatchMax: cfg.BatchMax},
		Bus:             bus,
		EnablePublisher: cfg.WALDir != "",
		EnableCmdWAL:    cfg.WALDir != "",
		EnableOutbox:    cfg.WALDir != "",
		WALDir:          cfg.WALDir,
		WALBufSize:      64 << 10,
		OutboxBufSize:   64 << 10,
		PublisherPoll:   20 * time.Millisecond,
		CmdCodec:        engine.BinaryCMDCode{},
		EvCodec:         engine.EvCmdCodec{},
		BookFactory: func(symbol string) (engine.OrderBook, error) {
			return engine.NewBookAdapter(matching.NewBook(1024)), nil
		},
	})
	defer eng.Stop()

	limiter := ratelimit.NewStore(50, 100, 10*time.Minute)
	limiter.StartJanitor(ctx, time.Minute)

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "metrics server stopped", zap.Error(err))
		}
	}()

	go consumeEvents(ctx, eng)
	go runSyntheticFeed(ctx, eng, limiter)

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func consumeEvents(ctx context.Context, eng *engine.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-eng.Events():
			if ev.Type == engine.EvTrade {
				logger.Info(ctx, "trade",
					zap.Uint64("maker_order_id", ev.MakerOrderID),
					zap.Uint64("taker_order_id", ev.TakerOrderID),
					zap.Int64("price", ev.Price),
					zap.Int64("qty", ev.Qty),
				)
			}
		}
	}
}

// runSyntheticFeed is a stand-in for a real order-entry front end. It exists
// only to exercise the engine end to end when this binary is run directly.
func runSyntheticFeed(ctx context.Context, eng *engine.Engine, limiter *ratelimit.Store) {
	const symbol = "DEMO"
	rnd := rand.New(rand.NewSource(1))
	var nextID uint64 = 1

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !limiter.Allow(symbol) {
				continue
			}
			nextID++
			side := matching.Buy
			if rnd.Intn(2) == 0 {
				side = matching.Sell
			}
			cmd := engine.Command{
				Type:    engine.CmdSubmitLimit,
				ReqID:   nextID,
				OrderID: nextID,
				UserID:  uint64(rnd.Intn(100)),
				Side:    uint8(side),
				Price:   int64(95 + rnd.Intn(10)),
				Qty:     int64(1 + rnd.Intn(20)),
			}
			if err := eng.TrySubmit(symbol, cmd); err != nil {
				reqCtx := context.WithValue(ctx, logger.TraceIdKey, common.New())
				logger.Warn(reqCtx, "submit rejected", zap.Uint64("order_id", cmd.OrderID), zap.Error(err))
			}
		}
	}
}
