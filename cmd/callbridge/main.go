// callbridge: bridges carrier phone calls to a realtime voice AI
// Accepts Twilio Media Streams and relays audio to OpenAI Realtime
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/teslashibe/go-callbridge/internal/config"
	"github.com/teslashibe/go-callbridge/internal/httpc"
	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/bridge"
	"github.com/teslashibe/go-callbridge/pkg/hub"
	"github.com/teslashibe/go-callbridge/pkg/metrics"
	"github.com/teslashibe/go-callbridge/pkg/realtime"
	"github.com/teslashibe/go-callbridge/pkg/registry"
	"github.com/teslashibe/go-callbridge/pkg/server"
	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

var (
	version  = "1.0.0"
	port     = flag.Int("port", config.DefaultPort, "HTTP server port")
	debug    = flag.Bool("debug", false, "Enable request logging")
	logLevel = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	profile  = flag.String("profile", "", "Agent profile YAML file")
)

// transcriptionModel enables caller-side transcripts on the AI session.
const transcriptionModel = "whisper-1"

func main() {
	flag.Parse()

	cfg := config.Load()
	// Environment wins over flags.
	if os.Getenv("PORT") == "" {
		cfg.Port = *port
	}
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = *logLevel
	}

	log.Init(cfg.LogLevel)
	lg := log.Component("callbridge")

	if *profile != "" {
		p, err := config.LoadProfile(*profile)
		if err != nil {
			lg.Error("load profile", "path", *profile, "error", err)
			os.Exit(1)
		}
		cfg.Profile = p
	}
	if err := cfg.Validate(); err != nil {
		lg.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, lg); err != nil {
		lg.Error("callbridge stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg *slog.Logger) error {
	slogger := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col, err := metrics.New(promReg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	h := hub.New(slogger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go h.Run(hubCtx)

	reg := registry.New(registry.Config{
		Logger:      slogger,
		NewProvider: providerFactory(cfg),
		Bridge:      bridgeConfig(cfg, h, col),
		CallMetrics: func() bridge.Metrics { return col.Call() },
		Active:      col.Active,
	})

	var calls server.Calls
	if cfg.OutboundEnabled() {
		client, err := twilio.NewClient(twilio.ClientConfig{
			AccountSID:     cfg.TwilioAccountSID,
			AuthToken:      cfg.TwilioAuthToken,
			From:           cfg.TwilioCallerID,
			StatusCallback: cfg.StatusCallbackURL(),
			HTTPClient:     httpc.Client,
			Rate:           cfg.MakeCallRate,
			Burst:          cfg.MakeCallBurst,
		})
		if err != nil {
			return err
		}
		calls = client
	} else {
		lg.Warn("carrier credentials missing, outbound calling disabled")
	}

	srv, err := server.New(server.Config{
		Logger:         slogger,
		Version:        version,
		Registry:       reg,
		Hub:            h,
		Calls:          calls,
		MediaStreamURL: cfg.MediaStreamURL(),
		Greeting:       cfg.Greeting,
		StartTimeout:   cfg.HandshakeTimeout,
		Gatherer:       promReg,
	})
	if err != nil {
		return err
	}
	h.SetHandler(srv)

	app := fiber.New(fiber.Config{
		AppName:               "callbridge",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if *debug {
		app.Use(logger.New())
	}
	srv.Register(app)

	listenErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		lg.Info("listening",
			"addr", addr,
			"version", version,
			"media_stream", cfg.MediaStreamURL(),
			"vad_source", cfg.VADSource,
			"outbound", calls != nil,
		)
		listenErr <- app.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	lg.Info("shutting down", "active_calls", reg.Count())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := reg.Drain(shutdownCtx); err != nil {
		lg.Warn("drain incomplete", "error", err)
	}
	stopHub()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Warn("shutdown error", "error", err)
	}

	lg.Info("goodbye")
	return nil
}

// providerFactory returns a fresh OpenAI channel per call.
func providerFactory(cfg *config.Config) func() (realtime.Provider, error) {
	return func() (realtime.Provider, error) {
		ai, err := realtime.NewOpenAI(
			realtime.WithAPIKey(cfg.OpenAIAPIKey),
			realtime.WithModel(cfg.OpenAIModel),
			realtime.WithVoice(cfg.OpenAIVoice),
			realtime.WithHandshakeTimeout(cfg.HandshakeTimeout),
			realtime.WithLogger(log.Component("realtime")),
		)
		if err != nil {
			return nil, err
		}
		return ai, nil
	}
}

func bridgeConfig(cfg *config.Config, h *hub.Hub, col *metrics.Collectors) bridge.Config {
	bc := bridge.DefaultConfig()
	bc.Logger = log.L()
	bc.VADSource = bridge.VADSource(cfg.VADSource)
	bc.IdleTimeout = cfg.IdleTimeout
	bc.HandshakeTimeout = cfg.HandshakeTimeout
	bc.ReconnectAttempts = cfg.ReconnectAttempts
	bc.ReconnectDelay = cfg.ReconnectDelay
	bc.Observer = bridge.Observers{h, col.Observer()}
	bc.Session, bc.FirstMessage = sessionOptions(cfg)
	return bc
}

// sessionOptions maps the agent profile onto the AI session.
func sessionOptions(cfg *config.Config) (realtime.SessionOptions, string) {
	opts := realtime.SessionOptions{
		Voice:              cfg.OpenAIVoice,
		InputFormat:        "pcm16",
		OutputFormat:       "pcm16",
		TranscriptionModel: transcriptionModel,
		Tools:              builtinTools(time.Now),
	}
	p := cfg.Profile
	if p == nil {
		return opts, ""
	}

	opts.Instructions = p.Instructions
	opts.Temperature = p.Temperature
	if p.Voice != "" {
		opts.Voice = p.Voice
	}
	if td := p.TurnDetection; td != nil {
		opts.TurnDetection = &realtime.TurnDetection{
			Type:              td.Type,
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPaddingMs,
			SilenceDurationMs: td.SilenceDurationMs,
		}
	}
	return opts, p.FirstMessage
}
