// Command router runs the session multiplexer of spec.md §4.1: a pool of
// subprocess-backed sessions with conflict arbitration and idle-timeout
// sweeps, served over the plain-line protocol of §6.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vgshost/core/internal/config"
	"github.com/vgshost/core/internal/idgen"
	"github.com/vgshost/core/internal/logging"
	"github.com/vgshost/core/internal/metrics"
	"github.com/vgshost/core/internal/telemetry"
	"github.com/vgshost/core/pkg/router"
)

var version = "dev"

// appConfig loads spec.md §6's ROUTER.* keys.
type appConfig struct {
	Host           string  `mapstructure:"host"`
	Port           int     `mapstructure:"port" validate:"required"`
	Server         string  `mapstructure:"server" validate:"required"`
	Timeout        int     `mapstructure:"timeout"`       // seconds
	VirginTimeout  int     `mapstructure:"virgintimeout"` // seconds
	MaxSessions    int     `mapstructure:"maxsessions"`
	NewSessionsWin bool    `mapstructure:"newsessionswin"`
	FileNotify     string  `mapstructure:"filenotify"` // empty disables notify
	LogLevel       string  `mapstructure:"log_level"`
	LogFormat      string  `mapstructure:"log_format"`
	Metrics        bool    `mapstructure:"metrics_enabled"`
	MetricsAddr    string  `mapstructure:"metrics_addr"`
	TraceOn        bool    `mapstructure:"trace_enabled"`
	TraceEndpoint  string  `mapstructure:"trace_endpoint"`
	TraceSample    float64 `mapstructure:"trace_sample"`
}

func defaults() map[string]any {
	return map[string]any{
		"host":           "0.0.0.0",
		"port":           8100,
		"timeout":        900,
		"virgintimeout":  60,
		"maxsessions":    64,
		"newsessionswin": false,
		"log_level":      "info",
		"log_format":     "text",
		"metrics_addr":   ":9100",
		"trace_sample":   1.0,
	}
}

func main() {
	root := &cobra.Command{
		Use:          "router",
		Short:        "Serve the game-hosting session multiplexer",
		SilenceUsage: true,
	}
	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	root.RunE = func(cmd *cobra.Command, args []string) error { return run(cfgPath) }
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run:   func(cmd *cobra.Command, args []string) { fmt.Println(version) },
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	var cfg appConfig
	if err := config.Load(&cfg, "ROUTER", cfgPath, defaults()); err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	shutdownTrace, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:        cfg.TraceOn,
		ServiceName:    "router",
		ServiceVersion: version,
		Endpoint:       cfg.TraceEndpoint,
		Insecure:       true,
		SampleRate:     cfg.TraceSample,
	})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer shutdownTrace(context.Background())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := metrics.Init(cfg.Metrics)
	met := metrics.New(reg)
	if reg != nil {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil {
				logging.Error("metrics server failed", "error", err)
			}
		}()
	}

	ids, err := idgen.NewCryptoGenerator()
	if err != nil {
		return fmt.Errorf("id generator: %w", err)
	}

	var notifier router.FileNotifier
	if cfg.FileNotify != "" {
		notifier = router.NewFileServiceNotifier(cfg.FileNotify)
	}

	mux := router.New(router.Config{
		Server:         cfg.Server,
		Timeout:        time.Duration(cfg.Timeout) * time.Second,
		VirginTimeout:  time.Duration(cfg.VirginTimeout) * time.Second,
		MaxSessions:    cfg.MaxSessions,
		NewSessionsWin: cfg.NewSessionsWin,
		FileNotify:     cfg.FileNotify,
	}, ids, notifier).WithMetrics(met)
	srv := router.NewServer(mux).WithMetrics(met)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	logging.Info("router listening", "addr", addr, "server", cfg.Server)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	select {
	case <-ctx.Done():
		_ = ln.Close()
		mux.Shutdown() // stops every live session, per spec.md §5
		return nil
	case err := <-errCh:
		mux.Shutdown()
		return err
	}
}
