// Command fileserver runs the file service of spec.md §4.2/§4.3: a
// permission-checked virtual namespace over a single DirectoryHandler
// backend, served over the RESP-style wire protocol of §6.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vgshost/core/internal/config"
	"github.com/vgshost/core/internal/logging"
	"github.com/vgshost/core/internal/metrics"
	"github.com/vgshost/core/internal/telemetry"
	"github.com/vgshost/core/pkg/dirtree"
	"github.com/vgshost/core/pkg/fileservice"
	"github.com/vgshost/core/pkg/vfs"
	"github.com/vgshost/core/pkg/vfs/cadir"
	"github.com/vgshost/core/pkg/vfs/localdir"
	"github.com/vgshost/core/pkg/vfs/memdir"
)

// version is set at release-build time via -ldflags; "dev" for local runs.
var version = "dev"

// appConfig is the file service's configuration shape, loaded from
// FILE.HOST/FILE.PORT/FILE.BASEDIR/FILE.SIZELIMIT of spec.md §6 (".THREADS"
// is accepted but unused, same as upstream — this server's one-goroutine-
// per-connection model needs no explicit pool size).
type appConfig struct {
	Host          string  `mapstructure:"host"`
	Port          int     `mapstructure:"port" validate:"required"`
	BaseDir       string  `mapstructure:"basedir"`
	SizeLimit     int64   `mapstructure:"sizelimit" validate:"required"`
	Backend       string  `mapstructure:"backend" validate:"oneof=local memory ca"`
	LogLevel      string  `mapstructure:"log_level"`
	LogFormat     string  `mapstructure:"log_format"`
	Metrics       bool    `mapstructure:"metrics_enabled"`
	MetricsAddr   string  `mapstructure:"metrics_addr"`
	TraceOn       bool    `mapstructure:"trace_enabled"`
	TraceEndpoint string  `mapstructure:"trace_endpoint"`
	TraceSample   float64 `mapstructure:"trace_sample"`
}

func defaults() map[string]any {
	return map[string]any{
		"host":         "0.0.0.0",
		"port":         8101,
		"backend":      "local",
		"sizelimit":    int64(64 << 20),
		"log_level":    "info",
		"log_format":   "text",
		"metrics_addr": ":9101",
		"trace_sample": 1.0,
	}
}

func main() {
	root := &cobra.Command{
		Use:           "fileserver",
		Short:         "Serve the game-hosting file service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")

	root.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cfgPath)
	}
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
	if err := config.Load(&cfg, "FILE", cfgPath, defaults()); err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	shutdownTrace, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:        cfg.TraceOn,
		ServiceName:    "fileserver",
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

	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	root := dirtree.NewRoot(backend)
	svc := fileservice.New(root, fileservice.Config{MaxFileSize: cfg.SizeLimit})
	srv := fileservice.NewServer(svc).WithMetrics(met)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	logging.Info("fileserver listening", "addr", addr, "backend", cfg.Backend)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	select {
	case <-ctx.Done():
		_ = ln.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

func openBackend(cfg appConfig) (vfs.DirectoryHandler, error) {
	switch cfg.Backend {
	case "memory":
		return memdir.New(), nil
	case "ca":
		if cfg.BaseDir == "" {
			return nil, fmt.Errorf("basedir is required for the %q backend", cfg.Backend)
		}
		return cadir.Open(cfg.BaseDir)
	default:
		if cfg.BaseDir == "" {
			return nil, fmt.Errorf("basedir is required for the %q backend", cfg.Backend)
		}
		return localdir.New(cfg.BaseDir), nil
	}
}
