// Command userserver runs the user service of spec.md §4.4: accounts,
// upgradable password hashing, opaque session tokens, and bounded per-user
// key/value storage, served over the RESP-style wire protocol of §6.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vgshost/core/internal/config"
	"github.com/vgshost/core/internal/idgen"
	"github.com/vgshost/core/internal/logging"
	"github.com/vgshost/core/internal/metrics"
	"github.com/vgshost/core/internal/telemetry"
	"github.com/vgshost/core/pkg/dbkv"
	"github.com/vgshost/core/pkg/password"
	"github.com/vgshost/core/pkg/token"
	"github.com/vgshost/core/pkg/userdata"
	"github.com/vgshost/core/pkg/userservice"
)

var version = "dev"

// appConfig loads spec.md §6's USER.*/REDIS.* keys.
type appConfig struct {
	Host                string  `mapstructure:"host"`
	Port                int     `mapstructure:"port" validate:"required"`
	Key                 string  `mapstructure:"key" validate:"required"`
	DataMaxKeySize      int     `mapstructure:"data_maxkeysize"`
	DataMaxValueSize    int     `mapstructure:"data_maxvaluesize"`
	DataMaxTotalSize    int     `mapstructure:"data_maxtotalsize"`
	ProfileMaxValueSize int     `mapstructure:"profile_maxvaluesize"`
	RedisHost           string  `mapstructure:"redis_host"`
	RedisPort           int     `mapstructure:"redis_port"`
	RedisAddr           string  `mapstructure:"redis_addr"` // if set, overrides RedisHost:RedisPort
	Store               string  `mapstructure:"store" validate:"oneof=redis memory"`
	LogLevel            string  `mapstructure:"log_level"`
	LogFormat           string  `mapstructure:"log_format"`
	Metrics             bool    `mapstructure:"metrics_enabled"`
	MetricsAddr         string  `mapstructure:"metrics_addr"`
	TraceOn             bool    `mapstructure:"trace_enabled"`
	TraceEndpoint       string  `mapstructure:"trace_endpoint"`
	TraceSample         float64 `mapstructure:"trace_sample"`
}

func defaults() map[string]any {
	return map[string]any{
		"host":                 "0.0.0.0",
		"port":                 8102,
		"store":                "redis",
		"redis_host":           "127.0.0.1",
		"redis_port":           6379,
		"data_maxkeysize":      64,
		"data_maxvaluesize":    4096,
		"data_maxtotalsize":    1 << 20,
		"profile_maxvaluesize": 4096,
		"log_level":            "info",
		"log_format":           "text",
		"metrics_addr":         ":9102",
		"trace_sample":         1.0,
	}
}

func main() {
	root := &cobra.Command{
		Use:          "userserver",
		Short:        "Serve the game-hosting user service",
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
	if err := config.Load(&cfg, "USER", cfgPath, defaults()); err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	shutdownTrace, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:        cfg.TraceOn,
		ServiceName:    "userserver",
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

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	salts, err := idgen.NewCryptoGenerator()
	if err != nil {
		return fmt.Errorf("salt generator: %w", err)
	}
	hasher := password.NewCompositeEncrypter(
		password.NewSaltedEncrypter(salts),
		password.NewClassicEncrypter(cfg.Key),
	)
	tokenIDs, err := idgen.NewCryptoGenerator()
	if err != nil {
		return fmt.Errorf("token generator: %w", err)
	}
	tokens := token.New(db, tokenIDs)
	data := userdata.New(db, userdata.Limits{
		MaxKeySize:   cfg.DataMaxKeySize,
		MaxValueSize: cfg.DataMaxValueSize,
		MaxTotalSize: cfg.DataMaxTotalSize,
	})

	svc := userservice.New(db, hasher, tokens, data, userservice.Config{
		ProfileMaxValueSize: cfg.ProfileMaxValueSize,
	}).WithMetrics(met)
	srv := userservice.NewServer(svc).WithMetrics(met)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	logging.Info("userserver listening", "addr", addr, "store", cfg.Store)

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

func openStore(cfg appConfig) (dbkv.Store, error) {
	if cfg.Store == "memory" {
		return dbkv.NewMemoryStore(), nil
	}
	addr := cfg.RedisAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return dbkv.NewRedisStore(rdb), nil
}
