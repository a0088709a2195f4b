// Power Gateway
// Main entry point for the power gateway service
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gridsense/power-gateway/internal/api"
	"github.com/gridsense/power-gateway/internal/engine"
	"github.com/gridsense/power-gateway/internal/hub"
	"github.com/gridsense/power-gateway/internal/notify"
	"github.com/gridsense/power-gateway/internal/recorder"
	"github.com/gridsense/power-gateway/internal/storage"
)

// Config represents the configuration file structure
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Logs struct {
		Dir         string `yaml:"dir"`
		IntervalSec int    `yaml:"interval_sec"`
	} `yaml:"logs"`

	Alerts struct {
		WebhookURL  string `yaml:"webhook_url"`
		CooldownSec int    `yaml:"cooldown_sec"`
	} `yaml:"alerts"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Database.Path = "gateway.db"
	cfg.Logs.Dir = "./logs"
	cfg.Logs.IntervalSec = 1
	cfg.Alerts.CooldownSec = 60
	return cfg
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "power-gateway",
		Short: "Power Gateway",
		Long:  "Central gateway for distributed power-monitoring nodes. Aggregates telemetry, records time-series logs and issues relay commands.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the gateway service",
		RunE:  runGateway,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Power Gateway v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "gateway.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) *Config {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Config file not read (%v), continuing with defaults", err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("Failed to parse config file, continuing with defaults: %v", err)
	}

	// Environment wins over file for deploy-time settings
	if addr := os.Getenv("GATEWAY_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if url := os.Getenv("GATEWAY_WEBHOOK_URL"); url != "" {
		cfg.Alerts.WebhookURL = url
	}
	if path := os.Getenv("GATEWAY_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}

	return cfg
}

func runGateway(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg := loadConfig(configFile)

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	broadcaster := hub.New()
	go broadcaster.Run()

	notifier := notify.New(cfg.Alerts.WebhookURL, 10*time.Second)

	// The recorder reads telemetry back out of the engine; the closure
	// breaks the construction cycle between the two.
	var eng *engine.Engine
	rec, err := recorder.New(cfg.Logs.Dir, time.Duration(cfg.Logs.IntervalSec)*time.Second,
		recorder.SourceFunc(func(nodeID string) (float64, float64, float64, bool) {
			return eng.Telemetry(nodeID)
		}))
	if err != nil {
		return fmt.Errorf("failed to create log recorder: %w", err)
	}

	engineCfg := engine.DefaultConfig()
	if cfg.Alerts.CooldownSec > 0 {
		engineCfg.AlertCooldown = time.Duration(cfg.Alerts.CooldownSec) * time.Second
	}

	eng, err = engine.New(engineCfg, db, broadcaster, notifier, rec)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	eng.Start()

	// Resume logging for every node known at startup
	for _, n := range eng.Nodes() {
		rec.Start(n.NodeID)
	}

	handler := api.NewHandler(eng, broadcaster, rec)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(handler),
	}

	go func() {
		log.Printf("Starting power gateway on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	rec.StopAll()
	eng.Stop()
	broadcaster.Stop()

	log.Println("Shutdown complete")
	return nil
}
