package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"humidtrigger/internal/api"
	"humidtrigger/internal/ha"
	"humidtrigger/internal/shadowstate"
	"humidtrigger/pkg/plugin"

	// Register plugins.
	_ "humidtrigger/internal/plugins/humidtrigger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultAPIPort = 8099

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	readOnly := os.Getenv("READ_ONLY") == "true"
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}

	apiPort := defaultAPIPort
	if raw := os.Getenv("API_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			logger.Fatal("Invalid API_PORT", zap.String("value", raw), zap.Error(err))
		}
		apiPort = port
	}

	if haURL == "" || haToken == "" {
		logger.Fatal("HA_URL and HA_TOKEN environment variables must be set")
	}

	logger.Info("Starting HumidTrigger",
		zap.String("url", haURL),
		zap.String("config_dir", configDir),
		zap.Bool("read_only", readOnly))

	// Create HA client
	client := ha.NewClient(haURL, haToken, logger)

	// Connect to Home Assistant
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	logger.Info("Connected to Home Assistant")

	tracker := shadowstate.NewTracker()

	// Instantiate registered plugins. A plugin that fails to load (for
	// example a missing or unreadable config file) must not take down the
	// rest of the service.
	ctx := plugin.NewContext(client, logger, readOnly, configDir, tracker)
	plugins, err := plugin.CreateAll(ctx)
	if err != nil {
		logger.Error("Failed to create plugins", zap.Error(err))
	}

	var started []plugin.Plugin
	var resettables []plugin.Resettable
	for _, p := range plugins {
		if err := p.Start(); err != nil {
			logger.Error("Failed to start plugin",
				zap.String("plugin", p.Name()),
				zap.Error(err))
			continue
		}
		logger.Info("Started plugin", zap.String("plugin", p.Name()))
		started = append(started, p)
		if r, ok := p.(plugin.Resettable); ok {
			resettables = append(resettables, r)
		}
	}

	// Start status API
	server := api.NewServer(client, tracker, resettables, logger, apiPort)
	server.Start()

	if readOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant")
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")

	server.Stop()

	// Stop plugins in reverse start order
	for i := len(started) - 1; i >= 0; i-- {
		started[i].Stop()
		logger.Info("Stopped plugin", zap.String("plugin", started[i].Name()))
	}
}
