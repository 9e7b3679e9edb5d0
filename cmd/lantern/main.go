package main

import (
	"context"
	"strings"
	"time"

	"sparkfield/internal/consensus"
	"sparkfield/internal/economy"
	"sparkfield/internal/handlers"
	"sparkfield/internal/privacy"
	"sparkfield/pkg/config"
	"sparkfield/pkg/database"
	"sparkfield/pkg/events"
	"sparkfield/pkg/logging"
	"sparkfield/pkg/middleware"
	"sparkfield/pkg/monitoring"
	"sparkfield/pkg/server"
	"sparkfield/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("lantern")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Lantern (Spark Verification API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("lantern", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("lantern", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  dbURL,
		"SERVICE_TOKEN": serviceToken,
	}))

	// Create custom lantern metrics
	metrics := &handlers.LanternMetrics{
		SparksCreated:  metricsCollector.NewCounter("sparks_created_total", "Sparks created", []string{"kind"}),
		Interactions:   metricsCollector.NewCounter("interactions_total", "Interactions recorded", []string{"action", "status"}),
		Liquidations:   metricsCollector.NewCounter("liquidations_total", "Spark liquidations", []string{"reason"}),
		Searches:       metricsCollector.NewCounter("searches_total", "Search queries served", []string{"mode"}),
		PrivacyDenials: metricsCollector.NewCounter("privacy_denials_total", "Searches emptied by privacy budget", []string{"mode"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Optional Kafka firehose for spark lifecycle events
	var producer *events.Producer
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		topic := config.GetEnv("KAFKA_TOPIC", "lantern.spark-events")
		p, err := events.NewProducer(strings.Split(brokers, ","), topic, logger)
		if err != nil {
			logger.WithError(err).Warn("Firehose producer unavailable, continuing without events")
		} else {
			producer = p
			defer producer.Close()
			logger.WithField("topic", topic).Info("Firehose producer connected")
		}
	}

	// Wire up the engines
	cfgStore := economy.NewConfigStore(db)
	policy := economy.NewEngine(db, logger, cfgStore)
	voting := consensus.NewEngine(db, logger, cfgStore, policy, producer)

	budgetWindow := config.GetEnvDuration("PRIVACY_BUDGET_WINDOW", time.Hour)
	searching := privacy.NewLayer(db, logger, cfgStore, policy, privacy.NewBudget(budgetWindow))
	searching.OnDenied = func(mode string) {
		metrics.PrivacyDenials.WithLabelValues(mode).Inc()
	}

	// Initialize handlers
	handlers.Init(db, logger, metrics, cfgStore, policy, voting, searching, producer)

	// Initialize and start JobManager for background maintenance tasks
	jobManager := handlers.NewJobManager(db, logger, cfgStore)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	logger.Info("JobManager started - background maintenance jobs active")

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "lantern", healthChecker, metricsCollector)

	// API routes (root level - the gateway adds /api/lantern/ prefix)
	{
		// Caller-identity endpoints
		protected := router.Group("")
		protected.Use(middleware.IdentityMiddleware())
		{
			protected.POST("/sparks", handlers.CreateSpark)
			protected.DELETE("/sparks/:id", handlers.DeleteSpark)
			protected.GET("/sparks/search", handlers.Search)
			protected.POST("/sparks/:id/interactions", handlers.Vote)
			protected.POST("/sparks/:id/harvest", handlers.Harvest)
			protected.GET("/accounts/me", handlers.GetAccount)
			protected.GET("/economy/config", handlers.GetEconomyConfig)
		}

		// Moderation and tuning endpoints (service-to-service)
		serviceAPI := router.Group("")
		serviceAPI.Use(middleware.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.PATCH("/economy/config", handlers.PatchEconomyConfig)
			serviceAPI.POST("/sparks/:id/status", handlers.SetSparkStatus)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("lantern", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
