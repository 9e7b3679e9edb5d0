package handlers

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"sparkfield/internal/consensus"
	"sparkfield/internal/economy"
	"sparkfield/internal/privacy"
	"sparkfield/pkg/events"
	"sparkfield/pkg/logging"
)

var (
	db        *sql.DB
	logger    logging.Logger
	metrics   *LanternMetrics
	cfgStore  *economy.ConfigStore
	policy    *economy.Engine
	voting    *consensus.Engine
	searching *privacy.Layer
	producer  *events.Producer
)

// LanternMetrics holds all Prometheus metrics for Lantern
type LanternMetrics struct {
	SparksCreated  *prometheus.CounterVec
	Interactions   *prometheus.CounterVec
	Liquidations   *prometheus.CounterVec
	Searches       *prometheus.CounterVec
	PrivacyDenials *prometheus.CounterVec
	DBQueries      *prometheus.CounterVec
	DBDuration     *prometheus.HistogramVec
	DBConnections  *prometheus.GaugeVec
}

// Init initializes the handlers with the database, logger, engines and metrics
func Init(database *sql.DB, log logging.Logger, lanternMetrics *LanternMetrics, configStore *economy.ConfigStore, policyEngine *economy.Engine, votingEngine *consensus.Engine, searchLayer *privacy.Layer, eventProducer *events.Producer) {
	db = database
	logger = log
	metrics = lanternMetrics
	cfgStore = configStore
	policy = policyEngine
	voting = votingEngine
	searching = searchLayer
	producer = eventProducer
}
