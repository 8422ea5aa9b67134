package chat

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ksucu-mc/chatkit/internal/auth"
	"github.com/ksucu-mc/chatkit/internal/backoff"
	"github.com/ksucu-mc/chatkit/internal/config"
	"github.com/ksucu-mc/chatkit/internal/observability"
	"github.com/ksucu-mc/chatkit/internal/transport"
)

// NewSessionFromConfig builds a Session from a loaded configuration
// file: websocket transport, refreshing credential provider, logging,
// and (when enabled) Prometheus metrics on the default registry.
func NewSessionFromConfig(cfg config.Config, self Identity) *Session {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	var metrics *observability.Metrics
	if cfg.Metrics {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	return NewSession(Config{
		Channel:     transport.NewWebSocket(cfg.Server.EventsURL),
		Credentials: auth.NewRefreshingProvider(cfg.Auth.Token, cfg.Server.AuthRefreshURL, httpClient),
		Self:        self,
		Room:        cfg.Room,
		HistoryURL:  cfg.Server.HistoryURL,
		UploadURL:   cfg.Server.UploadURL,
		PageSize:    cfg.History.PageSize,
		HTTPClient:  httpClient,
		ReconnectPolicy: backoff.Policy{
			Interval:    cfg.Timeouts.ReconnectInterval(),
			MaxAttempts: cfg.Timeouts.ReconnectMaxAttempts,
		},
		ReconciliationTimeout: cfg.Timeouts.Reconciliation(),
		TypingWindow:          cfg.Timeouts.TypingWindow(),
		Logger:                logger,
		Metrics:               metrics,
	})
}
