package main

import (
	"github.com/rs/zerolog"

	"mediremind/internal/config"
)

// logConfigWarnings flags configuration combinations that are valid but
// risky in production. Called once at startup, after Validate passed.
func logConfigWarnings(cfg config.Config, log zerolog.Logger) {
	if !cfg.ReconcileEnabled {
		log.Warn().Msg("RECONCILE_ENABLED=false: jobs stuck in_progress after a crash will never be requeued")
	}
	if cfg.GatewaySecret == "" {
		log.Warn().Msg("GATEWAY_SECRET not set: outgoing sends are unsigned")
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		log.Warn().Msg("CIRCUIT_BREAKER_THRESHOLD=0: gateway failures will not open the circuit")
	}
	if !cfg.MetricsEnabled {
		log.Info().Msg("METRICS_ENABLED=false: Prometheus metrics disabled")
	}
	if cfg.ReconcileEnabled && cfg.ReconcileThreshold <= cfg.SendTimeout {
		log.Warn().Msg("RECONCILE_THRESHOLD is not above SEND_TIMEOUT: jobs may be requeued while a batch is still sending")
	}
}
