package observability

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

// InstrumentGORM registers the OpenTelemetry tracing plugin on db so every
// query runs inside a child span of the request. Query metrics are left to
// Prometheus.
func InstrumentGORM(db *gorm.DB) error {
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return fmt.Errorf("register gorm tracing: %w", err)
	}
	return nil
}
