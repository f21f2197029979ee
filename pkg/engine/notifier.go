package engine

import (
	"context"
	"log/slog"

	"github.com/utilitycost/utilitycost/pkg/log"
)

// Notifier receives capacity tier level changes. Delivery is fire and forget:
// implementations must not fail the accumulation call.
type Notifier interface {
	CapacityLevelChanged(ctx context.Context, deviceID string, level int, peakConsumptionWh float64)
}

// LogNotifier reports level changes through the context logger.
type LogNotifier struct{}

func (LogNotifier) CapacityLevelChanged(ctx context.Context, deviceID string, level int, peakConsumptionWh float64) {
	log.Ctx(ctx).InfoContext(ctx, "grid capacity level changed",
		slog.String("deviceID", deviceID),
		slog.Int("level", level),
		slog.Float64("maxConsumption", peakConsumptionWh))
}
