package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/utilitycost/utilitycost/pkg/log"
	"github.com/utilitycost/utilitycost/pkg/types"
)

// runUpdateLoop ticks once a minute until the context is canceled. Each tick
// refreshes the prices and re-applies the last consumption rate so the
// counters advance even when no samples arrive.
func (s *Server) runUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Server) tick(ctx context.Context, now time.Time) {
	ctx = log.WithDevice(ctx, s.deviceID)
	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.engine.GridPriceCalculation(ctx, s.deviceID, now); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to refresh grid price", slog.Any("error", err))
	}

	switch settings.PriceCalcMethod {
	case types.PriceCalcMethodSpot:
		if s.spot != nil {
			s.spot.SetArea(settings.PriceArea)
			p, err := s.spot.CurrentPrice(ctx, now)
			if err != nil {
				// day-ahead prices may not be published yet
				log.Ctx(ctx).WarnContext(ctx, "failed to get spot price", slog.Any("error", err))
			} else if err := s.engine.SpotPriceCalculation(ctx, s.deviceID, p.Price); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to apply spot price", slog.Any("error", err))
			}
		}
	case types.PriceCalcMethodFixed:
		hour := now.Truncate(time.Hour)
		if !hour.Equal(s.lastFixedHour) {
			if err := s.engine.FixedPriceCalculation(ctx, s.deviceID); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to apply fixed price", slog.Any("error", err))
			} else {
				s.lastFixedHour = hour
			}
		}
	}

	state, err := s.store.GetState(ctx, s.deviceID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get state", slog.Any("error", err))
		return
	}
	if state.ConsumptionMinute {
		if err := s.engine.UpdateConsumption(ctx, s.deviceID, nil, now); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to re-apply consumption", slog.Any("error", err))
		}
	}
}
