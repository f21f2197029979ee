package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/utilitycost/utilitycost/pkg/log"
	"github.com/utilitycost/utilitycost/pkg/tariff"
	"github.com/utilitycost/utilitycost/pkg/types"
)

func (s *Server) getSettingsWithMigration(ctx context.Context) (types.Settings, error) {
	settings, version, err := s.store.GetSettings(ctx, s.deviceID)
	if err != nil {
		return types.Settings{}, err
	}

	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings",
			slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but return settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings",
				slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			settings = newSettings
			if err := s.store.SetSettings(ctx, s.deviceID, newSettings, types.CurrentSettingsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
				// Return migrated settings even if save failed, so current request works with new defaults
			}
		}
	}

	return settings, nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var newSettings types.Settings
	if err := json.NewDecoder(r.Body).Decode(&newSettings); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// a known grid company overrides the tariff fields with its published rates
	if newSettings.GridCompany != "" {
		preset, ok := tariff.LookupPreset(newSettings.GridCompany)
		if !ok {
			writeJSONError(w, fmt.Sprintf("unknown grid company: %s", newSettings.GridCompany), http.StatusBadRequest)
			return
		}
		newSettings = preset.Apply(newSettings)
	}

	// fill in the same defaults migration would, so omitted fields never fail
	// validation and an omitted summer tariff never zeroes the summer price
	if newSettings.CostFormula == "" {
		newSettings.CostFormula = "PRICE_NORDPOOL"
	}
	if newSettings.CostFormulaFixedAmount == "" {
		newSettings.CostFormulaFixedAmount = "0"
	}
	if newSettings.PriceDecimals == 0 {
		newSettings.PriceDecimals = 2
	}
	if newSettings.GridCapacityAverage == 0 {
		newSettings.GridCapacityAverage = 3
	}
	if newSettings.GridEnergySummerStart == 0 {
		newSettings.GridEnergySummerStart = 4
	}
	if newSettings.GridEnergyWinterStart == 0 {
		newSettings.GridEnergyWinterStart = 11
	}
	if newSettings.GridEnergyDaySummer == 0 {
		newSettings.GridEnergyDaySummer = newSettings.GridEnergyDay
	}
	if newSettings.GridEnergyNightSummer == 0 {
		newSettings.GridEnergyNightSummer = newSettings.GridEnergyNight
	}

	switch newSettings.PriceCalcMethod {
	case types.PriceCalcMethodSpot, types.PriceCalcMethodFixed, types.PriceCalcMethodFlow:
	default:
		writeJSONError(w, fmt.Sprintf("unknown price calculation method: %s", newSettings.PriceCalcMethod), http.StatusBadRequest)
		return
	}
	if newSettings.GridCapacityAverage < 1 || newSettings.GridCapacityAverage > 10 {
		writeJSONError(w, "grid capacity average must be between 1 and 10", http.StatusBadRequest)
		return
	}
	if err := s.engine.ValidateCostFormula(newSettings.CostFormula); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid cost formula: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.engine.ValidateFixedAmountFormula(newSettings.CostFormulaFixedAmount); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid fixed amount formula: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.store.SetSettings(ctx, s.deviceID, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	// refresh the grid price so the new tariff takes effect immediately
	s.mu.Lock()
	err := s.engine.GridPriceCalculation(ctx, s.deviceID, time.Now())
	s.mu.Unlock()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to refresh grid price", slog.Any("error", err))
	}

	log.Ctx(ctx).InfoContext(ctx, "settings updated")
	writeJSON(w, newSettings)
}

// GridCostsRes is the response type for the grid costs endpoint.
type GridCostsRes struct {
	Bands []tariff.Band `json:"bands"`
}

func (s *Server) handleGridCosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, GridCostsRes{Bands: tariff.Bands(settings)})
}
