package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/utilitycost/utilitycost/pkg/log"
)

// sampleReq is the body for the consumption and energy endpoints. The
// timestamp is optional and defaults to now.
type sampleReq struct {
	Consumption *float64 `json:"consumption,omitempty"`
	Energy      *float64 `json:"energy,omitempty"`
	TS          string   `json:"ts,omitempty"`
}

func (s *Server) sampleTime(r sampleReq) (time.Time, error) {
	if r.TS == "" {
		return time.Now(), nil
	}
	return time.Parse(time.RFC3339, r.TS)
}

func (s *Server) handleConsumption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sampleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Consumption == nil {
		writeJSONError(w, "consumption is required", http.StatusBadRequest)
		return
	}
	at, err := s.sampleTime(req)
	if err != nil {
		writeJSONError(w, "invalid ts", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err = s.engine.UpdateConsumption(ctx, s.deviceID, req.Consumption, at)
	s.mu.Unlock()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to update consumption", slog.Any("error", err))
		writeJSONError(w, "failed to update consumption", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sampleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Energy == nil {
		writeJSONError(w, "energy is required", http.StatusBadRequest)
		return
	}
	at, err := s.sampleTime(req)
	if err != nil {
		writeJSONError(w, "invalid ts", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err = s.engine.UpdateEnergy(ctx, s.deviceID, *req.Energy, at)
	s.mu.Unlock()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to update energy", slog.Any("error", err))
		writeJSONError(w, "failed to update energy", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "success"})
}

type priceReq struct {
	Price *float64 `json:"price"`
}

func (s *Server) handleSpotPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req priceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Price == nil {
		writeJSONError(w, "price is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err := s.engine.SpotPriceCalculation(ctx, s.deviceID, *req.Price)
	s.mu.Unlock()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to apply spot price", slog.Any("error", err))
		writeJSONError(w, "failed to apply spot price", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleFlowPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req priceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Price == nil {
		writeJSONError(w, "price is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err := s.engine.UpdatePrice(ctx, s.deviceID, *req.Price)
	s.mu.Unlock()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to apply flow price", slog.Any("error", err))
		writeJSONError(w, "failed to apply flow price", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	values, err := s.store.GetValues(ctx, s.deviceID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get counters", slog.Any("error", err))
		writeJSONError(w, "failed to get counters", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, values)
}
