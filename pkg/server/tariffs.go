package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridrater/gridrater/pkg/estimator"
	"github.com/gridrater/gridrater/pkg/log"
	"github.com/gridrater/gridrater/pkg/tariff"
	"github.com/gridrater/gridrater/pkg/types"
)

const maxBodyBytes = 1 << 20 // 1MB

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handlePublishTariff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req publishTariffRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	contract, err := req.contract()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.registry.FindByID(contract.ID) != nil {
		writeJSONError(w, "tariff already exists", http.StatusConflict)
		return
	}

	t := tariff.New(contract, s.clk)
	if err := t.Init(ctx, s.registry); err != nil {
		if errors.Is(err, tariff.ErrNotCovered) {
			writeJSONError(w, "rates do not cover every tier and hour", http.StatusUnprocessableEntity)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to initialize tariff", slog.Any("error", err))
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	t.SetState(tariff.StateOffered)

	if err := s.storage.UpsertContract(ctx, *contract); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist contract",
			slog.String("tariffID", contract.ID), slog.Any("error", err))
		writeJSONError(w, "failed to persist contract", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "published tariff",
		slog.String("tariffID", contract.ID),
		slog.String("broker", contract.Broker),
		slog.String("powerType", string(contract.PowerType)),
		slog.String("publishedBy", userEmail(r)),
	)
	writeJSON(w, r, http.StatusCreated, summarize(t))
}

func (s *Server) handleListTariffs(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	summaries := make([]tariffSummary, 0, len(all))
	for _, t := range all {
		summaries = append(summaries, summarize(t))
	}
	writeJSON(w, r, http.StatusOK, struct {
		Tariffs []tariffSummary `json:"tariffs"`
	}{Tariffs: summaries})
}

func (s *Server) handleGetTariff(w http.ResponseWriter, r *http.Request) {
	t := s.registry.FindByID(r.PathValue("id"))
	if t == nil {
		writeJSONError(w, "tariff not found", http.StatusNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, tariffDetail{
		tariffSummary: summarize(t),
		Contract:      t.Contract(),
	})
}

// validStateChange enforces the lifecycle: OFFERED activates, active and
// offered tariffs can be withdrawn or killed, withdrawn tariffs can still
// be killed. KILLED is terminal and nothing returns to PENDING.
func validStateChange(from, to tariff.State) bool {
	switch to {
	case tariff.StateActive:
		return from == tariff.StateOffered
	case tariff.StateWithdrawn:
		return from == tariff.StateOffered || from == tariff.StateActive
	case tariff.StateKilled:
		return from != tariff.StateKilled
	}
	return false
}

func (s *Server) handleSetTariffState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := s.registry.FindByID(r.PathValue("id"))
	if t == nil {
		writeJSONError(w, "tariff not found", http.StatusNotFound)
		return
	}

	var req struct {
		State tariff.State `json:"state"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !validStateChange(t.State(), req.State) {
		writeJSONError(w, "invalid state change", http.StatusConflict)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "tariff state change",
		slog.String("tariffID", t.ID()),
		slog.String("from", string(t.State())),
		slog.String("to", string(req.State)),
		slog.String("changedBy", userEmail(r)),
	)
	t.SetState(req.State)
	writeJSON(w, r, http.StatusOK, summarize(t))
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	t := s.registry.FindByID(r.PathValue("id"))
	if t == nil {
		writeJSONError(w, "tariff not found", http.StatusNotFound)
		return
	}

	var req struct {
		KWh             float64   `json:"kwh"`
		CumulativeUsage float64   `json:"cumulativeUsage"`
		Record          bool      `json:"record"`
		Regulation      bool      `json:"regulation"`
		At              time.Time `json:"at"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !req.At.IsZero() && (req.Record || req.Regulation) {
		writeJSONError(w, "at is only valid for probing usage charges", http.StatusBadRequest)
		return
	}

	var amount float64
	var err error
	switch {
	case req.Regulation:
		amount, err = t.RegulationCharge(req.KWh, req.CumulativeUsage, req.Record)
	case !req.At.IsZero():
		amount, err = t.UsageChargeAt(req.At, req.KWh, req.CumulativeUsage, nil)
	default:
		amount, err = t.UsageCharge(req.KWh, req.CumulativeUsage, req.Record)
	}
	if err != nil {
		if errors.Is(err, tariff.ErrNoRate) || errors.Is(err, tariff.ErrNotAnalyzed) {
			writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "charge failed",
			slog.String("tariffID", t.ID()), slog.Any("error", err))
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, struct {
		Amount float64 `json:"amount"`
	}{Amount: amount})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	t := s.registry.FindByID(r.PathValue("id"))
	if t == nil {
		writeJSONError(w, "tariff not found", http.StatusNotFound)
		return
	}

	var req struct {
		Usage                 []float64 `json:"usage"`
		Start                 time.Time `json:"start"`
		IncludePeriodicCharge bool      `json:"includePeriodicCharge"`
		PerHour               bool      `json:"perHour"`

		CostFactors *struct {
			WtExpected    float64 `json:"wtExpected"`
			WtMax         float64 `json:"wtMax"`
			WtRealized    float64 `json:"wtRealized"`
			SoldThreshold float64 `json:"soldThreshold"`
		} `json:"costFactors"`
		RegulationFactors *struct {
			ExpectedCurtailment    float64 `json:"expectedCurtailment"`
			ExpectedDischarge      float64 `json:"expectedDischarge"`
			ExpectedDownRegulation float64 `json:"expectedDownRegulation"`
		} `json:"regulationFactors"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Usage) == 0 {
		writeJSONError(w, "usage profile is required", http.StatusBadRequest)
		return
	}

	h := estimator.NewHelper()
	if f := req.CostFactors; f != nil {
		h.InitializeCostFactors(f.WtExpected, f.WtMax, f.WtRealized, f.SoldThreshold)
	}
	if f := req.RegulationFactors; f != nil {
		h.InitializeRegulationFactors(f.ExpectedCurtailment, f.ExpectedDischarge, f.ExpectedDownRegulation)
	}

	perHour, err := h.EstimateCostArray(t, req.Usage, req.Start, req.IncludePeriodicCharge)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "estimate failed",
			slog.String("tariffID", t.ID()), slog.Any("error", err))
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if req.PerHour {
		writeJSON(w, r, http.StatusOK, struct {
			PerHour []float64 `json:"perHour"`
			Alpha   float64   `json:"alpha"`
		}{PerHour: perHour, Alpha: h.Alpha()})
		return
	}
	total := 0.0
	for _, v := range perHour {
		total += v
	}
	writeJSON(w, r, http.StatusOK, struct {
		Total float64 `json:"total"`
		Alpha float64 `json:"alpha"`
	}{Total: total, Alpha: h.Alpha()})
}

func (s *Server) handleAddHourlyCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := s.registry.FindByID(r.PathValue("id"))
	if t == nil {
		writeJSONError(w, "tariff not found", http.StatusNotFound)
		return
	}

	var req struct {
		RateID string    `json:"rateId"`
		AtTime time.Time `json:"atTime"`
		Value  float64   `json:"value"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.AtTime.IsZero() {
		writeJSONError(w, "atTime is required", http.StatusBadRequest)
		return
	}
	if err := t.AddHourlyCharge(req.RateID, types.HourlyCharge{AtTime: req.AtTime, Value: req.Value}); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "posted hourly charge",
		slog.String("tariffID", t.ID()),
		slog.String("rateID", req.RateID),
		slog.Time("atTime", req.AtTime),
		slog.Float64("value", req.Value),
	)
	w.WriteHeader(http.StatusNoContent)
}
