/*
handlers.go - HTTP API handlers for the CO2 inventory ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates every rule to the ledger package.

ENDPOINTS:
  Cylinders:
    GET    /api/cylinders                   List active cylinders
    POST   /api/cylinders                   Register cylinder
    GET    /api/cylinders/summary           Counts by location and status
    GET    /api/cylinders/due-tests         Hydrostatic tests due soon
    GET    /api/cylinders/{id}              Get cylinder
    PATCH  /api/cylinders/{id}              Audited edit
    DELETE /api/cylinders/{id}              Audited soft delete

  Fillings:
    GET    /api/fillings                    List fillings
    POST   /api/fillings/batches            Fill a batch
    GET    /api/fillings/batches/{batch}    Rows of a batch
    PATCH  /api/fillings/batches/{batch}/weights   Correct weights
    POST   /api/fillings/batches/{batch}/approval  Approve or reject

  Transfers:
    GET    /api/transfers                   List transfers
    POST   /api/transfers/batches           Move a batch
    GET    /api/transfers/open?location=    Open batches waiting at a stage
    POST   /api/transfers/trips/{ref}/close Close a trip

  Tank:
    GET    /api/tank                        Level, percentage, tier
    POST   /api/tank/entrances              Book a delivery
    POST   /api/tank/exits                  Book a withdrawal
    GET    /api/tank/movements              Movement history
    GET    /api/tank/recompute              Level vs. sum of movements

  Other:
    POST   /api/reversals                   Reverse a filling, transfer or tank movement
    GET    /api/adjustments                 List adjustments
    POST   /api/adjustments                 Physical count correction
    GET    /api/approval-logs               Audit trail

ERROR HANDLING:
  Ledger errors map to HTTP status by sentinel:
  - 400: validation
  - 404: unknown record
  - 409: stale selection, already reversed, concurrent modification, lock busy
  - 422: approval required, insufficient inventory, over capacity
  - 503: persistence failure

SECURITY NOTE:
  No authentication or authorization. Actors (operator_name, performed_by)
  are taken from the request body.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/co2-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes every table. Only demo scenarios use it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Ledger
	Store  Resetter
	Log    *logrus.Logger

	// Tank re-seeds the tank after a scenario reset.
	Tank ledger.TankConfig

	validate *validator.Validate
	now      func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over l. store may be nil when scenarios are disabled.
func NewHandler(l *ledger.Ledger, store Resetter, tank ledger.TankConfig, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names, the ones clients send.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Ledger:   l,
		Store:    store,
		Log:      log,
		Tank:     tank,
		validate: v,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// CYLINDER HANDLERS
// =============================================================================

// ListCylinders returns active cylinders, optionally filtered by
// location, status, capacity and customer_owned.
func (h *Handler) ListCylinders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ledger.CylinderFilter
	if v := q.Get("location"); v != "" {
		loc := ledger.Location(v)
		filter.Location = &loc
	}
	if v := q.Get("status"); v != "" {
		st := ledger.Status(v)
		filter.Status = &st
	}
	if v := q.Get("capacity"); v != "" {
		c := ledger.Capacity(v)
		filter.Capacity = &c
	}
	if v := q.Get("customer_owned"); v != "" {
		owned, err := strconv.ParseBool(v)
		if err != nil {
			h.writeLedgerError(w, r, "ListCylinders", &ledger.ValidationError{Field: "customer_owned", Message: "must be true or false"})
			return
		}
		filter.CustomerOwned = &owned
	}

	cylinders, err := h.Ledger.Registry.ListActive(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, "ListCylinders", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(cylinders, toCylinderDTO))
}

func (h *Handler) GetCylinder(w http.ResponseWriter, r *http.Request) {
	c, err := h.Ledger.Registry.Get(r.Context(), ledger.CylinderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, "GetCylinder", err)
		return
	}
	writeJSON(w, http.StatusOK, toCylinderDTO(c))
}

func (h *Handler) RegisterCylinder(w http.ResponseWriter, r *http.Request) {
	var req RegisterCylinderRequest
	if !h.decode(w, r, "RegisterCylinder", &req) {
		return
	}
	manufactured, err := parseDate("manufacturing_date", req.ManufacturingDate)
	if err != nil {
		h.writeLedgerError(w, r, "RegisterCylinder", err)
		return
	}
	lastTest, err := parseDate("last_hydrostatic_test", req.LastHydrostaticTest)
	if err != nil {
		h.writeLedgerError(w, r, "RegisterCylinder", err)
		return
	}

	c, err := h.Ledger.Registry.Register(r.Context(), ledger.RegisterInput{
		SerialNumber:        req.SerialNumber,
		Capacity:            ledger.Capacity(req.Capacity),
		ValveType:           req.ValveType,
		ManufacturingDate:   manufactured,
		LastHydrostaticTest: lastTest,
		Status:              ledger.Status(req.Status),
		Location:            ledger.Location(req.Location),
		CustomerOwned:       req.CustomerOwned,
		CustomerInfo:        req.CustomerInfo,
		Observations:        req.Observations,
	})
	if err != nil {
		h.writeLedgerError(w, r, "RegisterCylinder", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCylinderDTO(c))
}

func (h *Handler) EditCylinder(w http.ResponseWriter, r *http.Request) {
	var req EditCylinderRequest
	if !h.decode(w, r, "EditCylinder", &req) {
		return
	}
	patch, err := req.patch()
	if err != nil {
		h.writeLedgerError(w, r, "EditCylinder", err)
		return
	}

	c, err := h.Ledger.Registry.Edit(r.Context(), ledger.CylinderID(chi.URLParam(r, "id")), patch, req.PerformedBy, req.Comment)
	if err != nil {
		h.writeLedgerError(w, r, "EditCylinder", err)
		return
	}
	writeJSON(w, http.StatusOK, toCylinderDTO(c))
}

// patch converts the request into a ledger edit draft.
func (req EditCylinderRequest) patch() (ledger.CylinderPatch, error) {
	p := ledger.CylinderPatch{
		SerialNumber:  req.SerialNumber,
		ValveType:     req.ValveType,
		CustomerOwned: req.CustomerOwned,
		CustomerInfo:  req.CustomerInfo,
		Observations:  req.Observations,
	}
	if req.Capacity != nil {
		c := ledger.Capacity(*req.Capacity)
		p.Capacity = &c
	}
	if req.Status != nil {
		s := ledger.Status(*req.Status)
		p.Status = &s
	}
	if req.Location != nil {
		l := ledger.Location(*req.Location)
		p.Location = &l
	}
	if req.ManufacturingDate != nil {
		t, err := parseDate("manufacturing_date", *req.ManufacturingDate)
		if err != nil {
			return p, err
		}
		p.ManufacturingDate = &t
	}
	if req.LastHydrostaticTest != nil {
		t, err := parseDate("last_hydrostatic_test", *req.LastHydrostaticTest)
		if err != nil {
			return p, err
		}
		p.LastHydrostaticTest = &t
	}
	return p, nil
}

func (h *Handler) DeleteCylinder(w http.ResponseWriter, r *http.Request) {
	var req AuditedRequest
	if !h.decode(w, r, "DeleteCylinder", &req) {
		return
	}
	if err := h.Ledger.Registry.SoftDelete(r.Context(), ledger.CylinderID(chi.URLParam(r, "id")), req.PerformedBy, req.Comment); err != nil {
		h.writeLedgerError(w, r, "DeleteCylinder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CylinderSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Ledger.Registry.Summary(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "CylinderSummary", err)
		return
	}
	dto := SummaryDTO{
		Total:         s.Total,
		ByLocation:    make(map[string]int, len(s.ByLocation)),
		ByStatus:      make(map[string]int, len(s.ByStatus)),
		CustomerOwned: s.CustomerOwned,
	}
	for k, v := range s.ByLocation {
		dto.ByLocation[string(k)] = v
	}
	for k, v := range s.ByStatus {
		dto.ByStatus[string(k)] = v
	}
	writeJSON(w, http.StatusOK, dto)
}

// DueTests lists cylinders whose hydrostatic test is due within
// within_days (default 30), overdue ones included.
func (h *Handler) DueTests(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("within_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeLedgerError(w, r, "DueTests", &ledger.ValidationError{Field: "within_days", Message: "must be a non-negative integer"})
			return
		}
		days = n
	}
	due, err := h.Ledger.Registry.DueForTest(r.Context(), h.now(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.writeLedgerError(w, r, "DueTests", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(due, toCylinderDTO))
}

// =============================================================================
// FILLING HANDLERS
// =============================================================================

func (h *Handler) ListFillings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fillings, err := h.Ledger.Movements.Fillings(r.Context(), ledger.FillingFilter{
		BatchNumber:     q.Get("batch_number"),
		CylinderID:      ledger.CylinderID(q.Get("cylinder_id")),
		IncludeReversed: q.Get("include_reversed") == "true",
	})
	if err != nil {
		h.writeLedgerError(w, r, "ListFillings", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(fillings, toFillingDTO))
}

func (h *Handler) FillBatch(w http.ResponseWriter, r *http.Request) {
	var req FillBatchRequest
	if !h.decode(w, r, "FillBatch", &req) {
		return
	}
	var filledAt time.Time
	if req.FilledAt != "" {
		t, err := time.Parse(time.RFC3339, req.FilledAt)
		if err != nil {
			h.writeLedgerError(w, r, "FillBatch", &ledger.ValidationError{Field: "filled_at", Message: "must be an RFC 3339 timestamp"})
			return
		}
		filledAt = t.UTC()
	}
	items := make([]ledger.FillItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = ledger.FillItem{CylinderID: ledger.CylinderID(it.CylinderID), WeightFilled: it.WeightFilled}
	}

	res, err := h.Ledger.Movements.FillBatch(r.Context(), ledger.FillBatchInput{
		Items:               items,
		OperatorName:        req.OperatorName,
		BatchNumber:         req.BatchNumber,
		FilledAt:            filledAt,
		IsApproved:          req.IsApproved,
		ApprovedBy:          req.ApprovedBy,
		PinToFillingStation: req.PinToFillingStation,
		Observations:        req.Observations,
	})
	if err != nil {
		h.writeLedgerError(w, r, "FillBatch", err)
		return
	}
	writeJSON(w, http.StatusCreated, FillBatchResponse{
		Fillings:       mapSlice(res.Fillings, toFillingDTO),
		TankMovements:  mapSlice(res.TankMovements, toTankMovementDTO),
		Count:          res.Count,
		TotalWeight:    res.TotalWeight,
		TotalShrinkage: res.TotalShrinkage,
	})
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch := chi.URLParam(r, "batch")
	fillings, err := h.Ledger.Movements.BatchFillings(r.Context(), batch)
	if err != nil {
		h.writeLedgerError(w, r, "GetBatch", err)
		return
	}
	if len(fillings) == 0 {
		h.writeLedgerError(w, r, "GetBatch", &ledger.NotFoundError{Kind: ledger.KindFilling, ID: batch})
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(fillings, toFillingDTO))
}

func (h *Handler) EditBatchWeights(w http.ResponseWriter, r *http.Request) {
	var req EditWeightsRequest
	if !h.decode(w, r, "EditBatchWeights", &req) {
		return
	}
	weights := make(map[ledger.CylinderID]decimal.Decimal, len(req.Weights))
	for id, kg := range req.Weights {
		weights[ledger.CylinderID(id)] = kg
	}

	fillings, err := h.Ledger.Movements.EditBatchWeights(r.Context(), chi.URLParam(r, "batch"), weights, req.PerformedBy, req.Comment)
	if err != nil {
		h.writeLedgerError(w, r, "EditBatchWeights", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(fillings, toFillingDTO))
}

func (h *Handler) SetBatchApproval(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if !h.decode(w, r, "SetBatchApproval", &req) {
		return
	}
	n, err := h.Ledger.Movements.SetBatchApproval(r.Context(), chi.URLParam(r, "batch"), req.Approved, req.PerformedBy, req.Comment)
	if err != nil {
		h.writeLedgerError(w, r, "SetBatchApproval", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n, "approved": req.Approved})
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TransferFilter{
		Reference:       q.Get("reference"),
		CylinderID:      ledger.CylinderID(q.Get("cylinder_id")),
		OpenOnly:        q.Get("open_only") == "true",
		IncludeReversed: q.Get("include_reversed") == "true",
	}
	if v := q.Get("to_location"); v != "" {
		loc := ledger.Location(v)
		filter.ToLocation = &loc
	}
	transfers, err := h.Ledger.Movements.Transfers(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, "ListTransfers", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(transfers, toTransferDTO))
}

func (h *Handler) TransferBatch(w http.ResponseWriter, r *http.Request) {
	var req TransferBatchRequest
	if !h.decode(w, r, "TransferBatch", &req) {
		return
	}
	ids := make([]ledger.CylinderID, len(req.CylinderIDs))
	for i, id := range req.CylinderIDs {
		ids[i] = ledger.CylinderID(id)
	}

	res, err := h.Ledger.Movements.TransferBatch(r.Context(), ledger.TransferBatchInput{
		CylinderIDs:         ids,
		From:                ledger.Location(req.FromLocation),
		To:                  ledger.Location(req.ToLocation),
		OperatorName:        req.OperatorName,
		TransferNumber:      req.TransferNumber,
		NotaEnvioNumber:     req.NotaEnvioNumber,
		DeliveryOrderNumber: req.DeliveryOrderNumber,
		TripClosure:         req.TripClosure,
		Observations:        req.Observations,
	})
	if err != nil {
		h.writeLedgerError(w, r, "TransferBatch", err)
		return
	}
	writeJSON(w, http.StatusCreated, TransferBatchResponse{
		Transfers:   mapSlice(res.Transfers, toTransferDTO),
		Count:       res.Count,
		ClosedTrips: res.ClosedTrips,
	})
}

func (h *Handler) OpenBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Ledger.Movements.OpenBatches(r.Context(), ledger.Location(r.URL.Query().Get("location")))
	if err != nil {
		h.writeLedgerError(w, r, "OpenBatches", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(batches, func(b ledger.OpenBatch) OpenBatchDTO {
		ids := make([]string, len(b.CylinderIDs))
		for i, id := range b.CylinderIDs {
			ids[i] = string(id)
		}
		return OpenBatchDTO{
			Reference:   b.Reference,
			Location:    string(b.Location),
			CylinderIDs: ids,
			OpenedAt:    formatStamp(b.OpenedAt),
		}
	}))
}

func (h *Handler) CloseTrip(w http.ResponseWriter, r *http.Request) {
	n, err := h.Ledger.Movements.CloseTrip(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeLedgerError(w, r, "CloseTrip", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": n})
}

// =============================================================================
// TANK HANDLERS
// =============================================================================

func (h *Handler) TankLevel(w http.ResponseWriter, r *http.Request) {
	level, err := h.Ledger.Tank.CurrentLevel(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "TankLevel", err)
		return
	}
	writeJSON(w, http.StatusOK, toTankLevelDTO(level))
}

func (h *Handler) TankEntrance(w http.ResponseWriter, r *http.Request) {
	var req TankMovementRequest
	if !h.decode(w, r, "TankEntrance", &req) {
		return
	}
	m, err := h.Ledger.Tank.RecordEntrance(r.Context(), ledger.EntranceInput{
		Quantity:     req.Quantity,
		OperatorName: req.OperatorName,
		Supplier:     req.Supplier,
		Observations: req.Observations,
	})
	if err != nil {
		h.writeLedgerError(w, r, "TankEntrance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTankMovementDTO(m))
}

func (h *Handler) TankExit(w http.ResponseWriter, r *http.Request) {
	var req TankMovementRequest
	if !h.decode(w, r, "TankExit", &req) {
		return
	}
	m, err := h.Ledger.Tank.RecordExit(r.Context(), ledger.ExitInput{
		Quantity:     req.Quantity,
		OperatorName: req.OperatorName,
		Observations: req.Observations,
	})
	if err != nil {
		h.writeLedgerError(w, r, "TankExit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTankMovementDTO(m))
}

func (h *Handler) TankMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TankMovementFilter{IncludeReversed: q.Get("include_reversed") == "true"}
	if v := q.Get("type"); v != "" {
		t := ledger.MovementType(v)
		filter.Type = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeLedgerError(w, r, "TankMovements", &ledger.ValidationError{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}
	movements, err := h.Ledger.Tank.Movements(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, "TankMovements", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(movements, toTankMovementDTO))
}

func (h *Handler) TankRecompute(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Ledger.Tank.Recompute(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "TankRecompute", err)
		return
	}
	if !rec.Drift.IsZero() {
		h.Log.WithFields(logrus.Fields{
			"module":   "api",
			"funcName": "TankRecompute",
			"drift":    rec.Drift.String(),
		}).Warn("tank level drifted from movement history")
	}
	writeJSON(w, http.StatusOK, ReconciliationDTO{
		TankID:       string(rec.TankID),
		Materialized: rec.Materialized,
		Computed:     rec.Computed,
		Drift:        rec.Drift,
		Movements:    rec.Movements,
	})
}

// =============================================================================
// REVERSALS, ADJUSTMENTS, AUDIT
// =============================================================================

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req ReversalRequest
	if !h.decode(w, r, "Reverse", &req) {
		return
	}
	ref := ledger.RecordRef{Kind: ledger.RecordKind(req.Kind), ID: req.ID}
	if err := h.Ledger.Reversals.Reverse(r.Context(), ref, req.ReversedBy, req.Reason); err != nil {
		h.writeLedgerError(w, r, "Reverse", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reversed", "kind": req.Kind, "id": req.ID})
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.AdjustmentFilter{
		BatchID:    q.Get("batch_id"),
		CylinderID: ledger.CylinderID(q.Get("cylinder_id")),
	}
	if v := q.Get("location"); v != "" {
		loc := ledger.Location(v)
		filter.Location = &loc
	}
	adjustments, err := h.Ledger.Adjustments.List(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, "ListAdjustments", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(adjustments, toAdjustmentDTO))
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, "CreateAdjustment", &req) {
		return
	}
	ids := make([]ledger.CylinderID, len(req.CylinderIDs))
	for i, id := range req.CylinderIDs {
		ids[i] = ledger.CylinderID(id)
	}
	res, err := h.Ledger.Adjustments.Adjust(r.Context(), ledger.AdjustmentInput{
		Location:    ledger.Location(req.Location),
		Type:        ledger.AdjustmentType(req.Type),
		CylinderIDs: ids,
		NewStatus:   ledger.Status(req.NewStatus),
		NewLocation: ledger.Location(req.NewLocation),
		Reason:      req.Reason,
		PerformedBy: req.PerformedBy,
	})
	if err != nil {
		h.writeLedgerError(w, r, "CreateAdjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, AdjustmentBatchResponse{
		BatchID:     res.BatchID,
		Adjustments: mapSlice(res.Adjustments, toAdjustmentDTO),
	})
}

func (h *Handler) ListApprovalLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.AuditFilter{RecordID: q.Get("record_id")}
	if v := q.Get("kind"); v != "" {
		k := ledger.RecordKind(v)
		filter.Kind = &k
	}
	if v := q.Get("action"); v != "" {
		a := ledger.AuditAction(v)
		filter.Action = &a
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeLedgerError(w, r, "ListApprovalLogs", &ledger.ValidationError{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}
	logs, err := h.Ledger.ApprovalLogs(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, "ListApprovalLogs", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(logs, toApprovalLogDTO))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads a JSON body into dst and checks its struct tags. On failure
// the error response is already written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, funcName string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, funcName, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "invalid_body",
			Details: err.Error(),
		})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			err = &ledger.ValidationError{Field: fe.Field(), Message: describeTag(fe)}
		}
		h.writeLedgerError(w, r, funcName, err)
		return false
	}
	return true
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: field, Message: "must be a date (YYYY-MM-DD)"}
	}
	return t, nil
}

// statusFor maps a ledger error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrApprovalRequired):
		return http.StatusUnprocessableEntity, "approval_required"
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrStaleSelection):
		return http.StatusConflict, "stale_selection"
	case errors.Is(err, ledger.ErrAlreadyReversed):
		return http.StatusConflict, "already_reversed"
	case errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, ledger.ErrLockNotObtained):
		return http.StatusConflict, "busy"
	case errors.Is(err, ledger.ErrInsufficientInventory):
		return http.StatusUnprocessableEntity, "insufficient_inventory"
	case errors.Is(err, ledger.ErrOverCapacity):
		return http.StatusUnprocessableEntity, "over_capacity"
	case errors.Is(err, ledger.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, funcName string, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
		resp.Error = verr.Message
	}
	if status >= http.StatusInternalServerError {
		// Store details stay in the log.
		resp.Error = http.StatusText(status)
		resp.Details = ""
	}
	h.writeError(w, r, funcName, status, resp)
	if status >= http.StatusInternalServerError {
		h.Log.WithFields(logrus.Fields{
			"module":     "api",
			"funcName":   funcName,
			"request_id": requestID(r),
		}).Error(err.Error())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, funcName string, status int, resp ErrorResponse) {
	if status < http.StatusInternalServerError {
		h.Log.WithFields(logrus.Fields{
			"module":     "api",
			"funcName":   funcName,
			"request_id": requestID(r),
			"code":       resp.Code,
		}).Warn(resp.Error)
	}
	writeJSON(w, status, resp)
}
