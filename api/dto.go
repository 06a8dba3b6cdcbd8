/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Batch result wrappers

FORMATS:
  Quantities are kilograms as decimal strings ("12.5"); numbers are also
  accepted on input. Calendar dates are "2006-01-02", timestamps RFC 3339.

VALIDATION:
  Struct tags (go-playground/validator) cover shape only: required ids and
  actors, non-empty batches. Business preconditions stay in the ledger so
  their order (weights before approval, ...) is the same for every caller.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/co2-ledger/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// CYLINDERS
// =============================================================================

// CylinderDTO represents a cylinder in API responses.
type CylinderDTO struct {
	ID                  string `json:"id"`
	SerialNumber        string `json:"serial_number"`
	Capacity            string `json:"capacity"`
	ValveType           string `json:"valve_type,omitempty"`
	ManufacturingDate   string `json:"manufacturing_date,omitempty"`
	LastHydrostaticTest string `json:"last_hydrostatic_test,omitempty"`
	NextTestDue         string `json:"next_test_due,omitempty"`
	Status              string `json:"status"`
	Location            string `json:"location"`
	IsActive            bool   `json:"is_active"`
	CustomerOwned       bool   `json:"customer_owned"`
	CustomerInfo        string `json:"customer_info,omitempty"`
	Observations        string `json:"observations,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

// RegisterCylinderRequest is the request to register a cylinder.
type RegisterCylinderRequest struct {
	SerialNumber        string `json:"serial_number" validate:"required"`
	Capacity            string `json:"capacity" validate:"required"`
	ValveType           string `json:"valve_type"`
	ManufacturingDate   string `json:"manufacturing_date"`
	LastHydrostaticTest string `json:"last_hydrostatic_test"`
	Status              string `json:"status"`
	Location            string `json:"location"`
	CustomerOwned       bool   `json:"customer_owned"`
	CustomerInfo        string `json:"customer_info"`
	Observations        string `json:"observations"`
}

// EditCylinderRequest carries the fields to change. Omitted fields stay.
type EditCylinderRequest struct {
	SerialNumber        *string `json:"serial_number"`
	Capacity            *string `json:"capacity"`
	ValveType           *string `json:"valve_type"`
	ManufacturingDate   *string `json:"manufacturing_date"`
	LastHydrostaticTest *string `json:"last_hydrostatic_test"`
	Status              *string `json:"status"`
	Location            *string `json:"location"`
	CustomerOwned       *bool   `json:"customer_owned"`
	CustomerInfo        *string `json:"customer_info"`
	Observations        *string `json:"observations"`

	PerformedBy string `json:"performed_by" validate:"required"`
	Comment     string `json:"comment"`
}

// AuditedRequest is the body of an action that only needs an actor and a comment.
type AuditedRequest struct {
	PerformedBy string `json:"performed_by" validate:"required"`
	Comment     string `json:"comment"`
}

// SummaryDTO is the dashboard count of active cylinders.
type SummaryDTO struct {
	Total         int            `json:"total"`
	ByLocation    map[string]int `json:"by_location"`
	ByStatus      map[string]int `json:"by_status"`
	CustomerOwned int            `json:"customer_owned"`
}

// =============================================================================
// FILLINGS
// =============================================================================

type FillingDTO struct {
	ID                  string          `json:"id"`
	CylinderID          string          `json:"cylinder_id"`
	WeightFilled        decimal.Decimal `json:"weight_filled"`
	OperatorName        string          `json:"operator_name"`
	BatchNumber         string          `json:"batch_number,omitempty"`
	FilledAt            string          `json:"filled_at"`
	IsApproved          bool            `json:"is_approved"`
	ApprovedBy          string          `json:"approved_by,omitempty"`
	ShrinkagePercentage decimal.Decimal `json:"shrinkage_percentage"`
	ShrinkageAmount     decimal.Decimal `json:"shrinkage_amount"`
	Observations        string          `json:"observations,omitempty"`
	ReversalDTO
}

// ReversalDTO is embedded in every reversible row.
type ReversalDTO struct {
	IsReversed     bool   `json:"is_reversed"`
	ReversedAt     string `json:"reversed_at,omitempty"`
	ReversedBy     string `json:"reversed_by,omitempty"`
	ReversalReason string `json:"reversal_reason,omitempty"`
}

type FillItemRequest struct {
	CylinderID   string          `json:"cylinder_id" validate:"required"`
	WeightFilled decimal.Decimal `json:"weight_filled"`
}

// FillBatchRequest is the request to fill a batch of cylinders.
type FillBatchRequest struct {
	Items               []FillItemRequest `json:"items" validate:"required,min=1,dive"`
	OperatorName        string            `json:"operator_name" validate:"required"`
	BatchNumber         string            `json:"batch_number"`
	FilledAt            string            `json:"filled_at"`
	IsApproved          bool              `json:"is_approved"`
	ApprovedBy          string            `json:"approved_by"`
	PinToFillingStation bool              `json:"pin_to_filling_station"`
	Observations        string            `json:"observations"`
}

type FillBatchResponse struct {
	Fillings       []FillingDTO      `json:"fillings"`
	TankMovements  []TankMovementDTO `json:"tank_movements"`
	Count          int               `json:"count"`
	TotalWeight    decimal.Decimal   `json:"total_weight"`
	TotalShrinkage decimal.Decimal   `json:"total_shrinkage"`
}

// EditWeightsRequest corrects weights of a batch, keyed by cylinder id.
type EditWeightsRequest struct {
	Weights     map[string]decimal.Decimal `json:"weights" validate:"required,min=1"`
	PerformedBy string                     `json:"performed_by" validate:"required"`
	Comment     string                     `json:"comment"`
}

type ApprovalRequest struct {
	Approved    bool   `json:"approved"`
	PerformedBy string `json:"performed_by" validate:"required"`
	Comment     string `json:"comment"`
}

// =============================================================================
// TRANSFERS
// =============================================================================

type TransferDTO struct {
	ID                  string `json:"id"`
	CylinderID          string `json:"cylinder_id"`
	FromLocation        string `json:"from_location"`
	ToLocation          string `json:"to_location"`
	OperatorName        string `json:"operator_name"`
	TransferNumber      string `json:"transfer_number,omitempty"`
	NotaEnvioNumber     string `json:"nota_envio_number,omitempty"`
	DeliveryOrderNumber string `json:"delivery_order_number,omitempty"`
	TripClosure         bool   `json:"trip_closure"`
	Observations        string `json:"observations,omitempty"`
	CreatedAt           string `json:"created_at"`
	ReversalDTO
}

type TransferBatchRequest struct {
	CylinderIDs         []string `json:"cylinder_ids" validate:"required,min=1"`
	FromLocation        string   `json:"from_location" validate:"required"`
	ToLocation          string   `json:"to_location" validate:"required"`
	OperatorName        string   `json:"operator_name" validate:"required"`
	TransferNumber      string   `json:"transfer_number"`
	NotaEnvioNumber     string   `json:"nota_envio_number"`
	DeliveryOrderNumber string   `json:"delivery_order_number"`
	TripClosure         bool     `json:"trip_closure"`
	Observations        string   `json:"observations"`
}

type TransferBatchResponse struct {
	Transfers   []TransferDTO `json:"transfers"`
	Count       int           `json:"count"`
	ClosedTrips int           `json:"closed_trips"`
}

type OpenBatchDTO struct {
	Reference   string   `json:"reference"`
	Location    string   `json:"location"`
	CylinderIDs []string `json:"cylinder_ids"`
	OpenedAt    string   `json:"opened_at"`
}

// =============================================================================
// TANK
// =============================================================================

type TankLevelDTO struct {
	TankID           string          `json:"tank_id"`
	Level            decimal.Decimal `json:"level"`
	Capacity         decimal.Decimal `json:"capacity"`
	Percentage       decimal.Decimal `json:"percentage"`
	MinimumThreshold decimal.Decimal `json:"minimum_threshold"`
	Tier             string          `json:"tier"`
}

type TankMovementDTO struct {
	ID                  string          `json:"id"`
	Type                string          `json:"movement_type"`
	Quantity            decimal.Decimal `json:"quantity"`
	ShrinkagePercentage decimal.Decimal `json:"shrinkage_percentage"`
	ShrinkageAmount     decimal.Decimal `json:"shrinkage_amount"`
	Total               decimal.Decimal `json:"total"`
	Supplier            string          `json:"supplier,omitempty"`
	OperatorName        string          `json:"operator_name,omitempty"`
	ReferenceFillingID  string          `json:"reference_filling_id,omitempty"`
	Observations        string          `json:"observations,omitempty"`
	CreatedAt           string          `json:"created_at"`
	ReversalDTO
}

// TankMovementRequest books an entrance or an exit; Supplier only applies to entrances.
type TankMovementRequest struct {
	Quantity     decimal.Decimal `json:"quantity"`
	OperatorName string          `json:"operator_name"`
	Supplier     string          `json:"supplier"`
	Observations string          `json:"observations"`
}

type ReconciliationDTO struct {
	TankID       string          `json:"tank_id"`
	Materialized decimal.Decimal `json:"materialized"`
	Computed     decimal.Decimal `json:"computed"`
	Drift        decimal.Decimal `json:"drift"`
	Movements    int             `json:"movements"`
}

// =============================================================================
// REVERSALS, ADJUSTMENTS, AUDIT
// =============================================================================

type ReversalRequest struct {
	Kind       string `json:"kind" validate:"required"`
	ID         string `json:"id" validate:"required"`
	ReversedBy string `json:"reversed_by"`
	Reason     string `json:"reason"`
}

type AdjustmentDTO struct {
	ID               string `json:"id"`
	BatchID          string `json:"batch_id"`
	Location         string `json:"location"`
	CylinderID       string `json:"cylinder_id"`
	Type             string `json:"adjustment_type"`
	PreviousStatus   string `json:"previous_status"`
	NewStatus        string `json:"new_status"`
	PreviousLocation string `json:"previous_location"`
	NewLocation      string `json:"new_location"`
	Reason           string `json:"reason"`
	PerformedBy      string `json:"performed_by"`
	AdjustmentDate   string `json:"adjustment_date"`
}

type AdjustmentRequest struct {
	Location    string   `json:"location" validate:"required"`
	Type        string   `json:"adjustment_type" validate:"required"`
	CylinderIDs []string `json:"cylinder_ids" validate:"required,min=1"`
	NewStatus   string   `json:"new_status"`
	NewLocation string   `json:"new_location"`
	Reason      string   `json:"reason"`
	PerformedBy string   `json:"performed_by" validate:"required"`
}

type AdjustmentBatchResponse struct {
	BatchID     string          `json:"batch_id"`
	Adjustments []AdjustmentDTO `json:"adjustments"`
}

type ApprovalLogDTO struct {
	ID           string          `json:"id"`
	Kind         string          `json:"record_kind"`
	RecordID     string          `json:"record_id"`
	Action       string          `json:"action"`
	PreviousData json.RawMessage `json:"previous_data,omitempty"`
	NewData      json.RawMessage `json:"new_data,omitempty"`
	PerformedBy  string          `json:"performed_by"`
	Comments     string          `json:"comments,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toReversalDTO(r ledger.Reversal) ReversalDTO {
	dto := ReversalDTO{
		IsReversed:     r.IsReversed,
		ReversedBy:     r.ReversedBy,
		ReversalReason: r.ReversalReason,
	}
	if r.ReversedAt != nil {
		dto.ReversedAt = formatStamp(*r.ReversedAt)
	}
	return dto
}

func toCylinderDTO(c ledger.Cylinder) CylinderDTO {
	return CylinderDTO{
		ID:                  string(c.ID),
		SerialNumber:        c.SerialNumber,
		Capacity:            string(c.Capacity),
		ValveType:           c.ValveType,
		ManufacturingDate:   formatDate(c.ManufacturingDate),
		LastHydrostaticTest: formatDate(c.LastHydrostaticTest),
		NextTestDue:         formatDate(c.NextTestDue),
		Status:              string(c.Status),
		Location:            string(c.Location),
		IsActive:            c.IsActive,
		CustomerOwned:       c.CustomerOwned,
		CustomerInfo:        c.CustomerInfo,
		Observations:        c.Observations,
		CreatedAt:           formatStamp(c.CreatedAt),
		UpdatedAt:           formatStamp(c.UpdatedAt),
	}
}

func toFillingDTO(f ledger.Filling) FillingDTO {
	return FillingDTO{
		ID:                  string(f.ID),
		CylinderID:          string(f.CylinderID),
		WeightFilled:        f.WeightFilled,
		OperatorName:        f.OperatorName,
		BatchNumber:         f.BatchNumber,
		FilledAt:            formatStamp(f.FilledAt),
		IsApproved:          f.IsApproved,
		ApprovedBy:          f.ApprovedBy,
		ShrinkagePercentage: f.ShrinkagePercentage,
		ShrinkageAmount:     f.ShrinkageAmount,
		Observations:        f.Observations,
		ReversalDTO:         toReversalDTO(f.Reversal),
	}
}

func toTransferDTO(t ledger.Transfer) TransferDTO {
	return TransferDTO{
		ID:                  string(t.ID),
		CylinderID:          string(t.CylinderID),
		FromLocation:        string(t.FromLocation),
		ToLocation:          string(t.ToLocation),
		OperatorName:        t.OperatorName,
		TransferNumber:      t.TransferNumber,
		NotaEnvioNumber:     t.NotaEnvioNumber,
		DeliveryOrderNumber: t.DeliveryOrderNumber,
		TripClosure:         t.TripClosure,
		Observations:        t.Observations,
		CreatedAt:           formatStamp(t.CreatedAt),
		ReversalDTO:         toReversalDTO(t.Reversal),
	}
}

func toTankMovementDTO(m ledger.TankMovement) TankMovementDTO {
	return TankMovementDTO{
		ID:                  string(m.ID),
		Type:                string(m.Type),
		Quantity:            m.Quantity,
		ShrinkagePercentage: m.ShrinkagePercentage,
		ShrinkageAmount:     m.ShrinkageAmount,
		Total:               m.Total(),
		Supplier:            m.Supplier,
		OperatorName:        m.OperatorName,
		ReferenceFillingID:  string(m.ReferenceFillingID),
		Observations:        m.Observations,
		CreatedAt:           formatStamp(m.CreatedAt),
		ReversalDTO:         toReversalDTO(m.Reversal),
	}
}

func toTankLevelDTO(l ledger.Level) TankLevelDTO {
	return TankLevelDTO{
		TankID:           string(l.TankID),
		Level:            l.Level,
		Capacity:         l.Capacity,
		Percentage:       l.Percentage.Round(2),
		MinimumThreshold: l.MinimumThreshold,
		Tier:             string(l.Tier),
	}
}

func toAdjustmentDTO(a ledger.InventoryAdjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:               string(a.ID),
		BatchID:          a.BatchID,
		Location:         string(a.Location),
		CylinderID:       string(a.CylinderID),
		Type:             string(a.Type),
		PreviousStatus:   string(a.PreviousStatus),
		NewStatus:        string(a.NewStatus),
		PreviousLocation: string(a.PreviousLocation),
		NewLocation:      string(a.NewLocation),
		Reason:           a.Reason,
		PerformedBy:      a.PerformedBy,
		AdjustmentDate:   formatStamp(a.AdjustmentDate),
	}
}

func toApprovalLogDTO(l ledger.ApprovalLog) ApprovalLogDTO {
	return ApprovalLogDTO{
		ID:           l.ID,
		Kind:         string(l.Kind),
		RecordID:     l.RecordID,
		Action:       string(l.Action),
		PreviousData: json.RawMessage(l.PreviousData),
		NewData:      json.RawMessage(l.NewData),
		PerformedBy:  l.PerformedBy,
		Comments:     l.Comments,
		CreatedAt:    formatStamp(l.CreatedAt),
	}
}

// mapSlice converts a slice of domain rows, never returning nil so the
// JSON body is [] rather than null.
func mapSlice[T, D any](in []T, conv func(T) D) []D {
	out := make([]D, len(in))
	for i, v := range in {
		out[i] = conv(v)
	}
	return out
}
