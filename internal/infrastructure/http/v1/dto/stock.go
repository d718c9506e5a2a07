package dto

import (
	"time"

	"storefront/internal/core/apperror"
	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/domain/ledger"
)

// --- Request DTOs ---

// RecordMovementRequest is the body of POST /stock/movements.
type RecordMovementRequest struct {
	ProductID          *string `json:"productId"`
	VariantID          *string `json:"variantId"`
	QuantityChange     int     `json:"quantityChange"`
	MovementType       string  `json:"movementType" binding:"required"`
	Reason             *string `json:"reason" binding:"omitempty,max=500"`
	SourceDocumentID   *string `json:"sourceDocumentId" binding:"omitempty,max=255"`
	SourceDocumentType *string `json:"sourceDocumentType" binding:"omitempty,max=100"`

	// TenantID is honored for privileged callers only.
	TenantID *string `json:"tenantId"`
}

// ToInput converts the request to a ledger input.
func (r RecordMovementRequest) ToInput() (ledger.RecordInput, error) {
	productID, err := parseOptionalID("productId", r.ProductID)
	if err != nil {
		return ledger.RecordInput{}, err
	}
	variantID, err := parseOptionalID("variantId", r.VariantID)
	if err != nil {
		return ledger.RecordInput{}, err
	}
	tenantID, err := parseOptionalID("tenantId", r.TenantID)
	if err != nil {
		return ledger.RecordInput{}, err
	}
	if r.SourceDocumentType != nil && entity.IsCorrectionSource(*r.SourceDocumentType) {
		return ledger.RecordInput{}, apperror.NewValidation("sourceDocumentType is reserved for corrections").
			WithDetail("field", "sourceDocumentType").
			WithDetail("value", *r.SourceDocumentType)
	}

	return ledger.RecordInput{
		Item:               entity.ItemRef{ProductID: productID, VariantID: variantID},
		QuantityChange:     r.QuantityChange,
		MovementType:       entity.MovementType(r.MovementType),
		Reason:             r.Reason,
		SourceDocumentID:   r.SourceDocumentID,
		SourceDocumentType: r.SourceDocumentType,
		TenantID:           tenantID,
	}, nil
}

// CorrectMovementRequest is the body of POST /stock/movements/:id/corrections.
type CorrectMovementRequest struct {
	QuantityChange int     `json:"quantityChange"`
	MovementType   *string `json:"movementType"`
	Reason         *string `json:"reason" binding:"omitempty,max=500"`
}

// ToInput converts the request to a ledger correction.
func (r CorrectMovementRequest) ToInput(movementID string) (ledger.CorrectionInput, error) {
	parsed, err := parseID("id", movementID)
	if err != nil {
		return ledger.CorrectionInput{}, err
	}

	in := ledger.CorrectionInput{
		MovementID:     parsed,
		QuantityChange: r.QuantityChange,
		Reason:         r.Reason,
	}
	if r.MovementType != nil {
		t := entity.MovementType(*r.MovementType)
		in.MovementType = &t
	}
	return in, nil
}

// BatchStockRequest is the body of POST /stock/levels/:kind/batch.
// At most 500 ids per call.
type BatchStockRequest struct {
	IDs []string `json:"ids" binding:"max=500,dive,required"`
}

// ParseIDs validates every id in the batch.
func (r BatchStockRequest) ParseIDs() ([]id.ID, error) {
	ids := make([]id.ID, 0, len(r.IDs))
	for _, raw := range r.IDs {
		parsed, err := parseID("ids", raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, parsed)
	}
	return ids, nil
}

// HistoryRequest holds the query parameters of GET /stock/movements.
type HistoryRequest struct {
	ProductID    string `form:"productId"`
	VariantID    string `form:"variantId"`
	MovementType string `form:"movementType"`
	DateFrom     string `form:"dateFrom"`
	DateTo       string `form:"dateTo"`
	Sort         string `form:"sort"`
	Order        string `form:"order" binding:"omitempty,oneof=asc desc ASC DESC"`
	Page         int    `form:"page"`
	Limit        int    `form:"limit"`
}

// ToQuery converts the request to a ledger history query.
// Dates are RFC 3339 timestamps.
func (r HistoryRequest) ToQuery() (ledger.HistoryQuery, error) {
	var q ledger.HistoryQuery

	productID, err := parseOptionalID("productId", &r.ProductID)
	if err != nil {
		return q, err
	}
	variantID, err := parseOptionalID("variantId", &r.VariantID)
	if err != nil {
		return q, err
	}
	q.Filter.Item = entity.ItemRef{ProductID: productID, VariantID: variantID}

	if r.MovementType != "" {
		t := entity.MovementType(r.MovementType)
		q.Filter.MovementType = &t
	}
	if q.Filter.DateFrom, err = parseTime("dateFrom", r.DateFrom); err != nil {
		return q, err
	}
	if q.Filter.DateTo, err = parseTime("dateTo", r.DateTo); err != nil {
		return q, err
	}

	q.Sort = ledger.HistorySort{
		Field:      r.Sort,
		Descending: r.Order == "desc" || r.Order == "DESC",
	}
	q.Page = ledger.PageRequest{Page: r.Page, Limit: r.Limit}
	return q, nil
}

func parseTime(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperror.NewValidation("invalid "+field).
			WithDetail("field", field).
			WithDetail("expected", "RFC 3339 timestamp")
	}
	return &t, nil
}

// --- Response DTOs ---

// MovementResponse represents a stock movement in API responses.
type MovementResponse struct {
	ID                 string    `json:"id"`
	ProductID          *string   `json:"productId,omitempty"`
	VariantID          *string   `json:"variantId,omitempty"`
	QuantityChange     int       `json:"quantityChange"`
	MovementType       string    `json:"movementType"`
	Reason             *string   `json:"reason,omitempty"`
	SourceDocumentID   *string   `json:"sourceDocumentId,omitempty"`
	SourceDocumentType *string   `json:"sourceDocumentType,omitempty"`
	UserID             *string   `json:"userId,omitempty"`
	TenantID           string    `json:"tenantId"`
	MovementDate       time.Time `json:"movementDate"`
}

// FromMovement converts entity to response DTO.
func FromMovement(m entity.StockMovement) MovementResponse {
	return MovementResponse{
		ID:                 m.ID.String(),
		ProductID:          idString(m.ProductID),
		VariantID:          idString(m.VariantID),
		QuantityChange:     m.QuantityChange,
		MovementType:       string(m.MovementType),
		Reason:             m.Reason,
		SourceDocumentID:   m.SourceDocumentID,
		SourceDocumentType: m.SourceDocumentType,
		UserID:             idString(m.UserID),
		TenantID:           m.ClientID.String(),
		MovementDate:       m.MovementDate,
	}
}

// CorrectionResponse is the result of a correction.
type CorrectionResponse struct {
	Original  MovementResponse `json:"original"`
	Reversal  MovementResponse `json:"reversal"`
	Corrected MovementResponse `json:"corrected"`
}

// FromCorrection converts a correction result to response DTO.
func FromCorrection(r ledger.CorrectionResult) CorrectionResponse {
	return CorrectionResponse{
		Original:  FromMovement(r.Original),
		Reversal:  FromMovement(r.Reversal),
		Corrected: FromMovement(r.Corrected),
	}
}

// HistoryResponse is one page of the movement log.
type HistoryResponse struct {
	Data  []MovementResponse `json:"data"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

// FromHistoryPage converts a history page to response DTO.
func FromHistoryPage(p ledger.HistoryPage) HistoryResponse {
	data := make([]MovementResponse, len(p.Data))
	for i, m := range p.Data {
		data[i] = FromMovement(m)
	}
	return HistoryResponse{
		Data:  data,
		Total: p.Total,
		Page:  p.Page,
		Limit: p.Limit,
	}
}

// StockLevelResponse is the current quantity of one item.
type StockLevelResponse struct {
	Kind     string `json:"kind"`
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// BatchStockResponse maps item ids to quantities.
type BatchStockResponse struct {
	Kind       string         `json:"kind"`
	Quantities map[string]int `json:"quantities"`
}

// NewBatchStockResponse converts a quantity map to response DTO.
func NewBatchStockResponse(kind entity.ItemKind, quantities map[id.ID]int) BatchStockResponse {
	out := make(map[string]int, len(quantities))
	for itemID, q := range quantities {
		out[itemID.String()] = q
	}
	return BatchStockResponse{Kind: string(kind), Quantities: out}
}

// BalanceResponse reports whether a level matches its movement log.
type BalanceResponse struct {
	Kind        string `json:"kind"`
	ItemID      string `json:"itemId"`
	TenantID    string `json:"tenantId"`
	Quantity    int    `json:"quantity"`
	MovementSum int    `json:"movementSum"`
	Drift       int    `json:"drift"`
	Consistent  bool   `json:"consistent"`
}

// FromBalanceReport converts a balance report to response DTO.
func FromBalanceReport(r ledger.BalanceReport) BalanceResponse {
	return BalanceResponse{
		Kind:        string(r.Item.Kind()),
		ItemID:      r.Item.ID().String(),
		TenantID:    r.TenantID.String(),
		Quantity:    r.Quantity,
		MovementSum: r.MovementSum,
		Drift:       r.Drift,
		Consistent:  r.Consistent(),
	}
}

func idString(v *id.ID) *string {
	if !id.IsSet(v) {
		return nil
	}
	s := v.String()
	return &s
}
