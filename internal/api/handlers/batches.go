package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/reputation"
)

// Store is the slice of the persistence gateway the read and
// administration endpoints use. *db.Gateway implements it.
type Store interface {
	ListBatches(ctx context.Context) ([]db.Batch, error)
	RecordsByBatches(ctx context.Context, batchIDs []int64) ([]db.IPRecord, error)
	DeleteBatch(ctx context.Context, id int64) error
	UpdateAnnotations(ctx context.Context, id int64, tags, notes string) error
	DashboardStats(ctx context.Context) (*db.DashboardStats, error)
	RecurringAddresses(ctx context.Context) (*db.Recurrence, error)
	CompareBatches(ctx context.Context, batchIDs []int64) ([]db.ComparisonRow, error)
}

var _ Store = (*db.Gateway)(nil)

// RecordView is a stored record as returned by the API. An unknown pulse
// count is null rather than the stored sentinel.
type RecordView struct {
	ID           int64                 `json:"id"`
	Address      string                `json:"ip_address"`
	Country      *string               `json:"country"`
	Malicious    *bool                 `json:"is_malicious"`
	Score        *int                  `json:"fraud_score"`
	ISP          *string               `json:"isp"`
	Organization *string               `json:"organization"`
	Pulses       reputation.PulseCount `json:"otx_pulses"`
	Tags         *string               `json:"tags"`
	Notes        *string               `json:"notes"`
	LastCheck    *string               `json:"last_api_check"`
}

// NewRecordView converts a stored record.
func NewRecordView(rec db.IPRecord) RecordView {
	return RecordView{
		ID:           rec.ID,
		Address:      rec.Address,
		Country:      rec.Country,
		Malicious:    rec.Malicious,
		Score:        rec.Score,
		ISP:          rec.ISP,
		Organization: rec.Organization,
		Pulses:       reputation.PulsesFromSentinel(rec.Pulses),
		Tags:         rec.Tags,
		Notes:        rec.Notes,
		LastCheck:    rec.LastCheck,
	}
}

// RecurrenceView is the response of GET /api/v1/batches/recurring.
type RecurrenceView struct {
	BatchID int64        `json:"batch_id"`
	Records []RecordView `json:"records"`
}

// ComparisonRowView is one address of a batch comparison.
type ComparisonRowView struct {
	RecordView
	Appearances int     `json:"appearances"`
	BatchIDs    []int64 `json:"batch_ids"`
}

// ComparisonView is the response of GET /api/v1/batches/compare.
type ComparisonView struct {
	Batches int                 `json:"batches"`
	Rows    []ComparisonRowView `json:"rows"`
}

// AnnotationRequest is the body of PUT /api/v1/records/{id}/annotations.
type AnnotationRequest struct {
	Tags  string `json:"tags" validate:"max=500"`
	Notes string `json:"notes" validate:"max=5000"`
}

// BatchHandler serves batches, their records and record annotations.
type BatchHandler struct {
	store    Store
	logger   *logging.Logger
	validate *validator.Validate
}

// NewBatchHandler creates a batch handler.
func NewBatchHandler(store Store, logger *logging.Logger) *BatchHandler {
	return &BatchHandler{
		store:    store,
		logger:   logger.WithComponent("api.batches"),
		validate: validator.New(),
	}
}

// ListBatches handles GET /api/v1/batches.
func (h *BatchHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.store.ListBatches(r.Context())
	if err != nil {
		writeAppError(w, r, h.logger.Logger, err)
		return
	}
	if batches == nil {
		batches = []db.Batch{}
	}
	writeJSON(w, r, http.StatusOK, batches)
}

// BatchRecords handles GET /api/v1/batches/{id}/records.
func (h *BatchHandler) BatchRecords(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	h.writeRecords(w, r, []int64{id})
}

// batchParams parses the repeated batch query parameter.
func batchParams(r *http.Request) ([]int64, error) {
	var ids []int64
	for _, raw := range r.URL.Query()["batch"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid batch: %q", raw)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Records handles GET /api/v1/records. Repeated batch parameters select the
// union of those batches; without any, every record is returned.
func (h *BatchHandler) Records(w http.ResponseWriter, r *http.Request) {
	ids, err := batchParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	h.writeRecords(w, r, ids)
}

// Recurring handles GET /api/v1/batches/recurring.
func (h *BatchHandler) Recurring(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.RecurringAddresses(r.Context())
	if err != nil {
		writeAppError(w, r, h.logger.Logger, err)
		return
	}

	view := RecurrenceView{BatchID: rec.BatchID, Records: make([]RecordView, 0, len(rec.Records))}
	for _, record := range rec.Records {
		view.Records = append(view.Records, NewRecordView(record))
	}
	writeJSON(w, r, http.StatusOK, view)
}

// Compare handles GET /api/v1/batches/compare?batch=1&batch=2. At least two
// distinct batches are required.
func (h *BatchHandler) Compare(w http.ResponseWriter, r *http.Request) {
	ids, err := batchParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	rows, err := h.store.CompareBatches(r.Context(), ids)
	if err != nil {
		writeAppError(w, r, h.logger.Logger, err)
		return
	}

	distinct := make(map[int64]bool, len(ids))
	for _, id := range ids {
		distinct[id] = true
	}
	view := ComparisonView{Batches: len(distinct), Rows: make([]ComparisonRowView, 0, len(rows))}
	for _, row := range rows {
		view.Rows = append(view.Rows, ComparisonRowView{
			RecordView:  NewRecordView(row.IPRecord),
			Appearances: row.Appearances,
			BatchIDs:    []int64(row.BatchIDs),
		})
	}
	writeJSON(w, r, http.StatusOK, view)
}

func (h *BatchHandler) writeRecords(w http.ResponseWriter, r *http.Request, batchIDs []int64) {
	records, err := h.store.RecordsByBatches(r.Context(), batchIDs)
	if err != nil {
		writeAppError(w, r, h.logger.Logger, err)
		return
	}

	views := make([]RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, NewRecordView(rec))
	}
	writeJSON(w, r, http.StatusOK, views)
}

// DeleteBatch handles DELETE /api/v1/batches/{id}.
func (h *BatchHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.store.DeleteBatch(r.Context(), id); err != nil {
		writeAppError(w, r, h.logger.Logger, err)
		return
	}
	h.logger.WithBatchID(id).Info("Batch deleted")
	w.WriteHeader(http.StatusNoContent)
}

// UpdateAnnotations handles PUT /api/v1/records/{id}/annotations.
func (h *BatchHandler) UpdateAnnotations(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var body AnnotationRequest
	if err := parseJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("validation failed: %w", err))
		return
	}

	if err := h.store.UpdateAnnotations(r.Context(), id, body.Tags, body.Notes); err != nil {
		writeAppError(w, r, h.logger.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
