package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/anstrom/ipprism/internal/analysis"
	"github.com/anstrom/ipprism/internal/extract"
	"github.com/anstrom/ipprism/internal/logging"
)

// DefaultSourceName labels batches created through the API without a name.
const DefaultSourceName = "api"

// CreateAnalysisRequest is the body of POST /api/v1/analyses. Text is scanned
// for addresses the same way an uploaded file is; Addresses are scanned too,
// so entries that are not dotted quads are ignored.
type CreateAnalysisRequest struct {
	Text        string   `json:"text" validate:"required_without=Addresses"`
	Addresses   []string `json:"addresses" validate:"required_without=Text,max=100000"`
	SourceName  string   `json:"source_name" validate:"max=255"`
	Description string   `json:"description" validate:"max=2000"`
}

// AnalysisHandler serves the analysis endpoints.
type AnalysisHandler struct {
	manager  *Manager
	logger   *logging.Logger
	validate *validator.Validate
}

// NewAnalysisHandler creates an analysis handler.
func NewAnalysisHandler(manager *Manager, logger *logging.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		manager:  manager,
		logger:   logger.WithComponent("api.analyses"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Create handles POST /api/v1/analyses.
func (h *AnalysisHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body CreateAnalysisRequest
	if err := parseJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("validation failed: %w", err))
		return
	}

	addresses := addressesOf(body)
	if len(addresses) == 0 {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("no IPv4 addresses found"))
		return
	}

	sourceName := strings.TrimSpace(body.SourceName)
	if sourceName == "" {
		sourceName = DefaultSourceName
	}

	view, err := h.manager.Start(analysis.Request{
		Addresses:   addresses,
		SourceName:  sourceName,
		Description: body.Description,
	})
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}

	w.Header().Set("Location", "/api/v1/analyses/"+view.ID)
	writeJSON(w, r, http.StatusAccepted, view)
}

func addressesOf(body CreateAnalysisRequest) []string {
	set := extract.Extract(body.Text)
	for addr := range extract.Extract(strings.Join(body.Addresses, "\n")) {
		set[addr] = struct{}{}
	}
	return extract.Sorted(set)
}

// List handles GET /api/v1/analyses.
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.manager.List())
}

// Get handles GET /api/v1/analyses/{id}.
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, ok := h.manager.Get(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("analysis %s not found", id))
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// Cancel handles DELETE /api/v1/analyses/{id}. The run settles in the
// background; poll Get for the final state.
func (h *AnalysisHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, ok := h.manager.Cancel(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("analysis %s not found", id))
		return
	}
	h.logger.WithRunID(id).Info("Analysis cancellation requested")
	writeJSON(w, r, http.StatusAccepted, view)
}
