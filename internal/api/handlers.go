package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dispatchd/internal/apperr"
	"github.com/starford/dispatchd/internal/recordservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *recordservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *recordservice.Service) *Handler {
	return &Handler{svc: svc}
}

// writeServiceError maps domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, apperr.ErrUnknownTable):
		writeJSON(w, http.StatusNotFound, errorBody("unknown table"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("version mismatch"))
	default:
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListTables handles GET /api/tables.
//
//	@Summary		List polled tables and their status lifecycles
//	@Tags			tables
//	@Produce		json
//	@Success		200	{object}	TableListResponse
//	@Security		BearerAuth
//	@Router			/tables [get]
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.svc.ListTables(r.Context())
	if err != nil {
		writeServiceError(w, "list tables", err)
		return
	}
	writeJSON(w, http.StatusOK, TableListResponse{Tables: tables})
}

// ListRecords handles GET /api/tables/{table}/records.
//
//	@Summary		List records of a table with optional status filter
//	@Tags			records
//	@Produce		json
//	@Param			table	path		string	true	"Table"
//	@Param			status	query		string	false	"Filter by status"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	RecordListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tables/{table}/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListRecords(r.Context(), table, q.Get("status"), limit, offset)
	if err != nil {
		writeServiceError(w, "list records", err, slog.String("table", table))
		return
	}
	writeJSON(w, http.StatusOK, RecordListResponse{Records: items, Total: total})
}

// GetRecord handles GET /api/tables/{table}/records/{id}.
//
//	@Summary		Get a single record
//	@Tags			records
//	@Produce		json
//	@Param			table	path		string	true	"Table"
//	@Param			id		path		string	true	"Record id"
//	@Success		200		{object}	RecordDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tables/{table}/records/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")
	rec, err := h.svc.GetRecord(r.Context(), table, id)
	if err != nil {
		writeServiceError(w, "get record", err, slog.String("table", table), slog.String("id", id))
		return
	}
	w.Header().Set("ETag", `"`+rec.Version+`"`)
	writeJSON(w, http.StatusOK, rec)
}

// CreateRecord handles POST /api/tables/{table}/records.
//
//	@Summary		Create a record
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			table	path		string				true	"Table"
//	@Param			body	body		CreateRecordRequest	true	"Record fields"
//	@Success		201		{object}	RecordDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tables/{table}/records [post]
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	var req CreateRecordRequest
	if !readRequest(w, r, &req) {
		return
	}

	rec, err := h.svc.CreateRecord(r.Context(), table, req.Fields)
	if err != nil {
		writeServiceError(w, "create record", err, slog.String("table", table))
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// UpdateRecord handles PATCH /api/tables/{table}/records/{id}.
//
//	@Summary		Edit record fields with optimistic concurrency
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			table		path		string				true	"Table"
//	@Param			id			path		string				true	"Record id"
//	@Param			If-Match	header		string				false	"Record version for optimistic concurrency"
//	@Param			body		body		UpdateRecordRequest	true	"Field changes"
//	@Success		200			{object}	RecordDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tables/{table}/records/{id} [patch]
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")

	var req UpdateRecordRequest
	if !readRequest(w, r, &req) {
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	rec, err := h.svc.UpdateRecord(r.Context(), table, id, req.Fields, ifMatch)
	if err != nil {
		writeServiceError(w, "update record", err, slog.String("table", table), slog.String("id", id))
		return
	}
	w.Header().Set("ETag", `"`+rec.Version+`"`)
	writeJSON(w, http.StatusOK, rec)
}

// PendingChanges handles GET /api/tables/{table}/changes.
//
//	@Summary		Preview the records the next cycle would process
//	@Tags			reconciliation
//	@Produce		json
//	@Param			table	path		string	true	"Table"
//	@Success		200		{object}	ChangesResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tables/{table}/changes [get]
func (h *Handler) PendingChanges(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	items, err := h.svc.PendingChanges(r.Context(), table)
	if err != nil {
		writeServiceError(w, "pending changes", err, slog.String("table", table))
		return
	}
	writeJSON(w, http.StatusOK, ChangesResponse{Table: table, Records: items})
}

// RunCycle handles POST /api/tables/{table}/cycle.
//
//	@Summary		Run one reconciliation cycle now
//	@Tags			reconciliation
//	@Produce		json
//	@Param			table	path		string	true	"Table"
//	@Success		200		{object}	CycleResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tables/{table}/cycle [post]
func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	report, err := h.svc.RunCycle(r.Context(), table)
	if err != nil {
		writeServiceError(w, "run cycle", err, slog.String("table", table))
		return
	}
	writeJSON(w, http.StatusOK, NewCycleResponse(report))
}
