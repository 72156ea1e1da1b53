// Package api provides the REST endpoints for reports, catalog browsing,
// execution, export, and sync.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/txn2/report-engine/pkg/catalog"
	"github.com/txn2/report-engine/pkg/query"
	"github.com/txn2/report-engine/pkg/report"
	"github.com/txn2/report-engine/pkg/service"
)

const pathParamID = "id"

// ReportService is the report orchestration surface the handler needs.
// *service.Service implements this.
type ReportService interface {
	List(ctx context.Context) ([]report.Report, error)
	Get(ctx context.Context, id int64) (*report.Definition, error)
	Create(ctx context.Context, spec report.Spec) (int64, error)
	Update(ctx context.Context, id int64, spec report.Spec) error
	Delete(ctx context.Context, id int64) error
	Execute(ctx context.Context, id int64, page, pageSize int, dates *query.DateRange) (*query.Result, error)
	ExportData(ctx context.Context, id int64, dates *query.DateRange) (*service.Export, error)
	Stats(ctx context.Context) (*service.Stats, error)
}

// Syncer triggers metadata syncs. *sync.Syncer implements this.
type Syncer interface {
	Sync(ctx context.Context, alias string) error
	SyncAll(ctx context.Context, clear bool) error
}

// Handler serves the report-engine REST API.
type Handler struct {
	mux        *http.ServeMux
	service    ReportService
	catalog    catalog.Store
	syncer     Syncer
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates the API handler. authMiddle may be nil for an open API.
func NewHandler(svc ReportService, cat catalog.Store, syncer Syncer, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		service:    svc,
		catalog:    cat,
		syncer:     syncer,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authMiddle != nil {
		h.authMiddle(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /api/v1/reports", h.listReports)
	h.mux.HandleFunc("POST /api/v1/reports", h.createReport)
	h.mux.HandleFunc("GET /api/v1/reports/{id}", h.getReport)
	h.mux.HandleFunc("PUT /api/v1/reports/{id}", h.updateReport)
	h.mux.HandleFunc("DELETE /api/v1/reports/{id}", h.deleteReport)
	h.mux.HandleFunc("GET /api/v1/reports/{id}/execute", h.executeReport)
	h.mux.HandleFunc("GET /api/v1/reports/{id}/export", h.exportReport)

	h.mux.HandleFunc("GET /api/v1/databases", h.listDatabases)
	h.mux.HandleFunc("GET /api/v1/databases/{id}/tables", h.listTables)
	h.mux.HandleFunc("GET /api/v1/tables/{id}/columns", h.listColumns)

	h.mux.HandleFunc("POST /api/v1/sync", h.triggerSync)
	h.mux.HandleFunc("GET /api/v1/stats", h.stats)
}

// reportListResponse wraps the report list.
type reportListResponse struct {
	Data  []report.Report `json:"data"`
	Total int             `json:"total"`
}

// listReports handles GET /api/v1/reports.
//
// @Summary      List reports
// @Description  Returns all active report definitions.
// @Tags         Reports
// @Produce      json
// @Success      200  {object}  reportListResponse
// @Router       /reports [get]
func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []report.Report{}
	}
	writeJSON(w, http.StatusOK, reportListResponse{Data: reports, Total: len(reports)})
}

// createdResponse returns the id of a created entity.
type createdResponse struct {
	ID int64 `json:"id"`
}

// createReport handles POST /api/v1/reports.
//
// @Summary      Create report
// @Description  Persists a new report definition with its column set.
// @Tags         Reports
// @Accept       json
// @Produce      json
// @Param        body  body  report.Spec  true  "Report definition"
// @Success      201  {object}  createdResponse
// @Failure      400  {object}  problemDetail
// @Router       /reports [post]
func (h *Handler) createReport(w http.ResponseWriter, r *http.Request) {
	var spec report.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.service.Create(r.Context(), spec)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// getReport handles GET /api/v1/reports/{id}.
//
// @Summary      Get report
// @Description  Returns the full definition graph of one report.
// @Tags         Reports
// @Produce      json
// @Param        id  path  integer  true  "Report ID"
// @Success      200  {object}  report.Definition
// @Failure      404  {object}  problemDetail
// @Router       /reports/{id} [get]
func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	def, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// updateReport handles PUT /api/v1/reports/{id}.
//
// @Summary      Update report
// @Description  Rewrites a report definition, replacing its column set.
// @Tags         Reports
// @Accept       json
// @Produce      json
// @Param        id    path  integer      true  "Report ID"
// @Param        body  body  report.Spec  true  "Report definition"
// @Success      200  {object}  statusResponse
// @Failure      400  {object}  problemDetail
// @Failure      404  {object}  problemDetail
// @Router       /reports/{id} [put]
func (h *Handler) updateReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var spec report.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.service.Update(r.Context(), id, spec); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}

// deleteReport handles DELETE /api/v1/reports/{id}.
//
// @Summary      Delete report
// @Tags         Reports
// @Produce      json
// @Param        id  path  integer  true  "Report ID"
// @Success      200  {object}  statusResponse
// @Failure      404  {object}  problemDetail
// @Router       /reports/{id} [delete]
func (h *Handler) deleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "deleted"})
}

// executeResponse is the paginated execution result.
type executeResponse struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	TotalCount int      `json:"total_count"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
}

// executeReport handles GET /api/v1/reports/{id}/execute.
//
// @Summary      Execute report
// @Description  Runs a report for one page. Dates default to today.
// @Tags         Reports
// @Produce      json
// @Param        id          path   integer  true   "Report ID"
// @Param        page        query  integer  false  "Page number, 1-based (default: 1)"
// @Param        page_size   query  integer  false  "Rows per page (default: 10)"
// @Param        start_date  query  string   false  "Start date (YYYY-MM-DD)"
// @Param        end_date    query  string   false  "End date (YYYY-MM-DD)"
// @Success      200  {object}  executeResponse
// @Failure      404  {object}  problemDetail
// @Failure      502  {object}  problemDetail
// @Router       /reports/{id}/execute [get]
func (h *Handler) executeReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	page := intParam(r, "page", 1)
	pageSize := intParam(r, "page_size", service.DefaultPageSize)
	dates, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Execute(r.Context(), id, page, pageSize, dates)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{
		Columns:    result.Columns,
		Rows:       result.Rows,
		TotalCount: result.Count,
		Page:       page,
		PageSize:   pageSize,
	})
}

// exportReport handles GET /api/v1/reports/{id}/export.
//
// @Summary      Export report data
// @Description  Returns the full unpaginated result set with numeric columns marked for downstream formatting.
// @Tags         Reports
// @Produce      json
// @Param        id          path   integer  true   "Report ID"
// @Param        start_date  query  string   false  "Start date (YYYY-MM-DD)"
// @Param        end_date    query  string   false  "End date (YYYY-MM-DD)"
// @Success      200  {object}  service.Export
// @Failure      404  {object}  problemDetail
// @Failure      502  {object}  problemDetail
// @Router       /reports/{id}/export [get]
func (h *Handler) exportReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	dates, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	export, err := h.service.ExportData(r.Context(), id, dates)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// listDatabases handles GET /api/v1/databases.
func (h *Handler) listDatabases(w http.ResponseWriter, r *http.Request) {
	dbs, err := h.catalog.ListDatabases(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dbs == nil {
		dbs = []catalog.Database{}
	}
	writeJSON(w, http.StatusOK, dbs)
}

// listTables handles GET /api/v1/databases/{id}/tables.
func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tables, err := h.catalog.ListTables(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if tables == nil {
		tables = []catalog.Table{}
	}
	writeJSON(w, http.StatusOK, tables)
}

// columnResponse is a catalog column plus its stable configuration slug,
// which clients use as a dialect-independent key for saved selections.
type columnResponse struct {
	catalog.Column
	Slug string `json:"slug"`
}

// listColumns handles GET /api/v1/tables/{id}/columns.
func (h *Handler) listColumns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	table, err := h.catalog.GetTable(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	columns, err := h.catalog.ListColumns(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]columnResponse, 0, len(columns))
	for _, c := range columns {
		out = append(out, columnResponse{Column: c, Slug: c.Slug(*table)})
	}
	writeJSON(w, http.StatusOK, out)
}

// syncRequest selects what to sync. An empty alias syncs all sources.
type syncRequest struct {
	Alias string `json:"alias,omitempty"`
	Clear bool   `json:"clear,omitempty"`
}

// triggerSync handles POST /api/v1/sync.
//
// @Summary      Sync metadata
// @Description  Mirrors source schemas into the catalog. Empty alias syncs all configured sources.
// @Tags         Catalog
// @Accept       json
// @Produce      json
// @Param        body  body  syncRequest  false  "Sync selection"
// @Success      200  {object}  statusResponse
// @Failure      500  {object}  problemDetail
// @Router       /sync [post]
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var err error
	if req.Alias != "" {
		err = h.syncer.Sync(r.Context(), req.Alias)
	} else {
		err = h.syncer.SyncAll(r.Context(), req.Clear)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "synced"})
}

// stats handles GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// statusResponse reports the outcome of a mutation.
type statusResponse struct {
	Status string `json:"status"`
}

// problemDetail is the JSON error body.
type problemDetail struct {
	Error string `json:"error"`
}

// statusFor maps service-layer errors to HTTP status codes.
func statusFor(err error) int {
	var execErr *service.ExecutionError
	switch {
	case errors.Is(err, report.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, report.ErrColumnMismatch), errors.Is(err, service.ErrUnsupportedDialect):
		return http.StatusBadRequest
	case errors.As(err, &execErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// pathID parses the {id} path value, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(pathParamID), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// intParam parses a positive integer query parameter with a fallback.
func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// dateRange parses start_date/end_date query parameters. Absent values
// default to today, mirroring the execute defaults.
func dateRange(r *http.Request) (*query.DateRange, error) {
	start := r.URL.Query().Get("start_date")
	end := r.URL.Query().Get("end_date")
	if start == "" && end == "" {
		return nil, nil
	}

	dates := query.Today()
	if start != "" {
		t, err := time.Parse("2006-01-02", start)
		if err != nil {
			return nil, errors.New("invalid start_date, expected YYYY-MM-DD")
		}
		dates.Start = t
	}
	if end != "" {
		t, err := time.Parse("2006-01-02", end)
		if err != nil {
			return nil, errors.New("invalid end_date, expected YYYY-MM-DD")
		}
		dates.End = t
	}
	return &dates, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, problemDetail{Error: msg})
}
