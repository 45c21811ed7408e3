package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/service"
	"github.com/matthewbaird/canalworks/internal/store"
	"github.com/matthewbaird/canalworks/internal/types"
)

// WorkHandler implements HTTP handlers for work packages and the hierarchy
// option lists.
type WorkHandler struct {
	svc *service.Service
}

// NewWorkHandler creates a new WorkHandler.
func NewWorkHandler(svc *service.Service) *WorkHandler {
	return &WorkHandler{svc: svc}
}

// ---------------------------------------------------------------------------
// Hierarchy
// ---------------------------------------------------------------------------

// ListOptions returns the nodes of one hierarchy level.
// GET /v1/options/{level}?parent_id=
func (h *WorkHandler) ListOptions(w http.ResponseWriter, r *http.Request) {
	level, err := types.ParseLevel(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, apperrors.CodeInvalidArgument, err.Error())
		return
	}
	var parentID *int64
	if raw := r.URL.Query().Get("parent_id"); raw != "" {
		id, ok := parsePositive(raw)
		if !ok {
			writeError(w, apperrors.CodeInvalidArgument, "invalid parent_id: "+raw)
			return
		}
		parentID = &id
	}
	opts, err := h.svc.Options(r.Context(), level, parentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if opts == nil {
		opts = []types.Option{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"level": level, "options": opts})
}

// ListWorkNames returns the name of every stored work, for the duplicate
// guard.
// GET /v1/work-names
func (h *WorkHandler) ListWorkNames(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.WorkNames(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"names": names})
}

// ---------------------------------------------------------------------------
// Work package writes
// ---------------------------------------------------------------------------

func (h *WorkHandler) CreateWork(w http.ResponseWriter, r *http.Request) {
	audit, ok := parseAuditContext(w, r)
	if !ok {
		return
	}
	var req types.Work
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.CodeInvalidJSON, err.Error())
		return
	}
	req.Audit = audit

	id, err := h.svc.CreateWork(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *WorkHandler) CreateBeneficiary(w http.ResponseWriter, r *http.Request) {
	audit, ok := parseAuditContext(w, r)
	if !ok {
		return
	}
	workID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req types.Beneficiary
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.CodeInvalidJSON, err.Error())
		return
	}
	req.Audit = audit

	if err := h.svc.CreateBeneficiary(r.Context(), workID, req); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"work_id": workID})
}

type createVillagesRequest struct {
	Villages []types.Village `json:"villages"`
}

func (h *WorkHandler) CreateVillages(w http.ResponseWriter, r *http.Request) {
	audit, ok := parseAuditContext(w, r)
	if !ok {
		return
	}
	workID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req createVillagesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.CodeInvalidJSON, err.Error())
		return
	}
	for i := range req.Villages {
		req.Villages[i].Audit = audit
	}

	if err := h.svc.CreateVillages(r.Context(), workID, req.Villages); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"work_id": workID, "count": len(req.Villages)})
}

type createComponentsRequest struct {
	Components []types.CostComponent `json:"components"`
}

func (h *WorkHandler) CreateComponents(w http.ResponseWriter, r *http.Request) {
	audit, ok := parseAuditContext(w, r)
	if !ok {
		return
	}
	workID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req createComponentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.CodeInvalidJSON, err.Error())
		return
	}
	for i := range req.Components {
		req.Components[i].Audit = audit
	}

	if err := h.svc.CreateComponents(r.Context(), workID, req.Components); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"work_id": workID, "count": len(req.Components)})
}

// CreateWorkPackage writes the whole aggregate in one transaction.
// POST /v1/work-packages
func (h *WorkHandler) CreateWorkPackage(w http.ResponseWriter, r *http.Request) {
	audit, ok := parseAuditContext(w, r)
	if !ok {
		return
	}
	var req types.WorkPackage
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.CodeInvalidJSON, err.Error())
		return
	}
	req.Work.Audit = audit

	id, err := h.svc.CreateAggregate(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// DeleteWork removes a work and its dependents. Submitting clients call it
// to compensate a failed dependent write.
func (h *WorkHandler) DeleteWork(w http.ResponseWriter, r *http.Request) {
	audit, ok := parseAuditContext(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.As(audit).DeleteWork(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Work package reads
// ---------------------------------------------------------------------------

func (h *WorkHandler) GetWork(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	pkg, err := h.svc.GetWorkPackage(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (h *WorkHandler) ListWorks(w http.ResponseWriter, r *http.Request) {
	page := parsePagination(r)
	works, total, err := h.svc.ListWorkPackages(r.Context(), store.ListOptions{
		Query:  r.URL.Query().Get("q"),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	if works == nil {
		works = []types.Work{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"works":       works,
		"total_count": total,
		"page_size":   page.Limit,
		"offset":      page.Offset,
	})
}
