// Activity handlers serve the per-work activity stream. They operate on the
// activity store, not the work tables.
package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matthewbaird/canalworks/internal/activity"
	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/signals"
	"github.com/matthewbaird/canalworks/internal/types"
)

// ActivityHandler implements HTTP handlers for the activity stream.
type ActivityHandler struct {
	store activity.Store
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(store activity.Store) *ActivityHandler {
	return &ActivityHandler{store: store}
}

// WorkActivity returns a chronological activity feed for one work package.
// GET /v1/works/{id}/activity
func (h *ActivityHandler) WorkActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	opts := activity.DefaultQueryOptions()
	q := r.URL.Query()
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			opts.Since = &t
		}
	}
	if u := q.Get("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			opts.Until = &t
		}
	}
	if cats := q.Get("categories"); cats != "" {
		opts.Categories = strings.Split(cats, ",")
	}
	if mw := q.Get("min_weight"); mw != "" {
		opts.MinWeight = mw
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = min(n, 500)
		}
	}
	opts.Cursor = q.Get("cursor")

	entries, nextCursor, totalCount, err := h.store.QueryByEntity(r.Context(), "work_package", strconv.FormatInt(id, 10), opts)
	if err != nil {
		writeAppError(w, apperrors.Wrap(apperrors.CodeInternal, "querying activity", err))
		return
	}

	resp := struct {
		Activities []types.ActivityEntry `json:"activities"`
		NextCursor string                `json:"next_cursor,omitempty"`
		TotalCount int                   `json:"total_count"`
	}{
		Activities: entries,
		NextCursor: nextCursor,
		TotalCount: totalCount,
	}
	if resp.Activities == nil {
		resp.Activities = []types.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// WorkSignals returns the submission health summary of one work package.
// GET /v1/works/{id}/signals?since=&until=
func (h *ActivityHandler) WorkSignals(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	until := time.Now()
	since := until.AddDate(0, -6, 0)
	q := r.URL.Query()
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			since = t
		}
	}
	if u := q.Get("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			until = t
		}
	}
	if !since.Before(until) {
		writeError(w, apperrors.CodeInvalidArgument, "since must be before until")
		return
	}

	opts := activity.QueryOptions{Since: &since, Until: &until, MinWeight: activity.WeightInfo, Limit: 500}
	entityID := strconv.FormatInt(id, 10)
	entries, _, _, err := h.store.QueryByEntity(r.Context(), "work_package", entityID, opts)
	if err != nil {
		writeAppError(w, apperrors.Wrap(apperrors.CodeInternal, "querying activity", err))
		return
	}
	writeJSON(w, http.StatusOK, signals.Aggregate(entries, "work_package", entityID, since, until))
}

// Search performs a substring search across activity summaries.
// POST /v1/activity/search
func (h *ActivityHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query      string   `json:"query"`
		EntityType string   `json:"entity_type,omitempty"`
		Since      string   `json:"since,omitempty"`
		Categories []string `json:"categories,omitempty"`
		Limit      int      `json:"limit,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.CodeInvalidJSON, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, apperrors.CodeInvalidArgument, "query is required")
		return
	}

	opts := activity.DefaultSearchOptions()
	opts.EntityType = req.EntityType
	opts.Categories = req.Categories
	if req.Limit > 0 {
		opts.Limit = req.Limit
	}
	if req.Since != "" {
		if t, err := time.Parse(time.RFC3339, req.Since); err == nil {
			opts.Since = &t
		}
	}

	entries, totalCount, err := h.store.Search(r.Context(), req.Query, opts)
	if err != nil {
		writeAppError(w, apperrors.Wrap(apperrors.CodeInternal, "searching activity", err))
		return
	}

	resp := struct {
		Results    []types.ActivityEntry `json:"results"`
		TotalCount int                   `json:"total_count"`
	}{
		Results:    entries,
		TotalCount: totalCount,
	}
	if resp.Results == nil {
		resp.Results = []types.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}
