package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/localsql/explorer/pkg/config"
	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/pkg/filter"
	"github.com/localsql/explorer/pkg/metrics"
	"github.com/localsql/explorer/pkg/paginate"
	"github.com/localsql/explorer/server/apierror"
	"github.com/localsql/explorer/server/types"
)

type pageSession struct {
	id        string
	paginator *paginate.Paginator
	created   time.Time
	lastUsed  time.Time
}

// PaginateHandler serves paging sessions: creation, page fetches, filtering,
// and per-session metrics.
type PaginateHandler struct {
	engine    *engine.Engine
	filters   *filter.Engine
	collector *metrics.Collector
	cfg       *config.Config
	ttl       time.Duration

	mu       sync.Mutex
	sessions map[string]*pageSession
	stop     chan struct{}
	once     sync.Once
}

// NewPaginateHandler creates a paginate handler and starts its eviction loop.
func NewPaginateHandler(eng *engine.Engine, collector *metrics.Collector, cfg *config.Config, ttl time.Duration) *PaginateHandler {
	h := &PaginateHandler{
		engine:    eng,
		filters:   filter.NewEngine(eng),
		collector: collector,
		cfg:       cfg,
		ttl:       ttl,
		sessions:  make(map[string]*pageSession),
		stop:      make(chan struct{}),
	}
	go h.cleanupLoop()
	return h
}

// Close stops the eviction loop.
func (h *PaginateHandler) Close() {
	h.once.Do(func() { close(h.stop) })
}

// Create handles POST /api/v1/paginate. It opens a session over the query
// and returns its first page.
func (h *PaginateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.PaginateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SQL == "" {
		writeError(w, apierror.NewInvalidParameterError("sql", "is required"))
		return
	}

	pageSize := h.cfg.ClampPageSize(req.PageSize)
	p, err := paginate.New(h.engine, req.SQL, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	session := h.addSession(p)
	resp, err := h.pageResponse(r.Context(), session, 0)
	if err != nil {
		h.removeSession(session.id)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPage handles GET /api/v1/paginate/{id}/pages/{page}.
func (h *PaginateHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, apierror.NewNotFoundError("session", chi.URLParam(r, "id")))
		return
	}

	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		writeError(w, apierror.NewInvalidParameterError("page", "must be an integer"))
		return
	}

	resp, err := h.pageResponse(r.Context(), session, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPageByCursor handles GET /api/v1/paginate/pages?cursor=...
func (h *PaginateHandler) GetPageByCursor(w http.ResponseWriter, r *http.Request) {
	cursor, err := types.DecodePageCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, apierror.NewInvalidParameterError("cursor", "is malformed"))
		return
	}

	session, ok := h.session(cursor.Session)
	if !ok {
		writeError(w, apierror.NewNotFoundError("session", cursor.Session))
		return
	}
	if cursor.PageSize != session.paginator.PageSize() {
		writeError(w, apierror.NewInvalidParameterError("cursor", "page size no longer matches the session"))
		return
	}

	resp, err := h.pageResponse(r.Context(), session, cursor.Page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Filter handles POST /api/v1/paginate/{id}/filter. A non-empty pattern
// opens a new session over the narrowed query; an empty pattern returns the
// unfiltered session.
func (h *PaginateHandler) Filter(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, apierror.NewNotFoundError("session", chi.URLParam(r, "id")))
		return
	}

	var req types.FilterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	spec := filter.Spec{
		Column:        req.Column,
		Pattern:       req.Pattern,
		CaseSensitive: req.CaseSensitive,
	}
	filtered, err := h.filters.Apply(r.Context(), session.paginator, spec)
	if err != nil {
		writeError(w, err)
		return
	}

	target := session
	if filtered != session.paginator {
		target = h.addSession(filtered)
	}
	resp, err := h.pageResponse(r.Context(), target, 0)
	if err != nil {
		if target != session {
			h.removeSession(target.id)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SessionMetrics handles GET /api/v1/paginate/{id}/metrics. It analyzes the
// session's full result, filters included.
func (h *PaginateHandler) SessionMetrics(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, apierror.NewNotFoundError("session", chi.URLParam(r, "id")))
		return
	}

	report, err := h.collector.Compute(r.Context(), session.paginator.BaseSQL())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CloseSession handles DELETE /api/v1/paginate/{id}.
func (h *PaginateHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		writeError(w, apierror.NewNotFoundError("session", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PaginateHandler) addSession(p *paginate.Paginator) *pageSession {
	session := &pageSession{
		id:        uuid.NewString(),
		paginator: p,
		created:   time.Now(),
		lastUsed:  time.Now(),
	}
	h.mu.Lock()
	h.sessions[session.id] = session
	h.mu.Unlock()
	return session
}

func (h *PaginateHandler) session(id string) (*pageSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[id]
	if ok {
		session.lastUsed = time.Now()
	}
	return session, ok
}

func (h *PaginateHandler) removeSession(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// pageResponse fetches page n and attaches neighbor cursors. An empty
// result gets a synthetic empty page 0 so session creation still succeeds.
func (h *PaginateHandler) pageResponse(ctx context.Context, session *pageSession, n int) (*types.PageResponse, error) {
	p := session.paginator

	total, err := p.TotalRows(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 && n == 0 {
		columns, err := h.engine.Schema(ctx, p.BaseSQL())
		if err != nil {
			return nil, err
		}
		return &types.PageResponse{
			SessionID: session.id,
			Info:      paginate.InfoFor(0, p.PageSize(), 0),
			Columns:   columns,
			Rows:      []engine.Row{},
		}, nil
	}

	page, err := p.FetchPage(ctx, n)
	if err != nil {
		return nil, err
	}

	resp := &types.PageResponse{
		SessionID: session.id,
		Info:      page.Info,
		Columns:   page.Columns,
		Rows:      page.Rows,
	}
	if page.Info.HasNext {
		resp.NextCursor, err = types.EncodePageCursor(types.PageCursor{
			Session:  session.id,
			Page:     n + 1,
			PageSize: p.PageSize(),
		})
		if err != nil {
			return nil, err
		}
	}
	if page.Info.HasPrevious {
		resp.PrevCursor, err = types.EncodePageCursor(types.PageCursor{
			Session:  session.id,
			Page:     n - 1,
			PageSize: p.PageSize(),
		})
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (h *PaginateHandler) cleanupLoop() {
	ticker := time.NewTicker(h.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.cleanup()
		case <-h.stop:
			return
		}
	}
}

func (h *PaginateHandler) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for id, session := range h.sessions {
		if now.Sub(session.lastUsed) > h.ttl {
			delete(h.sessions, id)
		}
	}
}
