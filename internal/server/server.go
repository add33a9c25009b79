// Package server exposes a fetched catalog as a read-only JSON API.
//
// Routes:
//
//	GET /healthz
//	GET /catalog                           database name, fetch time and counts
//	GET /schemas                           schema names with relation counts
//	GET /schemas/{schema}/tables           tables and views of a schema
//	GET /schemas/{schema}/tables/{table}   one relation in full
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/logger"
	"github.com/koustreak/pgcatalog/internal/snapshot"
)

// Server serves the most recent catalog handed to it. It is safe for
// concurrent use; SetCatalog may be called while requests are in flight.
type Server struct {
	log    *logger.Logger
	router chi.Router

	mu        sync.RWMutex
	cat       *catalog.Catalog
	fetchedAt time.Time
}

// New builds the router around cat. A nil log discards request logs.
func New(cat *catalog.Catalog, fetchedAt time.Time, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{log: log, cat: cat, fetchedAt: fetchedAt}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/catalog", s.handleCatalog)
	r.Route("/schemas", func(r chi.Router) {
		r.Get("/", s.handleSchemas)
		r.Get("/{schema}/tables", s.handleTables)
		r.Get("/{schema}/tables/{table}", s.handleTable)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetCatalog swaps the served catalog, e.g. after a refresh fetch.
func (s *Server) SetCatalog(cat *catalog.Catalog, fetchedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cat = cat
	s.fetchedAt = fetchedAt
}

func (s *Server) current() (*catalog.Catalog, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cat, s.fetchedAt
}

// --- handlers ---

type catalogView struct {
	Database  string         `json:"database"`
	FetchedAt time.Time      `json:"fetched_at"`
	Counts    catalog.Counts `json:"counts"`
}

type schemaView struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	Tables int    `json:"tables"`
	Views  int    `json:"views"`
}

type relationView struct {
	Name        string `json:"name"`
	Oid         uint32 `json:"oid"`
	Kind        string `json:"kind"`
	View        bool   `json:"view"`
	Columns     int    `json:"columns"`
	Indexes     int    `json:"indexes"`
	ForeignKeys int    `json:"foreign_keys"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, at := s.current()
	writeJSON(w, http.StatusOK, catalogView{Database: cat.Name, FetchedAt: at, Counts: cat.Counts()})
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	cat, _ := s.current()
	out := make([]schemaView, 0, len(cat.Schemas()))
	for _, sc := range cat.Schemas() {
		out = append(out, schemaView{
			Name:   sc.Name,
			Target: sc.Target(),
			Tables: len(sc.Tables()),
			Views:  len(sc.Views()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	cat, _ := s.current()
	sc, ok := cat.Schema(chi.URLParam(r, "schema"))
	if !ok {
		s.writeError(w, r, errs.Newf(errs.ErrKindNotFound, "schema %q not found", chi.URLParam(r, "schema")))
		return
	}
	rels := append(append([]*catalog.Table{}, sc.Tables()...), sc.Views()...)
	out := make([]relationView, 0, len(rels))
	for _, t := range rels {
		out = append(out, relationView{
			Name:        t.Name,
			Oid:         t.Oid,
			Kind:        string(t.Kind),
			View:        t.IsView(),
			Columns:     len(t.Columns()),
			Indexes:     len(t.Indexes()),
			ForeignKeys: len(t.ForeignKeys()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	cat, _ := s.current()
	schema, table := chi.URLParam(r, "schema"), chi.URLParam(r, "table")
	sc, ok := cat.Schema(schema)
	if !ok {
		s.writeError(w, r, errs.Newf(errs.ErrKindNotFound, "schema %q not found", schema))
		return
	}
	t, ok := sc.Relation(table)
	if !ok {
		s.writeError(w, r, errs.Newf(errs.ErrKindNotFound, "relation %s.%s not found", schema, table))
		return
	}
	writeJSON(w, http.StatusOK, snapshot.NewTableDoc(t))
}

// --- plumbing ---

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		reqLog := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(ww, r.WithContext(reqLog.WithContext(r.Context())))
		s.log.HTTPEvent().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(errs.KindOf(err))
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.ErrorWith("request failed", err, map[string]interface{}{"path": r.URL.Path})
	} else {
		log.Debugf("request rejected: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": errs.KindOf(err).String()})
}

func statusFor(kind errs.ErrKind) int {
	switch kind {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidInput, errs.ErrKindAmbiguous:
		return http.StatusBadRequest
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case errs.ErrKindConnectionFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
