// Package server serves a linked document together with a JSON API over its
// semantic function index.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/ecmalinks/pkg/semantics"
	"github.com/jmylchreest/ecmalinks/pkg/store"
)

var serverLog = log.New(os.Stderr, "[ecmalinks:server] ", log.Ltime)

// PopupEndpoint is the path prefix the browser adapter fetches popups from.
const PopupEndpoint = "/api/functions/"

// Snapshot is one linked document and the index built while linking it.
// Snapshots are immutable once handed to the server.
type Snapshot struct {
	Source string
	HTML   []byte
	Index  *semantics.Index
	Loaded time.Time
}

// Searcher finds definition sites by name. store.SiteStore implements it.
type Searcher interface {
	Search(query string, opts store.SearchOptions) ([]*store.SearchResult, error)
}

// Server serves the current snapshot.
type Server struct {
	addr     string
	mux      *http.ServeMux
	searcher Searcher

	mu   sync.RWMutex
	snap *Snapshot
}

// NewServer creates a server for snap. searcher may be nil, in which case
// search falls back to substring matching over the index.
func NewServer(addr string, snap *Snapshot, searcher Searcher) *Server {
	s := &Server{
		addr:     addr,
		mux:      http.NewServeMux(),
		searcher: searcher,
		snap:     snap,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleDocument)
	s.mux.HandleFunc("GET /api/functions", s.handleFunctions)
	s.mux.HandleFunc("GET "+PopupEndpoint+"{name}", s.handleFunction)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler exposes the routes, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Swap replaces the served snapshot. Requests in flight keep the snapshot
// they started with.
func (s *Server) Swap(snap *Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	serverLog.Printf("serving %s (%d functions)", snap.Source, snap.Index.Len())
}

// Current returns the served snapshot.
func (s *Server) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		serverLog.Printf("listening on http://%s", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		serverLog.Printf("failed to encode response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, map[string]string{"error": message}, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.Current()
	jsonResponse(w, map[string]any{
		"status":    "ok",
		"source":    snap.Source,
		"functions": snap.Index.Len(),
		"loaded":    snap.Loaded,
	}, http.StatusOK)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	snap := s.Current()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(snap.HTML)
}

// FunctionSummary is one entry of the function listing.
type FunctionSummary struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Sites  int    `json:"sites"`
	Groups int    `json:"groups"`
}

func summarise(ix *semantics.Index, name string) FunctionSummary {
	sites, _ := ix.Sites(name)
	sum := FunctionSummary{Name: name, Sites: len(sites)}
	if len(sites) > 0 {
		sum.Kind = string(sites[0].Kind)
	}
	sum.Groups = len(semantics.GroupSites(sites))
	return sum
}

func (s *Server) handleFunctions(w http.ResponseWriter, r *http.Request) {
	ix := s.Current().Index
	names := ix.Names()
	out := make([]FunctionSummary, 0, len(names))
	for _, name := range names {
		out = append(out, summarise(ix, name))
	}
	if r.URL.Query().Get("sort") == "name" {
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	jsonResponse(w, out, http.StatusOK)
}

// FunctionDetail is the JSON popup content for one function.
type FunctionDetail struct {
	Function string                `json:"function"`
	Groups   []semantics.GroupView `json:"groups"`
}

// handleFunction returns the overload groups of one function, as JSON or,
// with ?format=html, as the popup list items. Groups are recomputed per
// request.
func (s *Server) handleFunction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	groups, err := s.Current().Index.Groups(name)
	if errors.Is(err, semantics.ErrUnknownFunction) {
		errorResponse(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		markup, err := semantics.RenderGroups(groups)
		if err != nil {
			errorResponse(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(markup.String()))
		return
	}
	jsonResponse(w, FunctionDetail{Function: name, Groups: semantics.Views(groups)}, http.StatusOK)
}

// SearchHit is one search result.
type SearchHit struct {
	Function    string  `json:"function"`
	Nonterminal string  `json:"nonterminal,omitempty"`
	Section     string  `json:"section,omitempty"`
	Score       float64 `json:"score"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		errorResponse(w, "query parameter 'q' required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	snap := s.Current()
	if s.searcher == nil {
		jsonResponse(w, substringSearch(snap.Index, query, limit), http.StatusOK)
		return
	}

	results, err := s.searcher.Search(query, store.SearchOptions{
		Document: snap.Source,
		Kind:     q.Get("kind"),
		Limit:    limit,
	})
	if err != nil {
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, SearchHit{
			Function:    res.Site.Function,
			Nonterminal: res.Site.Nonterminal,
			Section:     res.Site.SectionID,
			Score:       res.Score,
		})
	}
	jsonResponse(w, hits, http.StatusOK)
}

// substringSearch matches function names case-insensitively, in index order.
func substringSearch(ix *semantics.Index, query string, limit int) []SearchHit {
	needle := strings.ToLower(query)
	hits := []SearchHit{}
	for _, name := range ix.Names() {
		if len(hits) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(name), needle) {
			hits = append(hits, SearchHit{Function: name, Score: 1})
		}
	}
	return hits
}
