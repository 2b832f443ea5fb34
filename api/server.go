// Package api serves a read-only HTTP view of committed state.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"capstore/core/engine"
	caperrors "capstore/core/errors"
	"capstore/core/journal"
	"capstore/core/types"
	"capstore/observability"
)

// Server exposes health, lineage and query endpoints.
type Server struct {
	engine  *engine.Engine
	journal *journal.Journal
	logger  *slog.Logger
	router  http.Handler
}

// New builds the router. A nil journal disables the lineage endpoints.
func New(e *engine.Engine, j *journal.Journal, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: e, journal: j, logger: logger.With(slog.String("component", "api"))}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(observability.API().Middleware)

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/roots", func(roots chi.Router) {
		roots.Get("/", s.Lineage)
		roots.Get("/{root}/query/{key}", s.Query)
		roots.Get("/{root}/accounts/{account}/balance", s.Balance)
	})
	return r
}

type healthResponse struct {
	Status string       `json:"status"`
	Head   *common.Hash `json:"head,omitempty"`
}

// Health reports liveness and, once genesis has run, the head root.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.journal != nil {
		if head, err := s.journal.Head(); err == nil {
			resp.Head = &head
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type lineageResponse struct {
	Genesis journal.GenesisRecord  `json:"genesis"`
	Commits []journal.CommitRecord `json:"commits"`
}

// Lineage lists the genesis root and every commit after it.
func (s *Server) Lineage(w http.ResponseWriter, _ *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "lineage not recorded")
		return
	}
	gen, err := s.journal.Genesis()
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := lineageResponse{Genesis: gen, Commits: []journal.CommitRecord{}}
	if err := s.journal.Commits(func(rec journal.CommitRecord) bool {
		resp.Commits = append(resp.Commits, rec)
		return true
	}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type queryResponse struct {
	Root  common.Hash     `json:"root"`
	Key   types.Key       `json:"key"`
	Path  []string        `json:"path,omitempty"`
	Tag   string          `json:"tag"`
	Value json.RawMessage `json:"value"`
}

// Query reads {key} at {root} and follows the optional ?path=a/b.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	root, err := ParseRoot(chi.URLParam(r, "root"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := ParseKey(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path := SplitPath(r.URL.Query().Get("path"))
	v, err := s.engine.Query(root, key, path)
	if err != nil {
		s.fail(w, err)
		return
	}
	raw, err := MarshalValue(v)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Root: root, Key: key, Path: path, Tag: v.Tag().String(), Value: raw})
}

type balanceResponse struct {
	Root    common.Hash   `json:"root"`
	Account types.Address `json:"account"`
	Purse   types.URef    `json:"purse"`
	Balance string        `json:"balance"`
}

// Balance resolves an account's main purse balance at {root}.
func (s *Server) Balance(w http.ResponseWriter, r *http.Request) {
	root, err := ParseRoot(chi.URLParam(r, "root"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	purse, err := s.engine.MainPurse(root, account)
	if err != nil {
		s.fail(w, err)
		return
	}
	balance, err := s.engine.PurseBalance(root, purse)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Root: root, Account: account, Purse: purse, Balance: balance.String()})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}

// StatusFor maps state errors onto HTTP statuses.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, caperrors.ErrValueNotFound),
		errors.Is(err, caperrors.ErrRootNotFound),
		errors.Is(err, caperrors.ErrNamedKeyMissing),
		errors.Is(err, journal.ErrNoGenesis):
		return http.StatusNotFound
	case errors.Is(err, caperrors.ErrValueConversion),
		errors.Is(err, caperrors.ErrUnexpectedKeyVariant):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
