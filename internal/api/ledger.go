package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/ledger"
)

const (
	defaultLedgerLimit = 100
	maxLedgerLimit     = 1000
)

// registerLedgerRoutes mounts the read-only audit trail under /ledger
func (s *Server) registerLedgerRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/", s.handleListEntries)
		r.Get("/summary", s.handleLedgerSummary)
		r.Get("/verify", s.handleVerifyChain)
		r.Get("/entry/{id}", s.handleGetEntry)
		r.Get("/requests/{id}", s.handleRunHistory)
		r.Get("/agents/{key}", s.handleAgentHistory)
	})
}

// ledgerFilter reads the list filters. run_id and agent select the entries
// of one request run or one agent; client with target derives the agent key.
func ledgerFilter(r *http.Request) (ledger.QueryOptions, error) {
	query := r.URL.Query()
	opts := ledger.QueryOptions{
		Action: query.Get("action"),
		Actor:  query.Get("actor"),
		Limit:  defaultLedgerLimit,
	}

	if opts.Action != "" && !ledger.KnownAction(opts.Action) {
		return opts, fmt.Errorf("%w: unknown action %q", core.ErrInvalidInput, opts.Action)
	}
	if opts.Actor != "" && !ledger.KnownActor(opts.Actor) {
		return opts, fmt.Errorf("%w: unknown actor %q", core.ErrInvalidInput, opts.Actor)
	}

	runID := query.Get("run_id")
	agent := query.Get("agent")
	if client, target := query.Get("client"), query.Get("target"); client != "" || target != "" {
		if client == "" || target == "" {
			return opts, fmt.Errorf("%w: client and target go together", core.ErrMissingRequired)
		}
		agent = core.AgentKey(client, target)
	}
	switch {
	case runID != "" && agent != "":
		return opts, fmt.Errorf("%w: filter on a run or an agent, not both", core.ErrInvalidInput)
	case runID != "":
		opts.EntityType, opts.EntityID = ledger.EntityRequest, runID
	case agent != "":
		opts.EntityType, opts.EntityID = ledger.EntityAgent, agent
	}

	var err error
	if opts.Since, err = parseInstant(query.Get("since")); err != nil {
		return opts, err
	}
	if opts.Until, err = parseInstant(query.Get("until")); err != nil {
		return opts, err
	}

	if limit := query.Get("limit"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			return opts, fmt.Errorf("%w: limit %q", core.ErrInvalidInput, limit)
		}
		opts.Limit = min(l, maxLedgerLimit)
	}
	if offset := query.Get("offset"); offset != "" {
		o, err := strconv.Atoi(offset)
		if err != nil || o < 0 {
			return opts, fmt.Errorf("%w: offset %q", core.ErrInvalidInput, offset)
		}
		opts.Offset = o
	}
	return opts, nil
}

func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not an RFC 3339 time", core.ErrInvalidInput, s)
	}
	return t, nil
}

// GET /api/v1/ledger?action=&actor=&run_id=&agent=&client=&target=&since=&until=&limit=&offset=
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	opts, err := ledgerFilter(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	entries, err := s.ledgerStore.Query(r.Context(), opts)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	total, err := s.ledgerStore.Count(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries":       nonNil(entries),
		"count":         len(entries),
		"total_entries": total,
		"limit":         opts.Limit,
		"offset":        opts.Offset,
	})
}

func (s *Server) handleLedgerSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledgerStore.GetSummary(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// handleVerifyChain always answers 200; a broken chain is reported in the body
func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	result := map[string]interface{}{"verified_at": time.Now().UTC()}

	err := s.ledgerStore.VerifyChain(r.Context())
	result["chain_valid"] = err == nil
	if err != nil {
		s.logger.Warn("Ledger chain broken: %v", err)
		result["error"] = err.Error()
		var chainErr *ledger.ChainError
		if errors.As(err, &chainErr) {
			result["error_type"] = chainErr.Type
			result["entry_num"] = chainErr.EntryNum
			result["entry_id"] = chainErr.EntryID
		}
	}

	if total, err := s.ledgerStore.Count(r.Context()); err == nil {
		result["total_entries"] = total
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.ledgerStore.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if entry == nil {
		s.respondErr(w, fmt.Errorf("ledger entry: %w", core.ErrRecordNotFound))
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

// handleRunHistory returns the audit entries of a stored request run
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.runStore.Get(r.Context(), id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondHistory(w, r, ledger.EntityRequest, id)
}

// handleAgentHistory returns the creation and uploads of one agent
func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	s.respondHistory(w, r, ledger.EntityAgent, chi.URLParam(r, "key"))
}

func (s *Server) respondHistory(w http.ResponseWriter, r *http.Request, entityType, entityID string) {
	entries, err := s.ledgerStore.GetEntityHistory(r.Context(), entityType, entityID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   entityID,
		"entries":     nonNil(entries),
		"count":       len(entries),
	})
}

func nonNil(entries []*ledger.Entry) []*ledger.Entry {
	if entries == nil {
		return []*ledger.Entry{}
	}
	return entries
}
