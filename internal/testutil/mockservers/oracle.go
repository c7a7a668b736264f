// Package mockservers provides httptest servers emulating external services.
package mockservers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle/oracletest"
)

// OracleMockServer serves the decision-tree service v1 API on top of an
// in-memory fake.
type OracleMockServer struct {
	Server *httptest.Server
	Fake   *oracletest.Fake

	// Handlers override the fake for an exact request path
	Handlers map[string]http.HandlerFunc

	// Token, when set, must be presented as a bearer token
	Token string

	// PageSize splits the operation history into pages when positive
	PageSize int

	Owner   string
	Project string

	router chi.Router
	t      *testing.T
}

// NewOracleMockServer creates a mock service for owner/project
func NewOracleMockServer(t *testing.T, owner, project string) *OracleMockServer {
	t.Helper()

	mock := &OracleMockServer{
		Fake:     oracletest.New(),
		Handlers: make(map[string]http.HandlerFunc),
		Owner:    owner,
		Project:  project,
		t:        t,
	}
	mock.setupRoutes()

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if mock.Token != "" && r.Header.Get("Authorization") != "Bearer "+mock.Token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if handler, ok := mock.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}

		mock.router.ServeHTTP(w, r)
	}))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

// Config returns a client configuration pointing at the mock
func (m *OracleMockServer) Config() oracle.Config {
	return oracle.Config{
		URL:     m.Server.URL,
		Owner:   m.Owner,
		Project: m.Project,
		Token:   m.Token,
	}
}

func (m *OracleMockServer) setupRoutes() {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "unknown route "+r.URL.Path)
	})

	r.Route("/api/v1/{owner}/{project}", func(r chi.Router) {
		r.Use(m.projectOnly)
		r.Get("/agents", m.listAgents)
		r.Post("/agents", m.createAgent)
		r.Get("/agents/{agent}", m.getAgent)
		r.Delete("/agents/{agent}", m.deleteAgent)
		r.Get("/agents/{agent}/context", m.getOperations)
		r.Post("/agents/{agent}/context", m.addOperations)
		r.Get("/agents/{agent}/context/state", m.getState)
		r.Get("/agents/{agent}/decision/tree", m.getTree)
	})

	m.router = r
}

func (m *OracleMockServer) projectOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "owner") != m.Owner || chi.URLParam(r, "project") != m.Project {
			writeError(w, http.StatusNotFound, "unknown project")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *OracleMockServer) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := m.Fake.ListAgents(r.Context())
	if err != nil {
		writeFakeError(w, err)
		return
	}
	if agents == nil {
		agents = []string{}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"agentsList": agents})
}

func (m *OracleMockServer) createAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID            string               `json:"id"`
		Configuration oracle.Configuration `json:"configuration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := m.Fake.CreateAgent(r.Context(), body.Configuration, body.ID); err != nil {
		writeFakeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": body.ID})
}

func (m *OracleMockServer) getAgent(w http.ResponseWriter, r *http.Request) {
	info, err := m.Fake.GetAgent(r.Context(), chi.URLParam(r, "agent"))
	if err != nil {
		writeFakeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(info)
}

func (m *OracleMockServer) deleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := m.Fake.DeleteAgent(r.Context(), chi.URLParam(r, "agent")); err != nil {
		writeFakeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"id": chi.URLParam(r, "agent")})
}

func (m *OracleMockServer) getOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := m.Fake.GetAgentContextOperations(r.Context(), chi.URLParam(r, "agent"))
	if err != nil {
		writeFakeError(w, err)
		return
	}
	if ops == nil {
		ops = []oracle.ContextOperation{}
	}

	if m.PageSize > 0 {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		start := page * m.PageSize
		if start > len(ops) {
			start = len(ops)
		}
		end := start + m.PageSize
		if end < len(ops) {
			next := *r.URL
			q := next.Query()
			q.Set("page", strconv.Itoa(page+1))
			next.RawQuery = q.Encode()
			w.Header().Set(oracle.NextPageHeader, m.Server.URL+next.String())
		} else {
			end = len(ops)
		}
		ops = ops[start:end]
	}

	json.NewEncoder(w).Encode(ops)
}

func (m *OracleMockServer) addOperations(w http.ResponseWriter, r *http.Request) {
	var ops []oracle.ContextOperation
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := m.Fake.AddAgentContextOperations(r.Context(), chi.URLParam(r, "agent"), ops); err != nil {
		writeFakeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]int{"added": len(ops)})
}

func (m *OracleMockServer) getState(w http.ResponseWriter, r *http.Request) {
	ts, err := strconv.ParseInt(r.URL.Query().Get("t"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid t")
		return
	}
	op, err := m.Fake.GetAgentContext(r.Context(), chi.URLParam(r, "agent"), ts)
	if err != nil {
		writeFakeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(op)
}

func (m *OracleMockServer) getTree(w http.ResponseWriter, r *http.Request) {
	ts, err := strconv.ParseInt(r.URL.Query().Get("t"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid t")
		return
	}
	tree, err := m.Fake.GetAgentDecisionTree(r.Context(), chi.URLParam(r, "agent"), ts)
	if err != nil {
		writeFakeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(tree)
}

func writeFakeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrAgentExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, oracletest.ErrNonIncreasing):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
