package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/planner"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"
	"github.com/sahithikokkula/verdict-aqe/pkg/scramble"
	"github.com/sahithikokkula/verdict-aqe/pkg/sqlast"
	"github.com/sahithikokkula/verdict-aqe/pkg/storage"
)

// session bounds the request and holds the session lock for its duration.
func (h *Handler) session(r *http.Request) (context.Context, func()) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	h.mu.Lock()
	return ctx, func() {
		h.mu.Unlock()
		cancel()
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JSON{"status": "ok", "backend": h.vc.Backend().String()})
}

func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	ctx, done := h.session(r)
	defer done()

	res, err := h.vc.Exact(ctx, "SHOW SCHEMAS")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSON{"schemas": firstColumn(res)})
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	ctx, done := h.session(r)
	defer done()

	stmt := "SHOW TABLES"
	schema := r.URL.Query().Get("schema")
	if schema != "" {
		stmt += " IN " + h.vc.Store().Dialect().QuoteIdent(schema)
	}
	res, err := h.vc.Exact(ctx, stmt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSON{"schema": schema, "tables": firstColumn(res)})
}

func firstColumn(res *result.Result) []string {
	out := make([]string, 0, res.RowCount())
	for _, row := range res.Rows() {
		if len(row) > 0 {
			if s, ok := row[0].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

type QueryRequest struct {
	SQL     string `json:"sql"`
	Exact   bool   `json:"exact"`
	Explain bool   `json:"explain"`
}

type QueryResponse struct {
	Status    string         `json:"status"`
	Plan      *planner.Plan  `json:"plan,omitempty"`
	Result    *result.Result `json:"result,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Error     string         `json:"error,omitempty"`
}

func (h *Handler) PostQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"status": "error", "error": "invalid json"})
		return
	}
	req.SQL = strings.TrimSpace(req.SQL)
	if req.SQL == "" {
		writeJSON(w, http.StatusBadRequest, JSON{"status": "error", "error": "sql required"})
		return
	}

	ctx, done := h.session(r)
	defer done()

	if req.Explain {
		plan, err := h.vc.Executor().Planner().Plan(ctx, req.SQL)
		if errdefs.IsUnsupported(err) {
			plan, err = &planner.Plan{Type: planner.PlanExact, SQL: req.SQL, OriginalSQL: req.SQL, Reason: err.Error()}, nil
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, QueryResponse{Status: "ok", Plan: plan})
		return
	}

	start := time.Now()
	var (
		res *result.Result
		err error
	)
	if req.Exact {
		res, err = h.vc.Exact(ctx, req.SQL)
	} else {
		res, err = h.vc.SQL(ctx, req.SQL)
	}
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		writeJSON(w, statusFor(err), QueryResponse{Status: "error", Error: err.Error(), ElapsedMS: elapsed})
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Status: "ok", Result: res, ElapsedMS: elapsed})
}

func (h *Handler) GetScrambles(w http.ResponseWriter, r *http.Request) {
	ctx, done := h.session(r)
	defer done()

	ms, err := h.vc.Builder().List(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if ms == nil {
		ms = []*storage.ScrambleMeta{}
	}
	writeJSON(w, http.StatusOK, JSON{"scrambles": ms})
}

type ScrambleRequest struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Method      string  `json:"method"`
	Ratio       float64 `json:"ratio"`
	BlockSize   int64   `json:"block_size"`
	Replace     bool    `json:"replace"`
	IfNotExists bool    `json:"if_not_exists"`
}

func (h *Handler) PostCreateScramble(w http.ResponseWriter, r *http.Request) {
	var req ScrambleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"status": "error", "error": "invalid json"})
		return
	}
	if req.Source == "" {
		writeJSON(w, http.StatusBadRequest, JSON{"status": "error", "error": "source required"})
		return
	}

	source, err := sqlast.ParseTableName(req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	var target sqlast.TableName
	if req.Target != "" {
		if target, err = sqlast.ParseTableName(req.Target); err != nil {
			writeError(w, err)
			return
		}
	}

	ctx, done := h.session(r)
	defer done()

	m, err := h.vc.Builder().Create(ctx, scramble.Request{
		Source:      source,
		Target:      target,
		Method:      req.Method,
		Ratio:       req.Ratio,
		BlockSize:   req.BlockSize,
		Replace:     req.Replace,
		IfNotExists: req.IfNotExists,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, JSON{"status": "ok", "scramble": m})
}

func (h *Handler) DeleteScramble(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ifExists, _ := strconv.ParseBool(r.URL.Query().Get("if_exists"))

	ctx, done := h.session(r)
	defer done()

	err := h.vc.Builder().Drop(ctx, sqlast.TableName{Schema: vars["schema"], Name: vars["name"]}, ifExists)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
