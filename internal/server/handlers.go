package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"market-insight-lab/internal/features"
	"market-insight-lab/internal/ingestion"
	"market-insight-lab/internal/pipeline"
	"market-insight-lab/internal/session"
	"market-insight-lab/internal/stocks"
)

const maxBodyBytes = 1 << 16

type createSessionRequest struct {
	APIKey  string `json:"api_key"`
	Start   int    `json:"start"`
	Limit   int    `json:"limit"`
	Convert string `json:"convert"`
}

type sessionResponse struct {
	ID      string `json:"id"`
	Start   int    `json:"start"`
	Limit   int    `json:"limit"`
	Convert string `json:"convert"`
}

type selectionRequest struct {
	Name string `json:"name"`
}

type targetRequest struct {
	Target string `json:"target"`
}

type targetResponse struct {
	Target  string `json:"target"`
	Pending bool   `json:"pending"`
}

type predictResponse struct {
	Target     string                     `json:"target"`
	Prediction float64                    `json:"prediction"`
	Inputs     map[features.Column]float64 `json:"inputs"`
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeClassified(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err)
		return
	}
	if req.Start < 0 || req.Limit < 0 || req.Limit > 5000 {
		writeError(w, http.StatusBadRequest, kindBadRequest, errors.New("start must be >= 0 and limit in [0, 5000]"))
		return
	}

	sess := s.sessions.Create(ingestion.Query{
		Start:   req.Start,
		Limit:   req.Limit,
		Convert: req.Convert,
		APIKey:  req.APIKey,
	})
	q := sess.Query()
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID(), Start: q.Start, Limit: q.Limit, Convert: q.Convert})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.Close(id); err != nil {
		writeClassified(w, err)
		return
	}
	s.hub.CloseSession(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	a, err := sess.Refresh(r.Context(), force)
	if err != nil {
		writeClassified(w, err)
		return
	}
	s.respondDashboard(w, sess.ID(), a, true)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	a := sess.Analysis()
	if a == nil {
		writeClassified(w, session.ErrNoSnapshot)
		return
	}
	s.respondDashboard(w, sess.ID(), a, false)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, kindBadRequest, errors.New("name is required"))
		return
	}

	a, err := sess.Select(r.Context(), req.Name)
	if a != nil {
		s.broadcast(sess.ID(), a)
	}
	if err != nil {
		writeClassified(w, err)
		return
	}
	s.respondDashboard(w, sess.ID(), a, false)
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req targetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err)
		return
	}
	col, err := features.ParseColumn(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err)
		return
	}

	a, err := sess.SetTarget(r.Context(), col)
	if err != nil {
		writeClassified(w, err)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusAccepted, targetResponse{Target: string(col), Pending: true})
		return
	}
	s.respondDashboard(w, sess.ID(), a, true)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	inputs := make(map[features.Column]float64)
	q := r.URL.Query()
	for _, c := range features.DefaultColumns {
		raw := q.Get(string(c))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, kindBadRequest, fmt.Errorf("%s: %w", c, err))
			return
		}
		inputs[c] = v
	}

	y, err := sess.Predict(inputs)
	if err != nil {
		status, kind := classify(err)
		if status == http.StatusInternalServerError {
			status, kind = http.StatusBadRequest, kindBadRequest
		}
		writeError(w, status, kind, err)
		return
	}

	target := ""
	if a := sess.Analysis(); a != nil {
		target = string(a.Target)
	}
	writeJSON(w, http.StatusOK, predictResponse{Target: target, Prediction: y, Inputs: inputs})
}

func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	if s.stocks == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, errors.New("stock source not configured"))
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["ticker"]))

	days := stocks.DefaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, kindBadRequest, fmt.Errorf("days: %w", err))
			return
		}
		days = stocks.ClampDays(n)
	}

	bars, err := s.stocks.Recent(r.Context(), ticker, days)
	if err != nil {
		status, kind := classify(err)
		if status == http.StatusInternalServerError {
			status, kind = http.StatusBadGateway, kindUpstream
		}
		writeError(w, status, kind, err)
		return
	}
	perf, err := stocks.Performance(ticker, bars)
	if err != nil {
		writeError(w, http.StatusNotFound, kindNoData, err)
		return
	}
	sentiment := stocks.TallySentiment(stocks.SamplePosts(ticker), s.lexicon)
	writeJSON(w, http.StatusOK, s.reports.StockReport(ticker, bars, perf, &sentiment))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written an error response
		s.logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("websocket upgrade failed")
		return
	}

	var initial []byte
	if a := sess.Analysis(); a != nil {
		initial, err = json.Marshal(s.reports.Dashboard(a))
		if err != nil {
			s.logger.Error().Err(err).Msg("encode dashboard")
			initial = nil
		}
	}
	s.hub.Attach(sess.ID(), conn, initial)
}

// respondDashboard writes the dashboard of a and optionally pushes it to the
// session's websocket clients.
func (s *Server) respondDashboard(w http.ResponseWriter, sessionID string, a *pipeline.Analysis, push bool) {
	d := s.reports.Dashboard(a)
	body, err := json.Marshal(d)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindInternal, fmt.Errorf("encode dashboard: %w", err))
		return
	}
	if push {
		s.hub.Broadcast(sessionID, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) broadcast(sessionID string, a *pipeline.Analysis) {
	body, err := json.Marshal(s.reports.Dashboard(a))
	if err != nil {
		s.logger.Error().Err(err).Msg("encode dashboard")
		return
	}
	s.hub.Broadcast(sessionID, body)
}
