package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"market-insight-lab/internal/ingestion"
	"market-insight-lab/internal/prediction"
	"market-insight-lab/internal/session"
	"market-insight-lab/internal/similarity"
	"market-insight-lab/internal/stocks"
)

// Error kinds reported in the "kind" field of error bodies.
const (
	kindBadRequest         = "bad_request"
	kindNotFound           = "not_found"
	kindSessionNotFound    = "session_not_found"
	kindNoSnapshot         = "no_snapshot"
	kindIngest             = "ingest"
	kindPredictionDisabled = "prediction_disabled"
	kindInsufficientData   = "insufficient_data"
	kindNoData             = "no_data"
	kindUpstream           = "upstream"
	kindUnavailable        = "unavailable"
	kindTimeout            = "timeout"
	kindInternal           = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

// classify maps a domain error to an HTTP status and kind.
func classify(err error) (int, string) {
	var (
		notFound     *similarity.NotFoundError
		insufficient *prediction.InsufficientDataError
	)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, kindSessionNotFound
	case errors.Is(err, session.ErrNoSnapshot):
		return http.StatusConflict, kindNoSnapshot
	case errors.Is(err, session.ErrPredictionDisabled) && errors.As(err, &insufficient):
		return http.StatusConflict, kindInsufficientData
	case errors.Is(err, session.ErrPredictionDisabled):
		return http.StatusConflict, kindPredictionDisabled
	case errors.As(err, &notFound):
		return http.StatusNotFound, kindNotFound
	case ingestion.IsIngestError(err):
		return http.StatusBadGateway, kindIngest
	case errors.Is(err, stocks.ErrNoData):
		return http.StatusNotFound, kindNoData
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, kindTimeout
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func writeClassified(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeError(w, status, kind, err)
}
