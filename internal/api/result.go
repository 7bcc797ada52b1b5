// Package api serves the admin HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fow830/tgator/pkg/logger"
)

// Handler is an API endpoint. The returned Result is written as JSON.
type Handler func(w http.ResponseWriter, r *http.Request) Result

// Result is the outcome of a handler.
type Result struct {
	Error error
	Code  int
	Body  any
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func BadRequest(message string) Result {
	return Result{Code: http.StatusBadRequest, Body: ErrorResponse{message}}
}

func Unauthorized(message string) Result {
	return Result{Code: http.StatusUnauthorized, Body: ErrorResponse{message}}
}

func NotFound(message string) Result {
	return Result{Code: http.StatusNotFound, Body: ErrorResponse{message}}
}

func Unavailable(message string) Result {
	return Result{Code: http.StatusServiceUnavailable, Body: ErrorResponse{message}}
}

func InternalError(err error, message string) Result {
	return Result{
		Error: errors.Join(errors.New(message), err),
		Code:  http.StatusInternalServerError,
		Body:  ErrorResponse{message},
	}
}

func Ok(body any) Result {
	return Result{Code: http.StatusOK, Body: body}
}

func Created(body any) Result {
	return Result{Code: http.StatusCreated, Body: body}
}

func NoContent() Result {
	return Result{Code: http.StatusNoContent}
}

// public adapts a Handler to net/http and logs the request.
func public(handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts := time.Now()
		res := handler(w, r)

		log := logger.Component("api")
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("code", res.Code).
			Int64("elapsed_ms", time.Since(ts).Milliseconds()).
			Msg("Request handled")
		writeResult(w, res)
	}
}

func writeResult(w http.ResponseWriter, res Result) {
	if res.Code == http.StatusInternalServerError && res.Error != nil {
		logger.Error().Err(res.Error).Msg("Internal error")
	}
	if res.Body == nil {
		w.WriteHeader(res.Code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Code)
	if err := json.NewEncoder(w).Encode(res.Body); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}
