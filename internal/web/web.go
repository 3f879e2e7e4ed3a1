// Package web holds the JSON request and response helpers shared by every
// handler.
package web

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"libraryhub/internal/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the response body. Every response carries "success".
type Envelope map[string]interface{}

var ErrMalformedBody = apperr.Validationf("malformed_body", "Request body must be valid JSON.")

// JSON writes body with the given status.
func JSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// OK writes a 200 response with success set.
func OK(w http.ResponseWriter, body Envelope) {
	Respond(w, http.StatusOK, body)
}

// Respond writes body with success set.
func Respond(w http.ResponseWriter, status int, body Envelope) {
	if body == nil {
		body = Envelope{}
	}
	body["success"] = true
	JSON(w, status, body)
}

// Error writes a failure response for err. Internal errors are logged with
// their cause and reported with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	JSON(w, kind.HTTPStatus(), Envelope{
		"success": false,
		"code":    apperr.CodeOf(err),
		"message": apperr.MessageOf(err),
	})
}

// Decode reads a JSON body into dst. An empty body leaves dst untouched.
func Decode(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return ErrMalformedBody.Wrap(err)
	}
	return nil
}
