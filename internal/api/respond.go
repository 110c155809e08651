package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
)

type errorResponse struct {
	Error string    `json:"error"`
	Kind  errs.Kind `json:"kind,omitempty"`
	Alert bool      `json:"alert,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidAmount, errs.KindInvalidRequest:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindDuplicateBill, errs.KindAlreadySettled, errs.KindCardInUse:
		return http.StatusConflict
	case errs.KindLimitExceeded, errs.KindOverPayment:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError reports a rejection to the caller. Broken ledger
// invariants are flagged with alert=true; internal failures hide their cause.
func writeEngineError(w http.ResponseWriter, log zerolog.Logger, err error) {
	kind := errs.KindOf(err)
	resp := errorResponse{Error: err.Error(), Kind: kind}

	switch kind {
	case errs.KindInconsistent:
		resp.Alert = true
		log.Error().Err(err).Bool("alert", true).Msg("request hit a ledger inconsistency")
	case errs.KindInternal:
		resp.Error = "internal server error"
		log.Error().Err(err).Msg("request failed")
	default:
		log.Debug().Err(err).Str("kind", string(kind)).Msg("request rejected")
	}

	writeJSON(w, statusFor(kind), resp)
}

// decodeJSON reads the request body into dst. An empty body leaves dst as is.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errs.Wrap(errs.ErrInvalidRequest, "invalid request body: %v", err)
	}
	return nil
}
