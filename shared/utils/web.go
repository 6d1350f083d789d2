package utils

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/itchan-dev/threadsync/shared/errors"
	"github.com/itchan-dev/threadsync/shared/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrPayloadTooLarge is returned when the body went past the reader's size limit.
var ErrPayloadTooLarge = &errors.ErrorWithStatusCode{Message: "Payload too large", StatusCode: http.StatusRequestEntityTooLarge}

func WriteErrorAndStatusCode(w http.ResponseWriter, err error) {
	if e, ok := err.(*errors.ErrorWithStatusCode); ok {
		http.Error(w, err.Error(), e.StatusCode)
		return
	}
	if e, ok := err.(*errors.ValidationError); ok {
		http.Error(w, e.Error(), http.StatusBadRequest)
		return
	}
	// default error is 500
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.Error("failed to encode response", "error", err)
	}
}

func DecodeValidate(r io.ReadCloser, body any) error {
	if err := Decode(r, body); err != nil {
		return err
	}
	if err := validate.Struct(body); err != nil {
		logger.Log.Debug("body validation failed", "error", err)
		return &errors.ErrorWithStatusCode{Message: "Required fields missing", StatusCode: 400}
	}
	return nil
}

func Decode(r io.ReadCloser, body any) error {
	if err := json.NewDecoder(r).Decode(body); err != nil {
		if errors.Is[*http.MaxBytesError](err) {
			return ErrPayloadTooLarge
		}
		logger.Log.Debug("invalid json body", "error", err)
		return &errors.ErrorWithStatusCode{Message: "Body is invalid json", StatusCode: 400}
	}
	return nil
}
