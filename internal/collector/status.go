package collector

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/store"
)

// StatusCode maps an ingestion or lookup error to the status agents see,
// both as HTTP status and as ErrorMsg code on framed connections.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUnknownSession):
		return http.StatusUnauthorized
	case errors.Is(err, ErrResend):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrProtocol), errors.Is(err, codec.ErrBadMagic), errors.Is(err, codec.ErrBadVersion):
		return http.StatusBadRequest
	case errors.Is(err, codec.ErrFrameTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, codec.ErrUnsupportedEncoding):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, codec.ErrMalformed), errors.Is(err, codec.ErrChecksum):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
