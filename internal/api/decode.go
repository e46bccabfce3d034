package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/strefethen/bose-hub-go/internal/apperrors"
)

// maxBodyBytes bounds request bodies; every payload here is a few fields.
const maxBodyBytes = 1 << 20

// DecodeJSON decodes the request body into dst. A malformed body becomes a
// ValidationError. An empty body leaves dst unchanged when allowEmpty is set.
func DecodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return apperrors.NewValidationError("Request body is required", nil)
		}
		return apperrors.NewValidationError("Invalid JSON body", map[string]any{"reason": err.Error()})
	}
	return nil
}
