package http

import (
	"net/http"
	"strings"

	apperrors "github.com/agrikart/catalog/pkg/errors"
	"github.com/agrikart/catalog/pkg/httputil"
)

// ContentTypeJSONOrMultipart rejects POST and PUT bodies that are neither
// application/json nor multipart/form-data.
func ContentTypeJSONOrMultipart(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") && !isMultipart(r) {
				httputil.WriteError(w, r, &apperrors.AppError{
					Code:    "UNSUPPORTED_MEDIA_TYPE",
					Message: "Content-Type must be application/json or multipart/form-data",
					Status:  http.StatusUnsupportedMediaType,
					Err:     apperrors.ErrUnsupportedMediaType,
				}, nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
