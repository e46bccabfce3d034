package openapi

import (
	_ "embed"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/strefethen/bose-hub-go/internal/api"
	"github.com/strefethen/bose-hub-go/internal/apperrors"
)

//go:embed bose-hub.v1.yaml
var specYAML []byte

// parsedSpec decodes the embedded document once for the JSON route.
var parsedSpec = sync.OnceValues(func() (any, error) {
	var parsed any
	if err := yaml.Unmarshal(specYAML, &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
})

// RegisterRoutes wires OpenAPI routes to the router.
func RegisterRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/openapi", api.Handler(serveOpenAPIYAML))
	router.Method(http.MethodGet, "/openapi.json", api.Handler(serveOpenAPIJSON))
}

func serveOpenAPIYAML(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(specYAML)
	return err
}

func serveOpenAPIJSON(w http.ResponseWriter, _ *http.Request) error {
	parsed, err := parsedSpec()
	if err != nil {
		return apperrors.NewInternalError("Failed to parse OpenAPI specification").WithCause(err)
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	return api.WriteJSON(w, http.StatusOK, parsed)
}
