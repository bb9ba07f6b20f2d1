package transport

import (
	"fmt"
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/khuzaima-ocs/Synapse/internal/observability"
)

// ConnectorPathPrefix is served without the gateway API key; each connector
// authenticates its own requests.
const ConnectorPathPrefix = "/api/v1/integrations/connectors/"

type Handlers struct {
	System       SystemHandlers
	Chat         ChatHandlers
	Integrations IntegrationHandlers
	Connectors   ConnectorHandlers
}

type SystemHandlers struct {
	Version stdhttp.HandlerFunc
	Healthz stdhttp.HandlerFunc
}

// NewRouter wires every route. A nil handler is a programming error and panics
// at startup rather than on first request.
func NewRouter(apiKey string, handlers Handlers, extra ...func(stdhttp.Handler) stdhttp.Handler) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(observability.Logging)
	r.Use(middleware.Recoverer)
	r.Use(cors)
	for _, mw := range extra {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/version", mustHandler("version", handlers.System.Version))
	r.Get("/healthz", mustHandler("healthz", handlers.System.Healthz))

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(observability.APIKey(apiKey, ConnectorPathPrefix))
		registerChatRoutes(api, handlers.Chat)
		registerIntegrationRoutes(api, handlers.Integrations)
		registerConnectorRoutes(api, handlers.Connectors)
	})
	return r
}

func mustHandler(name string, h stdhttp.HandlerFunc) stdhttp.HandlerFunc {
	if h == nil {
		panic(fmt.Sprintf("transport: handler %q is not configured", name))
	}
	return h
}

func cors(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key,X-Request-Id")
		if r.Method == stdhttp.MethodOptions {
			w.WriteHeader(stdhttp.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
