package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouterRequiresAPIKeyOutsidePublicRoutes(t *testing.T) {
	t.Parallel()

	router := NewRouter("test-api-key", newNoOpHandlers())

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusNoContent},
		{http.MethodGet, "/version", http.StatusNoContent},
		{http.MethodPost, "/api/v1/chat/", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/chat/history/a/u", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/integrations/whatsapp", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/integrations/connectors/whatsapp/twilio/token", http.StatusNoContent},
		{http.MethodGet, "/api/v1/integrations/connectors/whatsapp/twilio/token", http.StatusNoContent},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s %s: expected status=%d, got=%d", tc.method, tc.path, tc.want, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/", nil)
	req.Header.Set("X-API-Key", "test-api-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected authorized chat call to reach handler, got=%d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected cors headers on api routes")
	}
}

func TestRouterPanicsOnMissingHandler(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected NewRouter to panic when a handler is missing")
		}
	}()
	handlers := newNoOpHandlers()
	handlers.Chat.History = nil
	NewRouter("", handlers)
}
