package log

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareInjectsLogger(t *testing.T) {
	logger := New(DefaultConfig())

	var got *Logger
	h := Middleware(logger)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != logger {
		t.Errorf("FromContext returned %p, want the injected logger %p", got, logger)
	}
}

func TestFromContextFallback(t *testing.T) {
	if got := FromContext(context.Background()); got == nil {
		t.Fatal("FromContext on a bare context returned nil")
	}
}
