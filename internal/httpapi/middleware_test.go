package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("LoggingMiddleware", func(t *testing.T) {
		mw := LoggingMiddleware(handler)
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("RecoveryMiddleware", func(t *testing.T) {
		panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		})
		mw := RequestIDMiddleware(RecoveryMiddleware(panicHandler))
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
		body := decodeError(t, rr.Body.Bytes())
		if body.Type != TypeSystem || body.Code != CodeInternalServerError {
			t.Errorf("unexpected error body %+v", body)
		}
	})

	t.Run("RequestIDMiddleware", func(t *testing.T) {
		var seen string
		mw := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFrom(r.Context())
		}))

		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		if seen != "req-42" || rr.Header().Get(RequestIDHeader) != "req-42" {
			t.Errorf("expected incoming id to be kept, got %q", seen)
		}

		req, _ = http.NewRequest(http.MethodGet, "/", nil)
		mw.ServeHTTP(httptest.NewRecorder(), req)
		if seen == "" || seen == "req-42" {
			t.Errorf("expected a generated id, got %q", seen)
		}
	})

	t.Run("CORSMiddleware", func(t *testing.T) {
		called := false
		mw := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
		req, _ := http.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent || called {
			t.Fatalf("expected preflight to be answered, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("expected any origin to be allowed")
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := RequestIDMiddleware(AuthMiddleware([]string{"sk-one", "sk-two"})(ok))

	tests := []struct {
		name   string
		path   string
		header string
		status int
		code   string
	}{
		{"missing", "/v1/chat/completions", "", http.StatusUnauthorized, CodeMissingAPIKey},
		{"wrong scheme", "/v1/chat/completions", "Basic sk-one", http.StatusUnauthorized, CodeMissingAPIKey},
		{"unknown key", "/v1/chat/completions", "Bearer sk-three", http.StatusUnauthorized, CodeInvalidAPIKey},
		{"valid key", "/v1/chat/completions", "Bearer sk-two", http.StatusOK, ""},
		{"public health", "/health", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			mw.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			if tt.code != "" {
				if body := decodeError(t, rr.Body.Bytes()); body.Code != tt.code || body.Type != TypeAuthentication {
					t.Errorf("unexpected error body %+v", body)
				}
			}
		})
	}

	if AuthMiddleware(nil)(ok) == nil {
		t.Fatal("expected passthrough handler without keys")
	}
}

func TestRouterNotFound(t *testing.T) {
	router := NewRouter(NewHandler(nil, nil, nil), nil)
	req, _ := http.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func decodeError(t *testing.T, data []byte) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode error response %s: %v", data, err)
	}
	return resp.Error
}
