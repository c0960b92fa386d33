package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter creates the HTTP handler. Keys enable bearer authentication.
func NewRouter(handler *Handler, keys []string) http.Handler {
	router := mux.NewRouter()
	router.Use(LoggingMiddleware)
	router.Use(RecoveryMiddleware)
	router.Use(AuthMiddleware(keys))

	router.HandleFunc("/api/claude", handler.HandleNative).Methods(http.MethodPost)
	router.HandleFunc("/v1/chat/completions", handler.HandleChat).Methods(http.MethodPost)
	router.HandleFunc("/process", handler.HandleProcess).Methods(http.MethodPut)
	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, &APIError{Status: http.StatusNotFound, Type: TypeValidation, Code: CodeInvalidRequest, Message: "route not found"})
	})

	return RequestIDMiddleware(CORSMiddleware(router))
}
