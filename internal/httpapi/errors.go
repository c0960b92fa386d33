package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/mylxsw/asteria/log"
	"github.com/supremeagent/claudegate/internal/workspace"
	"github.com/supremeagent/claudegate/pkg/executor"
	"github.com/supremeagent/claudegate/pkg/gateway"
	"github.com/supremeagent/claudegate/pkg/openai"
	"github.com/supremeagent/claudegate/pkg/streaming"
)

const (
	TypeValidation     = "validation_error"
	TypeAuthentication = "authentication_error"
	TypeCLI            = "claude_cli_error"
	TypeWorkspace      = "workspace_error"
	TypeConfiguration  = "configuration_error"
	TypeSystem         = "system_error"

	CodeInvalidRequest      = "invalid_request"
	CodeMissingAPIKey       = "missing_api_key"
	CodeInvalidAPIKey       = "invalid_api_key"
	CodeCLINotFound         = "claude_cli_not_found"
	CodeCLIExecutionFailed  = "claude_cli_execution_failed"
	CodeCLITimeout          = "claude_cli_timeout"
	CodeWorkspaceCreation   = "workspace_creation_failed"
	CodeInvalidConfig       = "invalid_configuration"
	CodeServiceUnavailable  = "service_unavailable"
	CodeInternalServerError = "internal_server_error"
)

// APIError is an error with its HTTP rendering.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error { return e.Err }

func badRequest(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Type: TypeValidation, Code: CodeInvalidRequest, Message: message}
}

// classify maps pipeline errors onto the API error taxonomy.
func classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var (
		conflict   *gateway.ToolConflictError
		attachment *openai.AttachmentError
		execErr    *executor.ExecutionError
		wsErr      *workspace.Error
		cfgErr     *executor.ConfigurationError
	)
	switch {
	case errors.Is(err, gateway.ErrPromptRequired),
		errors.Is(err, openai.ErrNoMessages),
		errors.Is(err, openai.ErrNoUserMessage),
		errors.Is(err, workspace.ErrInvalidName),
		errors.As(err, &conflict),
		errors.As(err, &attachment):
		return &APIError{Status: http.StatusBadRequest, Type: TypeValidation, Code: CodeInvalidRequest, Message: err.Error(), Err: err}

	case errors.Is(err, executor.ErrCliNotFound):
		return &APIError{Status: http.StatusServiceUnavailable, Type: TypeCLI, Code: CodeCLINotFound, Message: err.Error(), Err: err}

	case errors.As(err, &execErr):
		code := CodeCLIExecutionFailed
		if execErr.Timeout() {
			code = CodeCLITimeout
		}
		return &APIError{Status: http.StatusInternalServerError, Type: TypeCLI, Code: code, Message: err.Error(), Err: err}

	case errors.Is(err, executor.ErrSupervisorClosed):
		return &APIError{Status: http.StatusServiceUnavailable, Type: TypeSystem, Code: CodeServiceUnavailable, Message: "server is shutting down", Err: err}

	case errors.As(err, &wsErr):
		return &APIError{Status: http.StatusInternalServerError, Type: TypeWorkspace, Code: CodeWorkspaceCreation, Message: err.Error(), Err: err}

	case errors.As(err, &cfgErr):
		return &APIError{Status: http.StatusInternalServerError, Type: TypeConfiguration, Code: CodeInvalidConfig, Message: err.Error(), Err: err}
	}

	return &APIError{Status: http.StatusInternalServerError, Type: TypeSystem, Code: CodeInternalServerError, Message: "An unexpected error occurred", Err: err}
}

func errorBody(r *http.Request, e *APIError) ErrorBody {
	return ErrorBody{
		Message:   e.Message,
		Type:      e.Type,
		Code:      e.Code,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: RequestIDFrom(r.Context()),
	}
}

func logError(r *http.Request, e *APIError) {
	entry := log.WithFields(log.Fields{
		"request_id": RequestIDFrom(r.Context()),
		"path":       r.URL.Path,
		"type":       e.Type,
		"code":       e.Code,
		"status":     e.Status,
	})
	cause := error(e)
	if e.Err != nil {
		cause = e.Err
	}
	if e.Status >= http.StatusInternalServerError {
		entry.Errorf("request failed: %v", cause)
	} else {
		entry.Warningf("request rejected: %v", cause)
	}
}

// writeError renders err as a JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	logError(r, e)
	writeJSON(w, e.Status, ErrorResponse{Error: errorBody(r, e)})
}

// writeStreamError ends a started stream with one error event.
func writeStreamError(sw *streaming.Writer, r *http.Request, err error) {
	e := classify(err)
	logError(r, e)
	if werr := sw.JSON(StreamErrorEvent{Type: "error", Error: errorBody(r, e)}); werr != nil {
		log.Debugf("failed to write stream error event: %v", werr)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("failed to write response: %v", err)
	}
}
