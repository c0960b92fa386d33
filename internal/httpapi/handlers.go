package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mylxsw/asteria/log"
	"github.com/supremeagent/claudegate/internal/files"
	"github.com/supremeagent/claudegate/internal/health"
	"github.com/supremeagent/claudegate/pkg/gateway"
	"github.com/supremeagent/claudegate/pkg/openai"
	"github.com/supremeagent/claudegate/pkg/streaming"
)

const (
	maxRequestBytes = 64 << 20
	maxUploadBytes  = 100 << 20
)

// UploadDirs provides the directory uploaded documents are stored in.
type UploadDirs interface {
	UploadDir() (string, error)
}

// Handler handles HTTP API requests.
type Handler struct {
	client  *gateway.Client
	checker *health.Checker
	uploads UploadDirs
}

func NewHandler(client *gateway.Client, checker *health.Checker, uploads UploadDirs) *Handler {
	return &Handler{client: client, checker: checker, uploads: uploads}
}

// HandleNative relays the CLI output as data frames.
func (h *Handler) HandleNative(w http.ResponseWriter, r *http.Request) {
	var req NativeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sw, err := streaming.NewWriter(w)
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = h.client.StreamNative(r.Context(), req, func(line string) error {
		return sw.Data([]byte(line))
	})
	h.finishStream(w, r, sw, err, false)
}

// HandleChat serves OpenAI compatible streaming chat completions.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Streaming() {
		writeError(w, r, badRequest("Only streaming is supported. Set 'stream' to true."))
		return
	}

	sw, err := streaming.NewWriter(w)
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = h.client.StreamChat(r.Context(), req, func(chunk openai.Chunk) error {
		return sw.JSON(chunk)
	})
	h.finishStream(w, r, sw, err, true)
}

// finishStream ends a stream. Requests rejected before the first frame get a
// plain error response, anything later one error event.
func (h *Handler) finishStream(w http.ResponseWriter, r *http.Request, sw *streaming.Writer, err error, done bool) {
	switch {
	case err == nil:
		if done {
			if derr := sw.Done(); derr != nil {
				log.Debugf("failed to write stream terminator: %v", derr)
			}
		}
	case errors.Is(err, context.Canceled) || errors.Is(r.Context().Err(), context.Canceled):
		log.WithFields(log.Fields{"request_id": RequestIDFrom(r.Context())}).Infof("client disconnected, stream stopped")
	case sw.Frames() == 0 && classify(err).Status < http.StatusInternalServerError:
		writeError(w, r, err)
	default:
		writeStreamError(sw, r, err)
	}
}

// HandleProcess stores a raw document upload and returns its path.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		writeError(w, r, badRequest("failed to read request body"))
		return
	}
	if len(data) == 0 {
		writeError(w, r, badRequest("No file data provided"))
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, r, &APIError{Status: http.StatusRequestEntityTooLarge, Type: TypeValidation, Code: CodeInvalidRequest, Message: "file too large"})
		return
	}

	dir, err := h.uploads.UploadDir()
	if err != nil {
		writeError(w, r, err)
		return
	}
	ext := files.DetectExtension(data)
	path := filepath.Join(dir, uuid.New().String()+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		writeError(w, r, err)
		return
	}

	log.WithFields(log.Fields{
		"request_id":   RequestIDFrom(r.Context()),
		"path":         path,
		"size":         len(data),
		"content_type": r.Header.Get("Content-Type"),
	}).Infof("external document saved")

	writeJSON(w, http.StatusOK, UploadResponse{
		PageContent: path,
		Metadata:    UploadMetadata{Source: "document" + ext},
	})
}

// HandleHealth reports the health of the CLI, workspace and MCP config.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(v); err != nil {
		return &APIError{
			Status:  http.StatusBadRequest,
			Type:    TypeValidation,
			Code:    CodeInvalidRequest,
			Message: "invalid request body: " + err.Error(),
			Err:     err,
		}
	}
	return nil
}
