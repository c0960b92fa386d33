package httpapi

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/supremeagent/claudegate/pkg/gateway"
	"github.com/supremeagent/claudegate/pkg/openai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type NativeRequest = gateway.NativeRequest
type ChatRequest = openai.ChatRequest

// ErrorBody is the payload of error responses and stream error events.
type ErrorBody struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// StreamErrorEvent ends a stream that failed after it started.
type StreamErrorEvent struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

// UploadResponse follows the external document loader format of Open WebUI.
type UploadResponse struct {
	PageContent string         `json:"page_content"`
	Metadata    UploadMetadata `json:"metadata"`
}

type UploadMetadata struct {
	Source string `json:"source"`
}
