package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
)

// PromptRequest is the body accepted by the relay endpoints.
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

var (
	ErrMissingInput = errors.New("prompt is required")
	ErrInvalidBody  = errors.New("invalid json body")
	ErrPromptType   = errors.New("prompt must be a string")
	ErrBodyTooLarge = errors.New("request body too large")
)

// DecodePromptRequest reads a PromptRequest from r. Only application/json
// bodies are parsed; anything else decodes to an empty request. The caller
// bounds the body size (http.MaxBytesReader).
func DecodePromptRequest(r *http.Request) (PromptRequest, error) {
	if r.Body == nil || !isJSON(r.Header.Get("Content-Type")) {
		return PromptRequest{}, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return PromptRequest{}, ErrBodyTooLarge
		}
		return PromptRequest{}, ErrInvalidBody
	}
	return ParsePromptJSON(body)
}

// ParsePromptJSON parses a JSON object carrying a prompt field. An empty
// payload, a missing field and the falsy scalars (null, false, 0) all yield an
// empty prompt. Any other non-string prompt is ErrPromptType.
func ParsePromptJSON(data []byte) (PromptRequest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return PromptRequest{}, nil
	}
	var raw struct {
		Prompt json.RawMessage `json:"prompt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return PromptRequest{}, ErrInvalidBody
	}
	if len(raw.Prompt) == 0 || isFalsy(raw.Prompt) {
		return PromptRequest{}, nil
	}
	var req PromptRequest
	if err := json.Unmarshal(raw.Prompt, &req.Prompt); err != nil {
		return PromptRequest{}, ErrPromptType
	}
	return req, nil
}

// Validate reports ErrMissingInput for an absent or empty prompt.
func (p PromptRequest) Validate() error {
	if p.Prompt == "" {
		return ErrMissingInput
	}
	return nil
}

func isFalsy(v json.RawMessage) bool {
	switch string(v) {
	case "null", "false":
		return true
	}
	var n float64
	return json.Unmarshal(v, &n) == nil && n == 0
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json"
}
