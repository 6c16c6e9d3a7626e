package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gaspardpetit/promptrelay/internal/logx"
	"github.com/gaspardpetit/promptrelay/internal/metrics"
	"github.com/gaspardpetit/promptrelay/internal/relay"
)

const (
	msgPromptRequired  = "Prompt is required"
	msgGenerationError = "Error generating content"
)

// PromptHandler handles POST /ai: it streams the upstream fragments for the
// request prompt as a plain-text body.
func PromptHandler(rl *relay.Relayer, maxBody int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		req, err := relay.DecodePromptRequest(r)
		if err != nil {
			handleDecodeErr(w, r, err)
			return
		}

		out := &textStream{w: w, r: r}
		out.flusher, _ = w.(http.Flusher)
		res := rl.Run(r.Context(), "http", req.Prompt, out.write)

		switch res.Outcome {
		case relay.OutcomeCompleted:
			if !out.started {
				out.start()
			}
		case relay.OutcomeMissingInput:
			writeJSONError(w, http.StatusBadRequest, msgPromptRequired)
		case relay.OutcomeClientGone:
			// nobody left to answer
		default:
			if !out.started {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				if _, err := io.WriteString(w, msgGenerationError); err != nil {
					logx.Log.Error().Err(err).Msg("write generation error")
				}
				return
			}
			// The status line is gone; abort so the client sees a truncated body.
			panic(http.ErrAbortHandler)
		}
	}
}

// textStream commits the streaming headers on the first fragment so that a
// failure before any output can still be reported with a 500.
type textStream struct {
	w       http.ResponseWriter
	r       *http.Request
	flusher http.Flusher
	started bool
}

func (s *textStream) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/plain")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	if s.r.ProtoMajor == 1 {
		h.Set("Connection", "keep-alive")
	}
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *textStream) write(frag string) error {
	if !s.started {
		s.start()
	}
	if _, err := io.WriteString(s.w, frag); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func handleDecodeErr(w http.ResponseWriter, r *http.Request, err error) {
	reqID := chiMiddleware.GetReqID(r.Context())
	switch {
	case errors.Is(err, relay.ErrBodyTooLarge):
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("reject")
		metrics.RecordRejected("http", "body_too_large")
		writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.Is(err, relay.ErrPromptType):
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("reject")
		metrics.RecordRejected("http", "invalid_body")
		writeJSONError(w, http.StatusBadRequest, "Prompt must be a string")
	default:
		logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("reject")
		metrics.RecordRejected("http", "invalid_body")
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		logx.Log.Error().Err(err).Msg("encode error")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		logx.Log.Error().Err(err).Msg("write error")
	}
}
