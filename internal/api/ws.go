package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gaspardpetit/promptrelay/internal/logx"
	"github.com/gaspardpetit/promptrelay/internal/metrics"
	"github.com/gaspardpetit/promptrelay/internal/relay"
)

// PromptSocketHandler handles GET /ai/ws. The client sends one JSON message
// carrying the prompt; every fragment is sent back as a text message and the
// close status reports how the relay ended.
func PromptSocketHandler(rl *relay.Relayer, maxBody int64, allowedOrigins []string) http.HandlerFunc {
	opts := &websocket.AcceptOptions{OriginPatterns: originPatterns(allowedOrigins)}
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := chiMiddleware.GetReqID(r.Context())
		c, err := websocket.Accept(w, r, opts)
		if err != nil {
			logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("websocket accept")
			return
		}
		defer func() { _ = c.CloseNow() }()
		if maxBody > 0 {
			c.SetReadLimit(maxBody)
		}

		ctx := r.Context()
		_, data, err := c.Read(ctx)
		if err != nil {
			logx.Log.Debug().Str("request_id", reqID).Err(err).Msg("websocket read prompt")
			return
		}
		req, err := relay.ParsePromptJSON(data)
		if err != nil {
			msg := "Invalid JSON body"
			if errors.Is(err, relay.ErrPromptType) {
				msg = "Prompt must be a string"
			}
			metrics.RecordRejected("ws", "invalid_body")
			writeSocketError(c, r, msg)
			_ = c.Close(websocket.StatusUnsupportedData, msg)
			return
		}

		// Reading stops here; CloseRead cancels ctx once the peer closes or drops.
		ctx = c.CloseRead(ctx)
		res := rl.Run(ctx, "ws", req.Prompt, func(frag string) error {
			return c.Write(ctx, websocket.MessageText, []byte(frag))
		})
		switch res.Outcome {
		case relay.OutcomeCompleted:
			_ = c.Close(websocket.StatusNormalClosure, "")
		case relay.OutcomeMissingInput:
			writeSocketError(c, r, msgPromptRequired)
			_ = c.Close(websocket.StatusPolicyViolation, msgPromptRequired)
		case relay.OutcomeClientGone:
		default:
			_ = c.Close(websocket.StatusInternalError, msgGenerationError)
		}
	}
}

func writeSocketError(c *websocket.Conn, r *http.Request, msg string) {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		logx.Log.Error().Err(err).Msg("encode websocket error")
		return
	}
	if err := c.Write(r.Context(), websocket.MessageText, b); err != nil {
		logx.Log.Debug().Err(err).Msg("websocket write error")
	}
}

// originPatterns converts CORS origins into host patterns for the WebSocket
// origin check.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		o = strings.TrimSuffix(o, "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
