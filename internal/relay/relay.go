package relay

import (
	"context"
	"fmt"
	"iter"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/gaspardpetit/promptrelay/internal/logx"
	"github.com/gaspardpetit/promptrelay/internal/metrics"
)

// Generator opens a streaming generation for prompt. The returned sequence
// yields text fragments in upstream order and ends either normally or with a
// single error. Breaking out of the sequence abandons the upstream call.
type Generator interface {
	GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// Phase is the per-request relay state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseStreaming
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Outcome classifies how a relay ended.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeMissingInput     Outcome = "missing_input"
	OutcomeUpstreamFailure  Outcome = "upstream_failure"
	OutcomeMidStreamFailure Outcome = "mid_stream_failure"
	OutcomeClientGone       Outcome = "client_gone"
)

// StreamError is an upstream failure. Delivered reports whether fragments
// had already reached the client, in which case the response can no longer
// carry an error status.
type StreamError struct {
	Delivered bool
	Fragments int
	Err       error
}

func (e *StreamError) Error() string {
	if e.Delivered {
		return fmt.Sprintf("upstream failed after %d fragments: %v", e.Fragments, e.Err)
	}
	return fmt.Sprintf("upstream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Result summarizes a single relay.
type Result struct {
	Phase         Phase
	Outcome       Outcome
	Fragments     int
	Bytes         int64
	FirstFragment time.Duration
	Err           error
}

// Delivered reports whether any fragment was emitted.
func (r Result) Delivered() bool { return r.Fragments > 0 }

// Pump forwards every fragment of seq to emit, in order, until the sequence
// ends, fails or emit returns an error. Empty fragments are dropped.
func Pump(ctx context.Context, seq iter.Seq2[string, error], emit func(string) error) Result {
	res := Result{Phase: PhaseStreaming}
	start := time.Now()
	for frag, err := range seq {
		if err != nil {
			res.Phase = PhaseFailed
			if ctx.Err() != nil {
				res.Outcome = OutcomeClientGone
				res.Err = ctx.Err()
				return res
			}
			res.Outcome = OutcomeUpstreamFailure
			if res.Delivered() {
				res.Outcome = OutcomeMidStreamFailure
			}
			res.Err = &StreamError{Delivered: res.Delivered(), Fragments: res.Fragments, Err: err}
			return res
		}
		if frag == "" {
			continue
		}
		if err := emit(frag); err != nil {
			res.Phase = PhaseFailed
			res.Outcome = OutcomeClientGone
			res.Err = fmt.Errorf("write fragment: %w", err)
			return res
		}
		if res.Fragments == 0 {
			res.FirstFragment = time.Since(start)
		}
		res.Fragments++
		res.Bytes += int64(len(frag))
	}
	if err := ctx.Err(); err != nil {
		res.Phase = PhaseFailed
		res.Outcome = OutcomeClientGone
		res.Err = err
		return res
	}
	res.Phase = PhaseCompleted
	res.Outcome = OutcomeCompleted
	return res
}

// Relayer runs relays against a shared Generator. It holds no per-request
// state and is safe for concurrent use.
type Relayer struct {
	Gen   Generator
	Model string
}

// Run validates prompt and, when present, streams the upstream fragments to
// emit. transport labels logs and metrics ("http", "ws").
func (rl *Relayer) Run(ctx context.Context, transport, prompt string, emit func(string) error) Result {
	reqID := chiMiddleware.GetReqID(ctx)
	if err := (PromptRequest{Prompt: prompt}).Validate(); err != nil {
		metrics.RecordRejected(transport, string(OutcomeMissingInput))
		logx.Log.Warn().Str("request_id", reqID).Str("transport", transport).Msg("prompt missing")
		return Result{Phase: PhaseFailed, Outcome: OutcomeMissingInput, Err: err}
	}

	relayID := uuid.NewString()
	logx.Log.Info().Str("request_id", reqID).Str("relay_id", relayID).Str("transport", transport).Str("model", rl.Model).Int("prompt_len", len(prompt)).Msg("relay start")
	metrics.RelayStarted()
	start := time.Now()

	res := Pump(ctx, rl.Gen.GenerateStream(ctx, prompt), emit)

	dur := time.Since(start)
	metrics.RelayFinished(transport, rl.Model, string(res.Outcome), res.Fragments, res.Bytes, dur)
	if res.Fragments > 0 {
		metrics.ObserveFirstFragment(rl.Model, res.FirstFragment)
	}
	switch res.Outcome {
	case OutcomeCompleted:
		logx.Log.Info().Str("request_id", reqID).Str("relay_id", relayID).Int("fragments", res.Fragments).Int64("bytes", res.Bytes).Dur("duration", dur).Msg("complete")
	case OutcomeClientGone:
		logx.Log.Info().Str("request_id", reqID).Str("relay_id", relayID).Err(res.Err).Int("fragments", res.Fragments).Dur("duration", dur).Msg("client gone")
	default:
		logx.Log.Error().Str("request_id", reqID).Str("relay_id", relayID).Str("outcome", string(res.Outcome)).Err(res.Err).Int("fragments", res.Fragments).Dur("duration", dur).Msg("upstream error")
	}
	return res
}
