package api

import (
	"context"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gaspardpetit/promptrelay/internal/relay"
)

// scriptGen yields frags then err for every prompt.
type scriptGen struct {
	mu      sync.Mutex
	prompts []string
	frags   []string
	err     error
}

func (g *scriptGen) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return func(yield func(string, error) bool) {
		for _, f := range g.frags {
			if !yield(f, nil) {
				return
			}
		}
		if g.err != nil {
			yield("", g.err)
		}
	}
}

func (g *scriptGen) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// echoGen yields "<prompt>:<i>" n times with a short pause between fragments.
type echoGen struct {
	n     int
	pause time.Duration
}

func (g *echoGen) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for i := 0; i < g.n; i++ {
			select {
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			case <-time.After(g.pause):
			}
			if !yield(prompt+":"+string(rune('0'+i))+";", nil) {
				return
			}
		}
	}
}

// blockingGen yields one fragment, then waits for cancellation and reports it.
type blockingGen struct {
	cancelled chan struct{}
}

func (g *blockingGen) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield("first", nil) {
			close(g.cancelled)
			return
		}
		<-ctx.Done()
		close(g.cancelled)
		yield("", ctx.Err())
	}
}

// writeRecorder keeps every Write call separately.
type writeRecorder struct {
	*httptest.ResponseRecorder
	writes  []string
	flushes int
}

func newWriteRecorder() *writeRecorder {
	return &writeRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (w *writeRecorder) Write(b []byte) (int, error) {
	w.writes = append(w.writes, string(b))
	return w.ResponseRecorder.Write(b)
}

func (w *writeRecorder) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *writeRecorder) Flush() {
	w.flushes++
	w.ResponseRecorder.Flush()
}

var _ http.Flusher = (*writeRecorder)(nil)

func newRelayer(g relay.Generator) *relay.Relayer {
	return &relay.Relayer{Gen: g, Model: "test-model"}
}
