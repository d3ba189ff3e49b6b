package v1

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
)

const mimeNDJSON = "application/x-ndjson"

// ndjsonWriter streams events as one JSON object per line. Headers are sent
// with the first event, so an error returned before the turn starts can
// still be answered with a regular status code.
type ndjsonWriter struct {
	mu      sync.Mutex
	c       echo.Context
	enc     *json.Encoder
	started bool
	broken  bool
}

func newNDJSONWriter(c echo.Context) *ndjsonWriter {
	return &ndjsonWriter{c: c, enc: json.NewEncoder(c.Response())}
}

func (w *ndjsonWriter) Emit(ev domain.StreamEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return
	}
	res := w.c.Response()
	if !w.started {
		res.Header().Set(echo.HeaderContentType, mimeNDJSON)
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		w.started = true
	}
	if err := w.enc.Encode(ev); err != nil {
		w.broken = true
		return
	}
	res.Flush()
}

func (w *ndjsonWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// streamTurn runs fn with an NDJSON sink. Errors that occur before the first
// event become a JSON error response; later failures are already in the
// stream.
func (h *Handler) streamTurn(c echo.Context, fn func(sink loop.Sink) (*loop.Result, error)) error {
	w := newNDJSONWriter(c)
	_, err := fn(w)
	if err != nil && !w.Started() {
		return errorJSON(c, err)
	}
	return nil
}
