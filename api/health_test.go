package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/emicklei/go-restful/v3"
)

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	header http.Header
	status int
}

func (w *brokenWriter) Header() http.Header       { return w.header }
func (w *brokenWriter) WriteHeader(status int)    { w.status = status }
func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestWriteJSON_LogsWriteErrors(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	w := &brokenWriter{header: http.Header{}}
	writeJSON(restful.NewResponse(w), http.StatusOK, Health{Status: "ok"})

	if w.status != http.StatusOK {
		t.Errorf("expected status 200 written, got %d", w.status)
	}
	if !strings.Contains(buf.String(), "failed to encode JSON response") || !strings.Contains(buf.String(), "connection reset") {
		t.Errorf("expected write error to be logged, got %q", buf.String())
	}
}
