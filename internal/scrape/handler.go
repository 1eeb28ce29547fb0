// Package scrape serves the registry's text exposition over HTTP.
package scrape

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	cmerrors "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/errors"
	cmlog "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/log"
	cmtracing "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/tracing"
)

const tracerName = "github.com/gxo-labs/cumetrics/internal/scrape"

// Renderer produces the exposition text served on each scrape.
type Renderer interface {
	Render() (string, error)
}

// Handler answers scrapes by rendering a fresh snapshot per request.
type Handler struct {
	renderer Renderer
	tracers  cmtracing.TracerProvider
	log      cmlog.Logger
}

// NewHandler panics if any dependency is nil.
func NewHandler(renderer Renderer, tracers cmtracing.TracerProvider, log cmlog.Logger) *Handler {
	if renderer == nil || tracers == nil || log == nil {
		panic("scrape.Handler requires a non-nil Renderer, TracerProvider, and Logger")
	}
	return &Handler{renderer: renderer, tracers: tracers, log: log.With("component", "ScrapeHandler")}
}

// ServeHTTP implements http.Handler. Render failures become a 500 and are
// logged; they are not retried, the scraper's next attempt is independent.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := h.tracers.GetTracer(tracerName).Start(req.Context(), "metrics.render")
	defer span.End()

	body, err := h.renderer.Render()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		if cmerrors.IsEncoding(err) {
			h.log.Errorf("Failed to render metrics snapshot: %v", err)
		} else {
			h.log.Errorf("Unexpected error rendering metrics snapshot: %v", err)
		}
		http.Error(w, "failed to render metrics", http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.Int("metrics.bytes", len(body)))

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, body); err != nil {
		h.log.LogCtx(ctx, slog.LevelDebug, "Scrape client went away mid-response", "error", err)
	}
}
