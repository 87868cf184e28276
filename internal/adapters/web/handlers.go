package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"procurement-reconciler/internal/app"
	"procurement-reconciler/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes. metrics and gatherer
// may be nil, in which case no request metrics are recorded and /metrics is not served.
func NewHandler(
	svc app.ApplicationService,
	allowedOrigins string,
	metrics *observability.Metrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger, metrics))
	r.Use(Recoverer(logger))
	r.Use(CORS(allowedOrigins))

	// ── Health / metrics / schemas (public) ────────────────────────────────
	r.Get("/api/health", h.health)
	r.Get("/api/schemas", h.apiListSchemas)
	r.Get("/api/schemas/{name}", h.apiGetSchema)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		// ── Baskets ──────────────────────────────────────────────────────────
		r.Get("/api/baskets", h.apiListBaskets)
		r.Get("/api/baskets/{id}", h.apiGetBasket)
		r.Post("/api/baskets/{id}/status", h.apiChangeStatus)
		r.Post("/api/baskets/{id}/re-evaluate", h.apiReEvaluate)
		r.Get("/api/baskets/{id}/finalization", h.apiPreviewFinalization)
		r.Post("/api/baskets/{id}/lines/{lineID}/selection", h.apiToggleSelection)
		r.Post("/api/baskets/{id}/lines/{lineID}/quote", h.apiRecordQuote)

		// ── Dispatch / consultations ─────────────────────────────────────────
		r.Post("/api/dispatch", h.apiDispatch)
		r.Post("/api/lines/{lineID}/consultations", h.apiConsultSupplier)
		r.Get("/api/purchase-requests/{id}/twins", h.apiFindTwins)
	})

	h.router = r
	return r
}

// health reports liveness.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decode(w, r, v, false)
}

// decodeOptionalJSON is decodeJSON for endpoints where an empty body is valid.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decode(w, r, v, true)
}

func decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
