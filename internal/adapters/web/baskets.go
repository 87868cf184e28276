package web

import (
	"net/http"
	"strings"

	"procurement-reconciler/internal/app"
	"procurement-reconciler/internal/core"

	"github.com/go-chi/chi/v5"
)

// apiListBaskets handles GET /api/baskets?status=&supplier_id=.
func (h *Handler) apiListBaskets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.svc.ListBaskets(r.Context(), app.BasketFilter{
		Status:     core.BasketStatus(strings.ToUpper(q.Get("status"))),
		SupplierID: q.Get("supplier_id"),
	})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	views := make([]basketView, len(result.Baskets))
	for i := range result.Baskets {
		views[i] = toBasketView(&result.Baskets[i])
	}
	writeJSON(w, views)
}

// apiGetBasket handles GET /api/baskets/{id}.
func (h *Handler) apiGetBasket(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetBasket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, toBasketView(result.Basket))
}

// apiChangeStatus handles POST /api/baskets/{id}/status.
func (h *Handler) apiChangeStatus(w http.ResponseWriter, r *http.Request) {
	var body changeStatusBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Status == "" {
		writeError(w, r, "status is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.ChangeBasketStatus(r.Context(), app.ChangeStatusRequest{
		BasketID: chi.URLParam(r, "id"),
		Target:   core.BasketStatus(strings.ToUpper(body.Status)),
	})
	if err != nil {
		var tr *core.TransitionResult
		if result != nil {
			tr = result.Transition
		}
		writeServiceError(w, r, err, tr)
		return
	}

	type response struct {
		Transition transitionView `json:"transition"`
		Basket     basketView     `json:"basket"`
	}
	writeJSON(w, response{
		Transition: toTransitionView(result.Transition),
		Basket:     toBasketView(result.Basket),
	})
}

// apiReEvaluate handles POST /api/baskets/{id}/re-evaluate.
func (h *Handler) apiReEvaluate(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ReEvaluateBasket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	type response struct {
		BasketID        string `json:"basket_id"`
		RequestsUpdated int    `json:"requests_updated"`
	}
	writeJSON(w, response{BasketID: result.BasketID, RequestsUpdated: result.RequestsUpdated})
}

// apiPreviewFinalization handles GET /api/baskets/{id}/finalization.
func (h *Handler) apiPreviewFinalization(w http.ResponseWriter, r *http.Request) {
	preview, err := h.svc.PreviewFinalization(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	type conflict struct {
		RequestID string   `json:"request_id"`
		LineIDs   []string `json:"line_ids"`
	}
	type response struct {
		BasketID        string     `json:"basket_id"`
		Ready           bool       `json:"ready"`
		HasSelectedLine bool       `json:"has_selected_line"`
		Conflicts       []conflict `json:"conflicts"`
		Warnings        []string   `json:"warnings"`
	}
	resp := response{
		BasketID:        preview.BasketID,
		Ready:           preview.Ready(),
		HasSelectedLine: preview.HasSelectedLine,
		Conflicts:       make([]conflict, len(preview.Report.Errors)),
		Warnings:        preview.Report.Messages(),
	}
	for i, c := range preview.Report.Errors {
		resp.Conflicts[i] = conflict{RequestID: c.RequestID, LineIDs: c.LineIDs}
	}
	writeJSON(w, resp)
}

// apiToggleSelection handles POST /api/baskets/{id}/lines/{lineID}/selection.
func (h *Handler) apiToggleSelection(w http.ResponseWriter, r *http.Request) {
	var body selectionBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Selected == nil {
		writeError(w, r, "selected is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.ToggleLineSelection(r.Context(), app.ToggleSelectionRequest{
		BasketID: chi.URLParam(r, "id"),
		LineID:   chi.URLParam(r, "lineID"),
		Selected: *body.Selected,
	})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	type response struct {
		Line    lineView `json:"line"`
		Changed bool     `json:"changed"`
		Flagged bool     `json:"flagged"`
		Reason  string   `json:"reason,omitempty"`
	}
	sel := result.Selection
	writeJSON(w, response{Line: toLineView(sel.Line), Changed: sel.Changed, Flagged: sel.Flagged, Reason: sel.Reason})
}

// apiRecordQuote handles POST /api/baskets/{id}/lines/{lineID}/quote.
func (h *Handler) apiRecordQuote(w http.ResponseWriter, r *http.Request) {
	var body quoteBody
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.svc.RecordQuote(r.Context(), app.RecordQuoteRequest{
		BasketID:     chi.URLParam(r, "id"),
		LineID:       chi.URLParam(r, "lineID"),
		Price:        body.Price,
		LeadTimeDays: body.LeadTimeDays,
	})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, toLineView(result.Line))
}

// apiDispatch handles POST /api/dispatch. An empty body dispatches every open request.
func (h *Handler) apiDispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchBody
	if !decodeOptionalJSON(w, r, &body) {
		return
	}

	result, err := h.svc.Dispatch(r.Context(), app.DispatchRequest{RequestIDs: body.RequestIDs})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	type dispatched struct {
		RequestID  string `json:"request_id"`
		SupplierID string `json:"supplier_id"`
		BasketID   string `json:"basket_id"`
		LineID     string `json:"line_id"`
		Merged     bool   `json:"merged"`
	}
	type response struct {
		Dispatched []dispatched  `json:"dispatched"`
		ToQualify  []string      `json:"to_qualify"`
		Errors     []failureView `json:"errors"`
	}
	resp := response{
		Dispatched: make([]dispatched, len(result.Dispatched)),
		ToQualify:  make([]string, len(result.ToQualify)),
		Errors:     make([]failureView, len(result.Errors)),
	}
	for i, d := range result.Dispatched {
		resp.Dispatched[i] = dispatched{RequestID: d.RequestID, SupplierID: d.SupplierID, BasketID: d.BasketID, LineID: d.LineID, Merged: d.Merged}
	}
	for i, pr := range result.ToQualify {
		resp.ToQualify[i] = pr.ID
	}
	for i, e := range result.Errors {
		resp.Errors[i] = failureView{ID: e.RequestID, Error: e.Err.Error()}
	}
	writeJSON(w, resp)
}

// apiConsultSupplier handles POST /api/lines/{lineID}/consultations.
func (h *Handler) apiConsultSupplier(w http.ResponseWriter, r *http.Request) {
	var body consultBody
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := h.svc.ConsultSupplier(r.Context(), app.ConsultSupplierRequest{
		LineID:     chi.URLParam(r, "lineID"),
		SupplierID: body.SupplierID,
	})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSONStatus(w, http.StatusCreated, toLineView(result.Line))
}

// apiFindTwins handles GET /api/purchase-requests/{id}/twins.
func (h *Handler) apiFindTwins(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.FindTwins(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	views := make([]twinView, len(result.Twins))
	for i := range result.Twins {
		t := &result.Twins[i]
		views[i] = twinView{BasketID: t.BasketID, BasketStatus: string(t.BasketStatus), Line: toLineView(&t.Line)}
	}
	writeJSON(w, views)
}
