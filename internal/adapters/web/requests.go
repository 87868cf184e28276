package web

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

// Request bodies accepted by the API. Their JSON Schemas are published under
// /api/schemas/{name} for integrators.

type changeStatusBody struct {
	Status string `json:"status" jsonschema:"enum=SENT,enum=ACK,enum=RECEIVED,enum=CLOSED,enum=CANCELLED" jsonschema_description:"Target basket status. Case-insensitive."`
}

type selectionBody struct {
	Selected *bool `json:"selected" jsonschema:"required" jsonschema_description:"True to select the line, false to deselect it"`
}

type quoteBody struct {
	Price        decimal.Decimal `json:"price" jsonschema:"type=string" jsonschema_description:"Quoted unit price as a decimal string, never negative"`
	LeadTimeDays *int            `json:"lead_time_days,omitempty" jsonschema_description:"Supplier lead time in days"`
}

type dispatchBody struct {
	RequestIDs []string `json:"request_ids,omitempty" jsonschema_description:"Purchase requests to dispatch. Omit to dispatch every open request."`
}

type consultBody struct {
	SupplierID string `json:"supplier_id" jsonschema_description:"Supplier to open a parallel consultation with"`
}

var requestSchemas = map[string]any{
	"change-status": changeStatusBody{},
	"selection":     selectionBody{},
	"quote":         quoteBody{},
	"dispatch":      dispatchBody{},
	"consultation":  consultBody{},
}

func reflectSchema(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// apiListSchemas handles GET /api/schemas.
func (h *Handler) apiListSchemas(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(requestSchemas))
	for name := range requestSchemas {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, names)
}

// apiGetSchema handles GET /api/schemas/{name}.
func (h *Handler) apiGetSchema(w http.ResponseWriter, r *http.Request) {
	v, ok := requestSchemas[chi.URLParam(r, "name")]
	if !ok {
		writeError(w, r, "unknown schema", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, reflectSchema(v))
}
