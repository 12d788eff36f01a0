package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"windpark-cloud/internal/audit"
	"windpark-cloud/internal/auth"
	"windpark-cloud/internal/observability/metrics"
	"windpark-cloud/internal/settlement/application"
	settlement "windpark-cloud/internal/settlement/domain"
	"windpark-cloud/internal/settlement/interfaces"
)

// Handler serves settlement endpoints.
type Handler struct {
	service     *application.SettlementService
	parkChecker auth.ParkAccessChecker
	auditLogger audit.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *application.SettlementService, parkChecker auth.ParkAccessChecker, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("settlement handler: nil service")
	}
	return &Handler{service: service, parkChecker: parkChecker, auditLogger: auditLogger}, nil
}

// ServeHTTP routes settlement requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/settlements" {
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/v1/settlements/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/settlements/")
	parts := strings.Split(path, "/")
	if len(parts) < 1 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, err := url.PathUnescape(parts[0])
	if err != nil || id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err := h.ensureParkAccess(r, id); err != nil {
		respondParkError(w, err)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, id)
		case http.MethodDelete:
			h.handleDelete(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		switch parts[1] {
		case "calculate":
			h.handleCalculate(w, r, id)
			return
		case "invoices":
			h.handleInvoices(w, r, id)
			return
		case "close":
			h.handleClose(w, r, id)
			return
		}
	}
	if len(parts) == 2 && r.Method == http.MethodGet {
		switch parts[1] {
		case "export.xlsx":
			h.handleExport(w, r, id, "xlsx")
			return
		case "export.pdf":
			h.handleExport(w, r, id, "pdf")
			return
		}
	}

	w.WriteHeader(http.StatusNotFound)
}

type createRequest struct {
	ParkID               string   `json:"park_id"`
	Year                 int      `json:"year"`
	Month                *int     `json:"month"`
	NetRevenueCents      int64    `json:"net_revenue_cents"`
	Mode                 string   `json:"mode"`
	SmoothingFactor      *float64 `json:"smoothing_factor"`
	TolerancePct         *float64 `json:"tolerance_pct"`
	NetOperatorReference string   `json:"net_operator_reference"`
	Notes                string   `json:"notes"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if h.parkChecker != nil {
		scope := auth.ParkScopeFromContext(r.Context())
		if err := h.parkChecker.EnsureParkAccess(r.Context(), scope, req.ParkID); err != nil {
			respondParkError(w, err)
			return
		}
	}
	agg, err := h.service.Create(r.Context(), application.CreateSettlementInput{
		ParkID:               req.ParkID,
		Year:                 req.Year,
		Month:                req.Month,
		NetRevenueCents:      req.NetRevenueCents,
		Mode:                 req.Mode,
		SmoothingFactor:      req.SmoothingFactor,
		TolerancePct:         req.TolerancePct,
		NetOperatorReference: req.NetOperatorReference,
		Notes:                req.Notes,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, agg.ID, agg.ParkID, "settlement.create", map[string]any{
		"period": agg.PeriodLabel(),
		"mode":   string(agg.Mode),
	})
	respondJSON(w, http.StatusCreated, toSettlementView(agg))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	parkID := r.URL.Query().Get("park_id")
	if parkID == "" {
		http.Error(w, "park_id is required", http.StatusBadRequest)
		return
	}
	if h.parkChecker != nil {
		scope := auth.ParkScopeFromContext(r.Context())
		if err := h.parkChecker.EnsureParkAccess(r.Context(), scope, parkID); err != nil {
			respondParkError(w, err)
			return
		}
	}
	list, err := h.service.List(r.Context(), parkID)
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]settlementView, 0, len(list))
	for i := range list {
		views = append(views, toSettlementView(&list[i]))
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	agg, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSettlementView(agg))
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request, id string) {
	output, err := h.service.Calculate(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, id, output.Settlement.ParkID, "settlement.calculate", map[string]any{
		"price_per_kwh": output.PricePerKwh,
		"item_count":    len(output.Settlement.Items),
	})
	respondJSON(w, http.StatusOK, struct {
		Settlement  settlementView `json:"settlement"`
		PricePerKwh float64        `json:"price_per_kwh"`
	}{toSettlementView(output.Settlement), output.PricePerKwh})
}

func (h *Handler) handleInvoices(w http.ResponseWriter, r *http.Request, id string) {
	output, err := h.service.CreateInvoices(r.Context(), id)
	var partial *application.InvoicePartialFailureError
	if err != nil && !errors.As(err, &partial) {
		respondError(w, err)
		return
	}
	if output.Settlement != nil {
		h.logAudit(r, id, output.Settlement.ParkID, "settlement.invoices", map[string]any{
			"created": output.Summary.Created,
			"skipped": output.Summary.Skipped,
			"failed":  output.Summary.Failed,
		})
	}
	view := invoiceRunView{
		Settlement: toSettlementView(output.Settlement),
		Summary:    output.Summary,
	}
	for _, invoice := range output.Invoices {
		view.Invoices = append(view.Invoices, createdInvoiceView{ItemID: invoice.ItemID, InvoiceRef: invoice.InvoiceRef})
	}
	if partial != nil {
		for _, failure := range partial.Failed {
			view.Failures = append(view.Failures, invoiceFailureView{ItemID: failure.ItemID, Error: failure.Err.Error()})
		}
		respondJSON(w, http.StatusBadGateway, view)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request, id string) {
	agg, err := h.service.Close(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, id, agg.ParkID, "settlement.close", nil)
	respondJSON(w, http.StatusOK, toSettlementView(agg))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, id, parkIDFromSettlementID(id), "settlement.delete", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, id, format string) {
	start := time.Now()
	agg, err := h.service.Get(r.Context(), id)
	if err != nil {
		metrics.ObserveSettlementExport(format, metrics.ResultError, time.Since(start))
		respondError(w, err)
		return
	}

	var payload []byte
	var contentType string
	switch format {
	case "xlsx":
		payload, err = interfaces.BuildSettlementXLSX(agg)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		payload, err = interfaces.BuildSettlementPDF(agg)
		contentType = "application/pdf"
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.ObserveSettlementExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveSettlementExport(format, metrics.ResultSuccess, time.Since(start))

	filename := "settlement-" + agg.ParkID + "-" + agg.PeriodLabel() + "." + format
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

func (h *Handler) ensureParkAccess(r *http.Request, settlementID string) error {
	if h.parkChecker == nil {
		return nil
	}
	parkID := parkIDFromSettlementID(settlementID)
	if parkID == "" {
		return nil
	}
	scope := auth.ParkScopeFromContext(r.Context())
	return h.parkChecker.EnsureParkAccess(r.Context(), scope, parkID)
}

func parkIDFromSettlementID(id string) string {
	if idx := strings.LastIndex(id, "|"); idx > 0 {
		return id[:idx]
	}
	return ""
}

func (h *Handler) logAudit(r *http.Request, settlementID, parkID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "settlement",
		ResourceID:   settlementID,
		ParkID:       parkID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

type settlementView struct {
	ID                   string     `json:"id"`
	ParkID               string     `json:"park_id"`
	Year                 int        `json:"year"`
	Month                *int       `json:"month,omitempty"`
	Period               string     `json:"period"`
	TotalProductionKwh   float64    `json:"total_production_kwh"`
	NetRevenueCents      int64      `json:"net_revenue_cents"`
	Mode                 string     `json:"mode"`
	SmoothingFactor      *float64   `json:"smoothing_factor,omitempty"`
	TolerancePct         *float64   `json:"tolerance_pct,omitempty"`
	Status               string     `json:"status"`
	NetOperatorReference string     `json:"net_operator_reference,omitempty"`
	Notes                string     `json:"notes,omitempty"`
	Version              int        `json:"version"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	Items                []itemView `json:"items"`
}

type itemView struct {
	ID                 string  `json:"id"`
	RecipientEntityID  string  `json:"recipient_entity_id"`
	TurbineID          string  `json:"turbine_id,omitempty"`
	ProductionShareKwh float64 `json:"production_share_kwh"`
	ProductionSharePct float64 `json:"production_share_pct"`
	RevenueShareCents  int64   `json:"revenue_share_cents"`
	DistributionKey    string  `json:"distribution_key"`
	InvoiceRef         string  `json:"invoice_ref,omitempty"`
}

type invoiceRunView struct {
	Settlement settlementView                `json:"settlement"`
	Invoices   []createdInvoiceView          `json:"invoices,omitempty"`
	Failures   []invoiceFailureView          `json:"failures,omitempty"`
	Summary    application.InvoiceRunSummary `json:"summary"`
}

type createdInvoiceView struct {
	ItemID     string `json:"item_id"`
	InvoiceRef string `json:"invoice_ref"`
}

type invoiceFailureView struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

func toSettlementView(agg *settlement.Settlement) settlementView {
	if agg == nil {
		return settlementView{}
	}
	view := settlementView{
		ID:                   agg.ID,
		ParkID:               agg.ParkID,
		Year:                 agg.Year,
		Month:                agg.Month,
		Period:               agg.PeriodLabel(),
		TotalProductionKwh:   agg.TotalProductionKwh,
		NetRevenueCents:      agg.NetRevenueCents,
		Mode:                 string(agg.Mode),
		SmoothingFactor:      agg.SmoothingFactor,
		TolerancePct:         agg.TolerancePct,
		Status:               agg.Status,
		NetOperatorReference: agg.NetOperatorReference,
		Notes:                agg.Notes,
		Version:              agg.Version,
		CreatedAt:            agg.CreatedAt,
		UpdatedAt:            agg.UpdatedAt,
	}
	for _, item := range agg.Items {
		view.Items = append(view.Items, itemView{
			ID:                 item.ID,
			RecipientEntityID:  item.RecipientEntityID,
			TurbineID:          item.TurbineID,
			ProductionShareKwh: item.ProductionShareKwh,
			ProductionSharePct: item.ProductionSharePct,
			RevenueShareCents:  item.RevenueShareCents,
			DistributionKey:    item.DistributionKey,
			InvoiceRef:         item.InvoiceRef,
		})
	}
	return view
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settlement.ErrSettlementNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, settlement.ErrConcurrentModification):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, settlement.ErrIllegalState), errors.Is(err, settlement.ErrAlreadyInvoiced):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, settlement.ErrInvalidParameter),
		errors.Is(err, settlement.ErrEmptyParkID),
		errors.Is(err, settlement.ErrEmptyInput),
		errors.Is(err, settlement.ErrZeroProduction),
		errors.Is(err, settlement.ErrNilSettlement):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondParkError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrParkMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "park not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
