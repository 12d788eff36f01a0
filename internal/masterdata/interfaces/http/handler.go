package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"windpark-cloud/internal/auth"
	masterdata "windpark-cloud/internal/masterdata/domain"
	masterdatarepo "windpark-cloud/internal/masterdata/infrastructure/postgres"
)

// Handler serves park masterdata endpoints.
type Handler struct {
	parks    *masterdatarepo.ParkRepository
	turbines *masterdatarepo.TurbineRepository
}

// NewHandler constructs a Handler.
func NewHandler(parks *masterdatarepo.ParkRepository, turbines *masterdatarepo.TurbineRepository) (*Handler, error) {
	if parks == nil || turbines == nil {
		return nil, errors.New("masterdata handler: nil repository")
	}
	return &Handler{parks: parks, turbines: turbines}, nil
}

// ServeHTTP routes park requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/parks" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleSavePark(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/v1/parks/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/parks/")
	parts := strings.Split(path, "/")
	if len(parts) < 1 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parkID := parts[0]

	if scope := auth.ParkScopeFromContext(r.Context()); scope != "" && scope != parkID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		h.handleGet(w, r, parkID)
		return
	}
	if len(parts) == 2 && parts[1] == "turbines" {
		switch r.Method {
		case http.MethodGet:
			h.handleListTurbines(w, r, parkID)
		case http.MethodPost:
			h.handleSaveTurbine(w, r, parkID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	parks, err := h.parks.List(r.Context())
	if err != nil {
		http.Error(w, "query parks error", http.StatusInternalServerError)
		return
	}
	if scope := auth.ParkScopeFromContext(r.Context()); scope != "" {
		filtered := parks[:0]
		for _, park := range parks {
			if park.ID == scope {
				filtered = append(filtered, park)
			}
		}
		parks = filtered
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(parks)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, parkID string) {
	park, err := h.parks.Get(r.Context(), parkID)
	if err != nil {
		http.Error(w, "query park error", http.StatusInternalServerError)
		return
	}
	if park == nil {
		http.Error(w, "park not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(park)
}

func (h *Handler) handleSavePark(w http.ResponseWriter, r *http.Request) {
	var park masterdata.Park
	if err := json.NewDecoder(r.Body).Decode(&park); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := park.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if park.CreatedAt.IsZero() {
		park.CreatedAt = time.Now().UTC()
	}
	if err := h.parks.Save(r.Context(), park); err != nil {
		http.Error(w, "save park error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(park)
}

func (h *Handler) handleListTurbines(w http.ResponseWriter, r *http.Request, parkID string) {
	turbines, err := h.turbines.ListByPark(r.Context(), parkID)
	if err != nil {
		http.Error(w, "query turbines error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(turbines)
}

func (h *Handler) handleSaveTurbine(w http.ResponseWriter, r *http.Request, parkID string) {
	var turbine masterdata.Turbine
	if err := json.NewDecoder(r.Body).Decode(&turbine); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	turbine.ParkID = parkID
	if err := turbine.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.turbines.Save(r.Context(), turbine); err != nil {
		http.Error(w, "save turbine error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(turbine)
}
