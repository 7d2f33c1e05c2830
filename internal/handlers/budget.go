package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/diewo77/go-achats/internal/auth"
	"github.com/diewo77/go-achats/internal/httpx"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/validation"
)

// BudgetHandler expose les enveloppes budgétaires et leurs compteurs en JSON.
// Les mouvements (engage/order/consume/release) ne sont pas exposés : seules
// les machines d'état du workflow déplacent l'argent.
type BudgetHandler struct {
	Svc     *services.BudgetService
	Queries *services.QueryService
}

func NewBudgetHandler(svc *services.BudgetService, queries *services.QueryService) *BudgetHandler {
	return &BudgetHandler{Svc: svc, Queries: queries}
}

// Create: POST /budgets
func (h *BudgetHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		Code           string    `json:"code"`
		Exercice       int       `json:"exercice"`
		Libelle        string    `json:"libelle"`
		MontantInitial float64   `json:"montant_initial"`
		SeuilAlerte1   float64   `json:"seuil_alerte_1"`
		SeuilAlerte2   float64   `json:"seuil_alerte_2"`
		DateDebut      time.Time `json:"date_debut"`
		DateFin        time.Time `json:"date_fin"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	v := validation.Violations{}
	validation.Required("code", req.Code, v)
	validation.PositiveFloat("montant_initial", req.MontantInitial, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	if req.Exercice == 0 {
		req.Exercice = time.Now().Year()
	}
	b, err := h.Svc.CreateBudget(r.Context(), userID, services.CreateBudgetInput{
		Code:           req.Code,
		Exercice:       req.Exercice,
		Libelle:        req.Libelle,
		MontantInitial: req.MontantInitial,
		SeuilAlerte1:   req.SeuilAlerte1,
		SeuilAlerte2:   req.SeuilAlerte2,
		DateDebut:      req.DateDebut,
		DateFin:        req.DateFin,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

// Get: GET /budgets/get?id=... rend l'enveloppe avec disponible et taux calculés
func (h *BudgetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	b, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"budget":            b,
		"disponible":        b.Disponible(),
		"taux_consommation": b.TauxConsommation(),
	})
}

// List: GET /budgets?exercice=...
func (h *BudgetHandler) List(w http.ResponseWriter, r *http.Request) {
	exercice, _ := strconv.Atoi(r.URL.Query().Get("exercice"))
	budgets, err := h.Svc.List(r.Context(), exercice)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": budgets, "total": len(budgets)})
}

// Alerts: GET /budgets/alertes liste les budgets dont un seuil a été notifié
func (h *BudgetHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	budgets, err := h.Queries.BudgetsInAlert(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": budgets, "total": len(budgets)})
}
