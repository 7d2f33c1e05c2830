package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/diewo77/go-achats/internal/auth"
	"github.com/diewo77/go-achats/internal/httpx"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/validation"
)

// DemandeHandler expose la machine d'état des demandes d'achat en JSON.
type DemandeHandler struct {
	Svc     *services.DemandeService
	Queries *services.QueryService
}

func NewDemandeHandler(svc *services.DemandeService, queries *services.QueryService) *DemandeHandler {
	return &DemandeHandler{Svc: svc, Queries: queries}
}

// Create: POST /demandes
func (h *DemandeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		BudgetID *uint `json:"budget_id"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	d, err := h.Svc.Create(r.Context(), userID, req.BudgetID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

// Get: GET /demandes/get?id=...
func (h *DemandeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	d, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

// AddLigne: POST /demandes/lignes?id=...
func (h *DemandeHandler) AddLigne(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		ArticleID    uint     `json:"article_id"`
		Quantite     float64  `json:"quantite"`
		PrixUnitaire *float64 `json:"prix_unitaire"`
		TauxTVA      *float64 `json:"taux_tva"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	v := validation.Violations{}
	validation.PositiveID("article_id", req.ArticleID, v)
	validation.PositiveFloat("quantite", req.Quantite, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	d, err := h.Svc.AddLigne(r.Context(), id, userID, services.LigneDemandeInput{
		ArticleID:    req.ArticleID,
		Quantite:     req.Quantite,
		PrixUnitaire: req.PrixUnitaire,
		TauxTVA:      req.TauxTVA,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

// RemoveLigne: POST /demandes/lignes/supprimer?id=...&ligne=...
func (h *DemandeHandler) RemoveLigne(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	ligneID, err := strconv.Atoi(r.URL.Query().Get("ligne"))
	if err != nil || ligneID <= 0 {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_ligne", nil)
		return
	}
	d, svcErr := h.Svc.RemoveLigne(r.Context(), id, uint(ligneID), userID)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

// Submit: POST /demandes/soumettre?id=...
func (h *DemandeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Svc.Submit)
}

// ValidateN1: POST /demandes/valider-n1?id=...
func (h *DemandeHandler) ValidateN1(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Svc.ValidateN1)
}

// ValidateN2: POST /demandes/valider-n2?id=...
func (h *DemandeHandler) ValidateN2(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Svc.ValidateN2)
}

// ValidateN2AsAdmin: POST /demandes/valider-n2-admin?id=...
func (h *DemandeHandler) ValidateN2AsAdmin(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Svc.ValidateN2AsAdmin)
}

// Refuse: POST /demandes/refuser?id=... body {motif}
func (h *DemandeHandler) Refuse(w http.ResponseWriter, r *http.Request) {
	h.transitionMotif(w, r, h.Svc.Refuse)
}

// Cancel: POST /demandes/annuler?id=... body {motif}
func (h *DemandeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transitionMotif(w, r, h.Svc.Cancel)
}

// Pending: GET /demandes/en-attente, demandes en attente du validateur connecté
func (h *DemandeHandler) Pending(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	demandes, err := h.Queries.PendingForValidator(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": demandes, "total": len(demandes)})
}

func (h *DemandeHandler) transition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id, userID uint) (*models.Demande, error)) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	d, err := fn(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *DemandeHandler) transitionMotif(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id, userID uint, motif string) (*models.Demande, error)) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Motif string `json:"motif"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	d, err := fn(r.Context(), id, userID, req.Motif)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

// idParam lit et valide le paramètre id commun à toutes les routes document.
func idParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.Atoi(r.URL.Query().Get("id"))
	if err != nil || id <= 0 {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return 0, false
	}
	return uint(id), true
}
