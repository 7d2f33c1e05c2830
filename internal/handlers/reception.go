package handlers

import (
	"net/http"

	"github.com/diewo77/go-achats/internal/auth"
	"github.com/diewo77/go-achats/internal/httpx"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/validation"
)

// ReceptionHandler expose les réceptions de marchandises en JSON.
type ReceptionHandler struct {
	Svc *services.ReceptionService
}

func NewReceptionHandler(svc *services.ReceptionService) *ReceptionHandler {
	return &ReceptionHandler{Svc: svc}
}

// Create: POST /receptions body {bon_commande_id}
func (h *ReceptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		BonCommandeID uint `json:"bon_commande_id"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	v := validation.Violations{}
	validation.PositiveID("bon_commande_id", req.BonCommandeID, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	rec, err := h.Svc.Create(r.Context(), req.BonCommandeID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

// Get: GET /receptions/get?id=...
func (h *ReceptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rec, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

// RecordLigne: POST /receptions/lignes?id=...
func (h *ReceptionHandler) RecordLigne(w http.ResponseWriter, r *http.Request) {
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
		BonCommandeLigneID uint    `json:"bon_commande_ligne_id"`
		QuantiteRecue      float64 `json:"quantite_recue"`
		QuantiteAcceptee   float64 `json:"quantite_acceptee"`
		QuantiteRefusee    float64 `json:"quantite_refusee"`
		Conforme           bool    `json:"conforme"`
		MotifRefus         string  `json:"motif_refus"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	v := validation.Violations{}
	validation.PositiveID("bon_commande_ligne_id", req.BonCommandeLigneID, v)
	validation.PositiveFloat("quantite_recue", req.QuantiteRecue, v)
	validation.NonNegativeFloat("quantite_acceptee", req.QuantiteAcceptee, v)
	validation.NonNegativeFloat("quantite_refusee", req.QuantiteRefusee, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	rec, err := h.Svc.RecordLigne(r.Context(), id, userID, services.LigneReceptionInput{
		BonCommandeLigneID: req.BonCommandeLigneID,
		QuantiteRecue:      req.QuantiteRecue,
		QuantiteAcceptee:   req.QuantiteAcceptee,
		QuantiteRefusee:    req.QuantiteRefusee,
		Conforme:           req.Conforme,
		MotifRefus:         req.MotifRefus,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

// Validate: POST /receptions/valider?id=...
func (h *ReceptionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rec, err := h.Svc.Validate(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

// Cancel: POST /receptions/annuler?id=... body {motif}
func (h *ReceptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
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
	rec, err := h.Svc.Cancel(r.Context(), id, userID, req.Motif)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}
