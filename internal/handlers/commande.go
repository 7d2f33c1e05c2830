package handlers

import (
	"net/http"
	"time"

	"github.com/diewo77/go-achats/internal/auth"
	"github.com/diewo77/go-achats/internal/httpx"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/validation"
)

// CommandeHandler expose la machine d'état des bons de commande en JSON.
type CommandeHandler struct {
	Svc   *services.CommandeService
	Store services.ArtifactStore
}

func NewCommandeHandler(svc *services.CommandeService, store services.ArtifactStore) *CommandeHandler {
	return &CommandeHandler{Svc: svc, Store: store}
}

// Create: POST /commandes
func (h *CommandeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		DemandeID              *uint      `json:"demande_id"`
		FournisseurID          uint       `json:"fournisseur_id"`
		AcheteurID             uint       `json:"acheteur_id"`
		DateLivraisonSouhaitee *time.Time `json:"date_livraison_souhaitee"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	if req.AcheteurID == 0 {
		req.AcheteurID = userID
	}
	v := validation.Violations{}
	validation.PositiveID("fournisseur_id", req.FournisseurID, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	bc, err := h.Svc.Create(r.Context(), userID, services.CreateCommandeInput{
		DemandeID:              req.DemandeID,
		FournisseurID:          req.FournisseurID,
		AcheteurID:             req.AcheteurID,
		DateLivraisonSouhaitee: req.DateLivraisonSouhaitee,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bc)
}

// Get: GET /commandes/get?id=...
func (h *CommandeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	bc, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bc)
}

// AddLigne: POST /commandes/lignes?id=...
func (h *CommandeHandler) AddLigne(w http.ResponseWriter, r *http.Request) {
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
	bc, err := h.Svc.AddLigne(r.Context(), id, userID, services.LigneCommandeInput{
		ArticleID:    req.ArticleID,
		Quantite:     req.Quantite,
		PrixUnitaire: req.PrixUnitaire,
		TauxTVA:      req.TauxTVA,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bc)
}

// Emit: POST /commandes/emettre?id=...
func (h *CommandeHandler) Emit(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	bc, err := h.Svc.Emit(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bc)
}

// Send: POST /commandes/envoyer?id=... body {email?}
func (h *CommandeHandler) Send(w http.ResponseWriter, r *http.Request) {
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
		Email string `json:"email"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	bc, err := h.Svc.SendToSupplier(r.Context(), id, userID, req.Email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bc)
}

// Confirm: POST /commandes/confirmer?id=... body {numero_confirmation, date_livraison_confirmee}
func (h *CommandeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
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
		NumeroConfirmation     string    `json:"numero_confirmation"`
		DateLivraisonConfirmee time.Time `json:"date_livraison_confirmee"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	v := validation.Violations{}
	validation.Required("numero_confirmation", req.NumeroConfirmation, v)
	if req.DateLivraisonConfirmee.IsZero() {
		v["date_livraison_confirmee"] = "required"
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	bc, err := h.Svc.ConfirmBySupplier(r.Context(), id, userID, req.NumeroConfirmation, req.DateLivraisonConfirmee)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bc)
}

// Cancel: POST /commandes/annuler?id=... body {motif}
func (h *CommandeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
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
	bc, err := h.Svc.Cancel(r.Context(), id, userID, req.Motif)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bc)
}

// Document: GET /commandes/document?id=... renvoie l'artefact PDF émis
func (h *CommandeHandler) Document(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	bc, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if bc.DocumentRef == "" {
		httpx.JSONError(w, http.StatusNotFound, "document_not_generated", nil)
		return
	}
	data, err := h.Store.Get(bc.DocumentRef)
	if err != nil {
		httpx.JSONError(w, http.StatusNotFound, "document_not_found", nil)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+bc.DocumentRef+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
