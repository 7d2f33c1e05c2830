package handlers

import (
	"net/http"

	"github.com/diewo77/go-achats/internal/httpx"
	"github.com/diewo77/go-achats/internal/services"
	"github.com/diewo77/go-achats/internal/validation"
)

// ReferentielHandler expose le catalogue articles et l'annuaire fournisseurs.
type ReferentielHandler struct {
	Svc *services.ReferentielService
}

func NewReferentielHandler(svc *services.ReferentielService) *ReferentielHandler {
	return &ReferentielHandler{Svc: svc}
}

// CreateArticle: POST /articles
func (h *ReferentielHandler) CreateArticle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference    string  `json:"reference"`
		Designation  string  `json:"designation"`
		PrixUnitaire float64 `json:"prix_unitaire"`
		TauxTVA      float64 `json:"taux_tva"`
		Unite        string  `json:"unite"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	v := validation.Violations{}
	validation.Required("reference", req.Reference, v)
	validation.Required("designation", req.Designation, v)
	validation.NonNegativeFloat("prix_unitaire", req.PrixUnitaire, v)
	validation.NonNegativeFloat("taux_tva", req.TauxTVA, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	a, err := h.Svc.CreateArticle(r.Context(), services.ArticleInput{
		Reference:    req.Reference,
		Designation:  req.Designation,
		PrixUnitaire: req.PrixUnitaire,
		TauxTVA:      req.TauxTVA,
		Unite:        req.Unite,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

// UpdateArticlePrix: POST /articles/prix?id=... body {prix_unitaire, taux_tva}
func (h *ReferentielHandler) UpdateArticlePrix(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		PrixUnitaire float64 `json:"prix_unitaire"`
		TauxTVA      float64 `json:"taux_tva"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	a, err := h.Svc.UpdateArticlePrix(r.Context(), id, req.PrixUnitaire, req.TauxTVA)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

// ListArticles: GET /articles
func (h *ReferentielHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := h.Svc.ListArticles(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": articles, "total": len(articles)})
}

// CreateFournisseur: POST /fournisseurs
func (h *ReferentielHandler) CreateFournisseur(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string `json:"code"`
		Nom       string `json:"nom"`
		Email     string `json:"email"`
		Telephone string `json:"telephone"`
		Adresse   string `json:"adresse"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	v := validation.Violations{}
	validation.Required("code", req.Code, v)
	validation.Required("nom", req.Nom, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}
	f, err := h.Svc.CreateFournisseur(r.Context(), services.FournisseurInput{
		Code:      req.Code,
		Nom:       req.Nom,
		Email:     req.Email,
		Telephone: req.Telephone,
		Adresse:   req.Adresse,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, f)
}

// SetFournisseurActif: POST /fournisseurs/actif?id=... body {actif}
func (h *ReferentielHandler) SetFournisseurActif(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Actif bool `json:"actif"`
	}
	if !httpx.Decode(w, r, &req) {
		return
	}
	f, err := h.Svc.SetFournisseurActif(r.Context(), id, req.Actif)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

// ListFournisseurs: GET /fournisseurs?actifs=1
func (h *ReferentielHandler) ListFournisseurs(w http.ResponseWriter, r *http.Request) {
	actifs := r.URL.Query().Get("actifs") == "1"
	fournisseurs, err := h.Svc.ListFournisseurs(r.Context(), actifs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": fournisseurs, "total": len(fournisseurs)})
}
