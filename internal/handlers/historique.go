package handlers

import (
	"net/http"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/diewo77/go-achats/internal/httpx"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/services"
)

// HistoriqueHandler expose le journal d'audit et les ventilations par statut.
type HistoriqueHandler struct {
	DB      *gorm.DB
	Svc     *services.HistoriqueService
	Queries *services.QueryService
}

func NewHistoriqueHandler(db *gorm.DB, svc *services.HistoriqueService, queries *services.QueryService) *HistoriqueHandler {
	return &HistoriqueHandler{DB: db, Svc: svc, Queries: queries}
}

var entiteRefs = map[string]func(uint) services.EntiteRef{
	string(models.EntiteDemande):     services.RefDemande,
	string(models.EntiteBonCommande): services.RefBonCommande,
	string(models.EntiteReception):   services.RefReception,
	string(models.EntiteBudget):      services.RefBudget,
	string(models.EntiteBonRetour):   services.RefBonRetour,
	string(models.EntiteFournisseur): services.RefFournisseur,
	string(models.EntiteArticle):     services.RefArticle,
}

// ForEntity: GET /historique?entite=demande&id=...
func (h *HistoriqueHandler) ForEntity(w http.ResponseWriter, r *http.Request) {
	ref, ok := entiteRefs[r.URL.Query().Get("entite")]
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_entite", nil)
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	entries, err := h.Svc.ForEntity(h.DB.WithContext(r.Context()), ref(id))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries, "total": len(entries)})
}

// Stats: GET /stats?exercice=... ventile les demandes et commandes par statut
func (h *HistoriqueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	exercice, _ := strconv.Atoi(r.URL.Query().Get("exercice"))
	if exercice == 0 {
		exercice = time.Now().Year()
	}
	demandes, err := h.Queries.DemandeStats(r.Context(), exercice)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	commandes, err := h.Queries.CommandeStats(r.Context(), exercice)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"exercice":  exercice,
		"demandes":  demandes,
		"commandes": commandes,
	})
}
