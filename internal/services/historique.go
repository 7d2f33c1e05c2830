package services

import (
	"github.com/diewo77/go-achats/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EntiteRef référence une entité du domaine dans l'historique.
// Construire via les constructeurs RefDemande/RefBonCommande/... pour ne
// jamais associer un kind au mauvais identifiant.
type EntiteRef struct {
	Kind models.EntiteKind
	ID   uint
}

func RefDemande(id uint) EntiteRef     { return EntiteRef{Kind: models.EntiteDemande, ID: id} }
func RefBonCommande(id uint) EntiteRef { return EntiteRef{Kind: models.EntiteBonCommande, ID: id} }
func RefReception(id uint) EntiteRef   { return EntiteRef{Kind: models.EntiteReception, ID: id} }
func RefBudget(id uint) EntiteRef      { return EntiteRef{Kind: models.EntiteBudget, ID: id} }
func RefBonRetour(id uint) EntiteRef   { return EntiteRef{Kind: models.EntiteBonRetour, ID: id} }
func RefFournisseur(id uint) EntiteRef { return EntiteRef{Kind: models.EntiteFournisseur, ID: id} }
func RefArticle(id uint) EntiteRef     { return EntiteRef{Kind: models.EntiteArticle, ID: id} }

// HistoriqueService écrit le journal d'audit. Un échec d'écriture est
// journalisé puis avalé : il ne doit jamais bloquer la transition primaire.
type HistoriqueService struct {
	log *zap.Logger
}

func NewHistoriqueService(log *zap.Logger) *HistoriqueService {
	return &HistoriqueService{log: log}
}

// Record ajoute une entrée dans la transaction de l'appelant.
func (s *HistoriqueService) Record(tx *gorm.DB, ref EntiteRef, action string, userID *uint, avant, apres, detail string) {
	s.record(tx, ref, action, userID, avant, apres, detail, models.HistoriqueNiveauInfo)
}

// RecordWarning ajoute une entrée de niveau warning (écrêtages du ledger,
// retards de livraison).
func (s *HistoriqueService) RecordWarning(tx *gorm.DB, ref EntiteRef, action string, userID *uint, avant, apres, detail string) {
	s.record(tx, ref, action, userID, avant, apres, detail, models.HistoriqueNiveauWarning)
}

func (s *HistoriqueService) record(tx *gorm.DB, ref EntiteRef, action string, userID *uint, avant, apres, detail, niveau string) {
	entry := models.Historique{
		EntiteKind:  ref.Kind,
		EntiteID:    ref.ID,
		Action:      action,
		UserID:      userID,
		StatutAvant: avant,
		StatutApres: apres,
		Niveau:      niveau,
		Detail:      detail,
	}
	if err := tx.Create(&entry).Error; err != nil {
		s.log.Warn("écriture historique échouée",
			zap.String("entite", string(ref.Kind)),
			zap.Uint("entite_id", ref.ID),
			zap.String("action", action),
			zap.Error(err))
	}
}

// ForEntity rend le journal d'une entité, du plus ancien au plus récent.
func (s *HistoriqueService) ForEntity(db *gorm.DB, ref EntiteRef) ([]models.Historique, error) {
	var entries []models.Historique
	err := db.Where("entite_kind = ? AND entite_id = ?", ref.Kind, ref.ID).
		Order("id asc").Find(&entries).Error
	return entries, err
}
