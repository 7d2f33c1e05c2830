package services

import (
	"context"

	"github.com/diewo77/go-achats/internal/models"
	"gorm.io/gorm"
)

// QueryService porte les lectures consommées par les tableaux de bord :
// aucune mutation, aucun verrou.
type QueryService struct {
	db *gorm.DB
}

func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{db: db}
}

// PendingForValidator liste les demandes en attente de l'action du
// validateur : soumises dont il est N1, validées N1 dont il est N2.
func (s *QueryService) PendingForValidator(ctx context.Context, validateurID uint) ([]models.Demande, error) {
	var demandes []models.Demande
	err := s.db.WithContext(ctx).
		Where("(statut = ? AND validateur_n1_id = ?) OR (statut = ? AND validateur_n2_id = ?)",
			models.DemandeStatutSoumise, validateurID, models.DemandeStatutValideeN1, validateurID).
		Order("date_soumission asc").
		Preload("Lignes").
		Find(&demandes).Error
	return demandes, err
}

// BudgetsInAlert liste les budgets dont au moins un seuil a été notifié.
func (s *QueryService) BudgetsInAlert(ctx context.Context) ([]models.Budget, error) {
	var budgets []models.Budget
	err := s.db.WithContext(ctx).
		Where("alerte1_envoyee = ? OR alerte2_envoyee = ?", true, true).
		Order("code asc").
		Find(&budgets).Error
	return budgets, err
}

// StatutCount est une ligne de ventilation par statut.
type StatutCount struct {
	Statut string
	Nombre int64
	Total  float64
}

// DemandeStats ventile les demandes d'un exercice par statut (nombre, total TTC).
func (s *QueryService) DemandeStats(ctx context.Context, exercice int) ([]StatutCount, error) {
	var stats []StatutCount
	err := s.db.WithContext(ctx).Model(&models.Demande{}).
		Select("statut, COUNT(*) AS nombre, COALESCE(SUM(total_ttc), 0) AS total").
		Where("exercice = ?", exercice).
		Group("statut").
		Order("statut").
		Scan(&stats).Error
	return stats, err
}

// CommandeStats ventile les bons de commande d'un exercice par statut.
func (s *QueryService) CommandeStats(ctx context.Context, exercice int) ([]StatutCount, error) {
	var stats []StatutCount
	err := s.db.WithContext(ctx).Model(&models.BonCommande{}).
		Select("statut, COUNT(*) AS nombre, COALESCE(SUM(total_ttc), 0) AS total").
		Where("exercice = ?", exercice).
		Group("statut").
		Order("statut").
		Scan(&stats).Error
	return stats, err
}
