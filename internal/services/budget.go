package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-achats/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BudgetService est le ledger monétaire : le seul code autorisé à muter les
// quatre compteurs d'une enveloppe budgétaire. Chaque opération s'exécute
// sous verrou de ligne (FOR UPDATE) pour sérialiser les accès concurrents à
// la même enveloppe; les machines d'état appellent les variantes *Tx depuis
// leur propre transaction afin que changement d'état et mouvement budgétaire
// soient commis ensemble.
type BudgetService struct {
	db       *gorm.DB
	log      *zap.Logger
	hist     *HistoriqueService
	notifier Notificateur
}

func NewBudgetService(db *gorm.DB, log *zap.Logger, hist *HistoriqueService, notifier Notificateur) *BudgetService {
	return &BudgetService{db: db, log: log, hist: hist, notifier: notifier}
}

// CreateBudgetInput décrit l'enveloppe à ouvrir pour un exercice.
type CreateBudgetInput struct {
	Code           string
	Exercice       int
	Libelle        string
	MontantInitial float64
	SeuilAlerte1   float64
	SeuilAlerte2   float64
	DateDebut      time.Time
	DateFin        time.Time
}

// CreateBudget ouvre une enveloppe; le couple (code, exercice) est unique.
func (s *BudgetService) CreateBudget(ctx context.Context, userID uint, in CreateBudgetInput) (*models.Budget, error) {
	if in.Code == "" {
		return nil, fmt.Errorf("%w: code requis", ErrValidation)
	}
	if in.MontantInitial <= 0 {
		return nil, fmt.Errorf("%w: montant initial doit être positif", ErrValidation)
	}
	if in.SeuilAlerte1 < 0 || in.SeuilAlerte2 < 0 || in.SeuilAlerte1 > 100 || in.SeuilAlerte2 > 100 {
		return nil, fmt.Errorf("%w: seuils d'alerte entre 0 et 100", ErrValidation)
	}
	if !in.DateFin.IsZero() && !in.DateDebut.IsZero() && in.DateFin.Before(in.DateDebut) {
		return nil, fmt.Errorf("%w: date de fin antérieure à la date de début", ErrValidation)
	}
	b := models.Budget{
		Code:           in.Code,
		Exercice:       in.Exercice,
		Libelle:        in.Libelle,
		MontantInitial: in.MontantInitial,
		SeuilAlerte1:   in.SeuilAlerte1,
		SeuilAlerte2:   in.SeuilAlerte2,
		DateDebut:      in.DateDebut,
		DateFin:        in.DateFin,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Budget
		if err := tx.Where("code = ? AND exercice = ?", in.Code, in.Exercice).First(&existing).Error; err == nil {
			return fmt.Errorf("%w: budget %s déjà ouvert pour l'exercice %d", ErrValidation, in.Code, in.Exercice)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(&b).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefBudget(b.ID), "create", &userID, "", "",
			fmt.Sprintf("ouverture du budget %s/%d, montant initial %.2f", b.Code, b.Exercice, b.MontantInitial))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Get recharge une enveloppe.
func (s *BudgetService) Get(ctx context.Context, budgetID uint) (*models.Budget, error) {
	var b models.Budget
	if err := s.db.WithContext(ctx).First(&b, budgetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: budget %d introuvable", ErrValidation, budgetID)
		}
		return nil, err
	}
	return &b, nil
}

// List retourne les enveloppes d'un exercice (tout l'historique si exercice == 0).
func (s *BudgetService) List(ctx context.Context, exercice int) ([]models.Budget, error) {
	q := s.db.WithContext(ctx).Order("exercice desc, code asc")
	if exercice != 0 {
		q = q.Where("exercice = ?", exercice)
	}
	var budgets []models.Budget
	err := q.Find(&budgets).Error
	return budgets, err
}

// VerifyAvailability échoue avec ErrInsufficientBudget sans rien modifier.
// Utilisée par la soumission/validation de demande pour échouer tôt avant un
// véritable Engage.
func (s *BudgetService) VerifyAvailability(ctx context.Context, budgetID uint, montant float64) error {
	if montant <= 0 {
		return fmt.Errorf("%w: montant doit être positif", ErrValidation)
	}
	var b models.Budget
	if err := s.db.WithContext(ctx).First(&b, budgetID).Error; err != nil {
		return err
	}
	if montant > b.Disponible() {
		return fmt.Errorf("%w: disponible %.2f, demandé %.2f sur budget %s", ErrInsufficientBudget, b.Disponible(), montant, b.Code)
	}
	return nil
}

// Engage réserve le montant sur l'enveloppe (approbation N2 d'une demande).
func (s *BudgetService) Engage(ctx context.Context, budgetID uint, montant float64, reference string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.EngageTx(tx, budgetID, montant, reference)
	})
}

// Order bascule un montant d'engagé vers commandé (émission d'un bon de commande).
func (s *BudgetService) Order(ctx context.Context, budgetID uint, montant float64, reference string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.OrderTx(tx, budgetID, montant, reference)
	})
}

// Consume bascule un montant de commandé vers consommé (validation de réception).
func (s *BudgetService) Consume(ctx context.Context, budgetID uint, montant float64, reference string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.ConsumeTx(tx, budgetID, montant, reference)
	})
}

// Release rend au disponible un montant engagé ou commandé (annulation/refus).
func (s *BudgetService) Release(ctx context.Context, budgetID uint, montant float64, reference string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.ReleaseTx(tx, budgetID, montant, reference)
	})
}

// EngageTx : échoue avec ErrInsufficientBudget si montant > disponible.
func (s *BudgetService) EngageTx(tx *gorm.DB, budgetID uint, montant float64, reference string) error {
	b, err := s.lock(tx, budgetID, montant)
	if err != nil {
		return err
	}
	if montant > b.Disponible() {
		return fmt.Errorf("%w: disponible %.2f, demandé %.2f sur budget %s", ErrInsufficientBudget, b.Disponible(), montant, b.Code)
	}
	b.MontantEngage += montant
	s.hist.Record(tx, RefBudget(b.ID), "engage", nil, "", "", fmt.Sprintf("engagement de %.2f (%s)", montant, reference))
	return s.commit(tx, b)
}

// OrderTx : si l'engagé a dérivé sous le montant commandé (engagements
// partiels répartis sur plusieurs commandes), l'engagé est ramené à zéro et
// le commandé crédité du montant complet, avec une entrée d'historique de
// niveau warning.
func (s *BudgetService) OrderTx(tx *gorm.DB, budgetID uint, montant float64, reference string) error {
	b, err := s.lock(tx, budgetID, montant)
	if err != nil {
		return err
	}
	if b.MontantEngage < montant {
		s.log.Warn("engagé insuffisant lors du passage en commandé, écrêtage à zéro",
			zap.String("budget", b.Code), zap.Float64("engage", b.MontantEngage), zap.Float64("montant", montant))
		s.hist.RecordWarning(tx, RefBudget(b.ID), "order", nil, "", "",
			fmt.Sprintf("engagé %.2f < commandé %.2f (%s), engagé écrêté à zéro", b.MontantEngage, montant, reference))
		b.MontantEngage = 0
	} else {
		b.MontantEngage -= montant
		s.hist.Record(tx, RefBudget(b.ID), "order", nil, "", "", fmt.Sprintf("passage en commandé de %.2f (%s)", montant, reference))
	}
	b.MontantCommande += montant
	return s.commit(tx, b)
}

// ConsumeTx : même politique d'écrêtage que OrderTx, de commandé vers consommé.
func (s *BudgetService) ConsumeTx(tx *gorm.DB, budgetID uint, montant float64, reference string) error {
	b, err := s.lock(tx, budgetID, montant)
	if err != nil {
		return err
	}
	if b.MontantCommande < montant {
		s.log.Warn("commandé insuffisant lors de la consommation, écrêtage à zéro",
			zap.String("budget", b.Code), zap.Float64("commande", b.MontantCommande), zap.Float64("montant", montant))
		s.hist.RecordWarning(tx, RefBudget(b.ID), "consume", nil, "", "",
			fmt.Sprintf("commandé %.2f < consommé %.2f (%s), commandé écrêté à zéro", b.MontantCommande, montant, reference))
		b.MontantCommande = 0
	} else {
		b.MontantCommande -= montant
		s.hist.Record(tx, RefBudget(b.ID), "consume", nil, "", "", fmt.Sprintf("consommation de %.2f (%s)", montant, reference))
	}
	b.MontantConsomme += montant
	return s.commit(tx, b)
}

// ReleaseTx débite d'abord le commandé, puis l'engagé, chacun écrêté à zéro.
func (s *BudgetService) ReleaseTx(tx *gorm.DB, budgetID uint, montant float64, reference string) error {
	b, err := s.lock(tx, budgetID, montant)
	if err != nil {
		return err
	}
	reste := montant
	if prise := min(reste, b.MontantCommande); prise > 0 {
		b.MontantCommande -= prise
		reste -= prise
	}
	if prise := min(reste, b.MontantEngage); prise > 0 {
		b.MontantEngage -= prise
		reste -= prise
	}
	if reste > 0 {
		s.log.Warn("libération supérieure aux montants retenus",
			zap.String("budget", b.Code), zap.Float64("montant", montant), zap.Float64("non_couvert", reste))
		s.hist.RecordWarning(tx, RefBudget(b.ID), "release", nil, "", "",
			fmt.Sprintf("libération de %.2f partiellement couverte, %.2f non retenu (%s)", montant, reste, reference))
	} else {
		s.hist.Record(tx, RefBudget(b.ID), "release", nil, "", "", fmt.Sprintf("libération de %.2f (%s)", montant, reference))
	}
	return s.commit(tx, b)
}

// ReleaseConsumedTx annule une consommation : le montant repasse de consommé
// vers commandé (annulation d'une réception validée). Le consommé est écrêté
// à zéro, jamais négatif.
func (s *BudgetService) ReleaseConsumedTx(tx *gorm.DB, budgetID uint, montant float64, reference string) error {
	b, err := s.lock(tx, budgetID, montant)
	if err != nil {
		return err
	}
	if b.MontantConsomme < montant {
		s.hist.RecordWarning(tx, RefBudget(b.ID), "release_consumed", nil, "", "",
			fmt.Sprintf("consommé %.2f < annulation %.2f (%s), consommé écrêté à zéro", b.MontantConsomme, montant, reference))
		b.MontantCommande += b.MontantConsomme
		b.MontantConsomme = 0
	} else {
		b.MontantConsomme -= montant
		b.MontantCommande += montant
		s.hist.Record(tx, RefBudget(b.ID), "release_consumed", nil, "", "", fmt.Sprintf("annulation de consommation de %.2f (%s)", montant, reference))
	}
	return s.commit(tx, b)
}

func (s *BudgetService) lock(tx *gorm.DB, budgetID uint, montant float64) (*models.Budget, error) {
	if montant <= 0 {
		return nil, fmt.Errorf("%w: montant doit être positif", ErrValidation)
	}
	var b models.Budget
	if err := forUpdate(tx).First(&b, budgetID).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// commit évalue les seuils d'alerte puis persiste l'enveloppe, encore sous verrou.
func (s *BudgetService) commit(tx *gorm.DB, b *models.Budget) error {
	s.evalueSeuils(tx, b)
	return tx.Save(b).Error
}

// evalueSeuils est idempotent : un seuil déjà notifié ne l'est jamais deux
// fois, les drapeaux ne sont jamais réarmés automatiquement.
func (s *BudgetService) evalueSeuils(tx *gorm.DB, b *models.Budget) {
	taux := b.TauxConsommation()
	if b.SeuilAlerte1 > 0 && taux >= b.SeuilAlerte1 && !b.Alerte1Envoyee {
		b.Alerte1Envoyee = true
		s.emetAlerte(tx, b, b.SeuilAlerte1, taux, false)
	}
	if b.SeuilAlerte2 > 0 && taux >= b.SeuilAlerte2 && !b.Alerte2Envoyee {
		b.Alerte2Envoyee = true
		s.emetAlerte(tx, b, b.SeuilAlerte2, taux, true)
	}
}

func (s *BudgetService) emetAlerte(tx *gorm.DB, b *models.Budget, seuil, taux float64, critique bool) {
	s.log.Warn("seuil d'alerte budgétaire franchi",
		zap.String("budget", b.Code), zap.Float64("seuil", seuil), zap.Float64("taux", taux), zap.Bool("critique", critique))
	s.hist.RecordWarning(tx, RefBudget(b.ID), "alerte_seuil", nil, "", "",
		fmt.Sprintf("taux de consommation %.1f%% >= seuil %.1f%%", taux, seuil))
	if s.notifier != nil {
		if err := s.notifier.AlerteBudget(tx, b, seuil, taux, critique); err != nil {
			s.log.Warn("notification d'alerte budgétaire échouée", zap.String("budget", b.Code), zap.Error(err))
		}
	}
}
