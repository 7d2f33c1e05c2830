package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-achats/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceptionService rapproche les quantités reçues des quantités commandées,
// ligne à ligne. La validation d'une réception recalcule les cumuls acceptés
// des lignes de commande (recalcul idempotent, jamais un incrément), le
// statut de la commande, et consomme au ledger la valeur des quantités
// acceptées. L'annulation inverse intégralement ces effets.
type ReceptionService struct {
	db     *gorm.DB
	log    *zap.Logger
	hist   *HistoriqueService
	budget *BudgetService
	now    func() time.Time
}

func NewReceptionService(db *gorm.DB, log *zap.Logger, hist *HistoriqueService, budget *BudgetService) *ReceptionService {
	return &ReceptionService{db: db, log: log, hist: hist, budget: budget, now: time.Now}
}

// LigneReceptionInput décrit le constat sur une ligne de commande.
type LigneReceptionInput struct {
	BonCommandeLigneID uint
	QuantiteRecue      float64
	QuantiteAcceptee   float64
	QuantiteRefusee    float64
	Conforme           bool
	MotifRefus         string
}

// Create ouvre une réception en brouillon; permis uniquement quand la
// commande est envoyée, confirmée ou partiellement reçue.
func (s *ReceptionService) Create(ctx context.Context, commandeID, recepteurID uint) (*models.Reception, error) {
	var r models.Reception
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bc models.BonCommande
		if err := tx.First(&bc, commandeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: bon de commande %d introuvable", ErrValidation, commandeID)
			}
			return err
		}
		switch bc.Statut {
		case models.CommandeStatutEnvoyee, models.CommandeStatutConfirmee, models.CommandeStatutRecuePartielle:
			// réceptionnable
		default:
			return fmt.Errorf("%w: réception impossible sur une commande %s", ErrWorkflow, bc.Statut)
		}
		exercice := s.now().Year()
		numero, err := NextNumero(tx, NumKindReception, exercice)
		if err != nil {
			return err
		}
		r = models.Reception{
			Numero:        numero,
			Exercice:      exercice,
			BonCommandeID: bc.ID,
			RecepteurID:   recepteurID,
			Statut:        models.ReceptionStatutBrouillon,
			Conforme:      true,
		}
		if err := tx.Create(&r).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefReception(r.ID), "create", &recepteurID, "", r.Statut,
			fmt.Sprintf("création de la réception %s sur %s", numero, bc.Numero))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordLigne enregistre un constat; brouillon uniquement.
// Invariants : acceptée + refusée == reçue, et reçue ne peut dépasser le
// restant à recevoir (commandé − déjà accepté sur les réceptions validées).
// Les quantités refusées partent en retour et restent donc à recevoir : une
// livraison de remplacement est admise.
func (s *ReceptionService) RecordLigne(ctx context.Context, receptionID, userID uint, in LigneReceptionInput) (*models.Reception, error) {
	var r models.Reception
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &r, receptionID); err != nil {
			return err
		}
		if r.Statut != models.ReceptionStatutBrouillon {
			return fmt.Errorf("%w: lignes modifiables uniquement en brouillon (statut %s)", ErrWorkflow, r.Statut)
		}
		if in.QuantiteRecue <= 0 {
			return fmt.Errorf("%w: quantité reçue doit être positive", ErrValidation)
		}
		if in.QuantiteAcceptee < 0 || in.QuantiteRefusee < 0 {
			return fmt.Errorf("%w: quantités acceptée et refusée doivent être positives ou nulles", ErrValidation)
		}
		if in.QuantiteAcceptee+in.QuantiteRefusee != in.QuantiteRecue {
			return fmt.Errorf("%w: acceptée (%.2f) + refusée (%.2f) doit égaler reçue (%.2f)",
				ErrValidation, in.QuantiteAcceptee, in.QuantiteRefusee, in.QuantiteRecue)
		}
		if in.QuantiteRefusee > 0 && in.MotifRefus == "" {
			return fmt.Errorf("%w: motif requis pour les quantités refusées", ErrValidation)
		}
		var bcl models.BonCommandeLigne
		if err := tx.First(&bcl, in.BonCommandeLigneID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: ligne de commande %d inconnue", ErrValidation, in.BonCommandeLigneID)
			}
			return err
		}
		if bcl.BonCommandeID != r.BonCommandeID {
			return fmt.Errorf("%w: la ligne %d n'appartient pas à la commande de cette réception", ErrValidation, bcl.ID)
		}
		dejaAccepte, err := s.cumulAccepte(tx, bcl.ID, 0)
		if err != nil {
			return err
		}
		if restant := bcl.QuantiteCommandee - dejaAccepte; in.QuantiteRecue > restant {
			return fmt.Errorf("%w: reçue %.2f > restant à recevoir %.2f sur la ligne %d",
				ErrValidation, in.QuantiteRecue, restant, bcl.ID)
		}
		ligne := models.ReceptionLigne{
			ReceptionID:        r.ID,
			BonCommandeLigneID: bcl.ID,
			QuantiteRecue:      in.QuantiteRecue,
			QuantiteAcceptee:   in.QuantiteAcceptee,
			QuantiteRefusee:    in.QuantiteRefusee,
			Conforme:           in.Conforme,
			MotifRefus:         in.MotifRefus,
		}
		if err := tx.Create(&ligne).Error; err != nil {
			return err
		}
		r.Lignes = append(r.Lignes, ligne)
		s.hist.Record(tx, RefReception(r.ID), "record_ligne", &userID, r.Statut, r.Statut,
			fmt.Sprintf("ligne commande %d: reçue %.2f, acceptée %.2f, refusée %.2f",
				bcl.ID, in.QuantiteRecue, in.QuantiteAcceptee, in.QuantiteRefusee))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate valide la réception : conformité globale (ET des lignes), recalcul
// des cumuls acceptés des lignes de commande, statut de la commande,
// consommation budgétaire de la valeur acceptée, et création d'un bon de
// retour pour les quantités refusées.
func (s *ReceptionService) Validate(ctx context.Context, receptionID, userID uint) (*models.Reception, error) {
	var r models.Reception
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.loadComplet(tx, &r, receptionID); err != nil {
			return err
		}
		if r.Statut != models.ReceptionStatutBrouillon {
			return fmt.Errorf("%w: validation impossible depuis %s", ErrWorkflow, r.Statut)
		}
		if len(r.Lignes) == 0 {
			return fmt.Errorf("%w: au moins une ligne est requise", ErrValidation)
		}
		conforme := true
		for _, l := range r.Lignes {
			if l.QuantiteRecue <= 0 {
				return fmt.Errorf("%w: chaque ligne doit avoir une quantité reçue positive", ErrValidation)
			}
			// regarde ce que les autres réceptions validées ont accepté depuis
			// l'enregistrement de la ligne
			dejaAccepte, err := s.cumulAccepte(tx, l.BonCommandeLigneID, r.ID)
			if err != nil {
				return err
			}
			if restant := l.BonCommandeLigne.QuantiteCommandee - dejaAccepte; l.QuantiteRecue > restant {
				return fmt.Errorf("%w: reçue %.2f > restant à recevoir %.2f sur la ligne %d",
					ErrValidation, l.QuantiteRecue, restant, l.BonCommandeLigneID)
			}
			conforme = conforme && l.Conforme
		}
		avant := r.Statut
		r.Statut = models.ReceptionStatutValidee
		r.Conforme = conforme
		maintenant := s.now()
		r.DateValidation = &maintenant
		if err := tx.Omit(clause.Associations).Save(&r).Error; err != nil {
			return err
		}
		if err := s.reconcilieCommande(tx, r.BonCommandeID, userID); err != nil {
			return err
		}
		budgetID, err := s.budgetSource(tx, r.BonCommandeID)
		if err != nil {
			return err
		}
		if montant := s.montantAccepte(&r); budgetID != nil && montant > 0 {
			if err := s.budget.ConsumeTx(tx, *budgetID, montant, r.Numero); err != nil {
				return err
			}
		}
		if err := s.creeBonRetour(tx, &r, userID); err != nil {
			return err
		}
		s.hist.Record(tx, RefReception(r.ID), "validate", &userID, avant, r.Statut,
			fmt.Sprintf("réception validée, conforme=%t", conforme))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Cancel annule la réception. Pour une réception validée, les cumuls de la
// commande sont recalculés sans elle, le statut de la commande retombe
// (confirmed si plus rien n'est reçu) et la consommation budgétaire est
// restituée vers le commandé.
func (s *ReceptionService) Cancel(ctx context.Context, receptionID, userID uint, motif string) (*models.Reception, error) {
	if motif == "" {
		return nil, fmt.Errorf("%w: motif d'annulation requis", ErrValidation)
	}
	var r models.Reception
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.loadComplet(tx, &r, receptionID); err != nil {
			return err
		}
		if r.Statut == models.ReceptionStatutAnnulee {
			return fmt.Errorf("%w: réception déjà annulée", ErrWorkflow)
		}
		etaitValidee := r.Statut == models.ReceptionStatutValidee
		avant := r.Statut
		r.Statut = models.ReceptionStatutAnnulee
		r.Motif = motif
		if err := tx.Omit(clause.Associations).Save(&r).Error; err != nil {
			return err
		}
		if etaitValidee {
			if err := s.reconcilieCommande(tx, r.BonCommandeID, userID); err != nil {
				return err
			}
			budgetID, err := s.budgetSource(tx, r.BonCommandeID)
			if err != nil {
				return err
			}
			if montant := s.montantAccepte(&r); budgetID != nil && montant > 0 {
				if err := s.budget.ReleaseConsumedTx(tx, *budgetID, montant, r.Numero); err != nil {
					return err
				}
			}
		}
		s.hist.Record(tx, RefReception(r.ID), "cancel", &userID, avant, r.Statut, motif)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Get recharge une réception avec ses lignes.
func (s *ReceptionService) Get(ctx context.Context, receptionID uint) (*models.Reception, error) {
	var r models.Reception
	if err := s.loadComplet(s.db.WithContext(ctx), &r, receptionID); err != nil {
		return nil, err
	}
	return &r, nil
}

// reconcilieCommande recalcule les cumuls acceptés de chaque ligne depuis
// l'ensemble des réceptions validées, puis le statut de la commande :
// received_complete ssi toutes les lignes sont soldées, received_partial si
// au moins une quantité est reçue, sinon retour à confirmed.
func (s *ReceptionService) reconcilieCommande(tx *gorm.DB, commandeID, userID uint) error {
	var bc models.BonCommande
	if err := tx.Preload("Lignes").First(&bc, commandeID).Error; err != nil {
		return err
	}
	complete := len(bc.Lignes) > 0
	partielle := false
	for i := range bc.Lignes {
		cumul, err := s.cumulAccepte(tx, bc.Lignes[i].ID, 0)
		if err != nil {
			return err
		}
		bc.Lignes[i].QuantiteRecue = cumul
		if err := tx.Model(&models.BonCommandeLigne{}).Where("id = ?", bc.Lignes[i].ID).
			Update("quantite_recue", cumul).Error; err != nil {
			return err
		}
		if !bc.Lignes[i].EstSoldee() {
			complete = false
		}
		if cumul > 0 {
			partielle = true
		}
	}
	statut := models.CommandeStatutConfirmee
	switch {
	case complete:
		statut = models.CommandeStatutRecueComplete
	case partielle:
		statut = models.CommandeStatutRecuePartielle
	}
	if statut == bc.Statut {
		return nil
	}
	avant := bc.Statut
	if err := tx.Model(&models.BonCommande{}).Where("id = ?", bc.ID).
		Update("statut", statut).Error; err != nil {
		return err
	}
	s.hist.Record(tx, RefBonCommande(bc.ID), "reconcile", &userID, avant, statut, "recalcul depuis les réceptions validées")
	return nil
}

// cumulAccepte : somme des quantités acceptées sur les réceptions validées
// d'une ligne de commande, en excluant éventuellement une réception. Les
// quantités refusées n'y figurent pas : retournées au fournisseur, elles
// restent à recevoir.
func (s *ReceptionService) cumulAccepte(tx *gorm.DB, bonCommandeLigneID, saufReceptionID uint) (float64, error) {
	var total float64
	q := tx.Model(&models.ReceptionLigne{}).
		Joins("JOIN receptions ON receptions.id = reception_lignes.reception_id").
		Where("reception_lignes.bon_commande_ligne_id = ? AND receptions.statut = ?",
			bonCommandeLigneID, models.ReceptionStatutValidee)
	if saufReceptionID != 0 {
		q = q.Where("receptions.id <> ?", saufReceptionID)
	}
	err := q.Select("COALESCE(SUM(reception_lignes.quantite_acceptee), 0)").Scan(&total).Error
	return total, err
}

// montantAccepte : valeur TTC des quantités acceptées de la réception, aux
// conditions des lignes de commande.
func (s *ReceptionService) montantAccepte(r *models.Reception) float64 {
	var total float64
	for _, l := range r.Lignes {
		total += l.MontantAccepte()
	}
	return total
}

// creeBonRetour matérialise les quantités refusées en bon de retour.
func (s *ReceptionService) creeBonRetour(tx *gorm.DB, r *models.Reception, userID uint) error {
	var lignes []models.BonRetourLigne
	for _, l := range r.Lignes {
		if l.QuantiteRefusee > 0 {
			lignes = append(lignes, models.BonRetourLigne{
				BonCommandeLigneID: l.BonCommandeLigneID,
				Quantite:           l.QuantiteRefusee,
				Motif:              l.MotifRefus,
			})
		}
	}
	if len(lignes) == 0 {
		return nil
	}
	numero, err := NextNumero(tx, NumKindBonRetour, r.Exercice)
	if err != nil {
		return err
	}
	br := models.BonRetour{
		Numero:      numero,
		Exercice:    r.Exercice,
		ReceptionID: r.ID,
		Statut:      models.RetourStatutBrouillon,
		Lignes:      lignes,
	}
	if err := tx.Create(&br).Error; err != nil {
		return err
	}
	s.hist.Record(tx, RefBonRetour(br.ID), "create", &userID, "", br.Statut,
		fmt.Sprintf("bon de retour %s issu de la réception %s", numero, r.Numero))
	return nil
}

func (s *ReceptionService) budgetSource(tx *gorm.DB, commandeID uint) (*uint, error) {
	var bc models.BonCommande
	if err := tx.Select("id", "demande_id").First(&bc, commandeID).Error; err != nil {
		return nil, err
	}
	if bc.DemandeID == nil {
		return nil, nil
	}
	var d models.Demande
	if err := tx.Select("id", "budget_id").First(&d, *bc.DemandeID).Error; err != nil {
		return nil, err
	}
	return d.BudgetID, nil
}

func (s *ReceptionService) load(tx *gorm.DB, r *models.Reception, id uint) error {
	if err := tx.Preload("Lignes").First(r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: réception %d introuvable", ErrValidation, id)
		}
		return err
	}
	return nil
}

func (s *ReceptionService) loadComplet(tx *gorm.DB, r *models.Reception, id uint) error {
	if err := tx.Preload("Lignes").Preload("Lignes.BonCommandeLigne").First(r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: réception %d introuvable", ErrValidation, id)
		}
		return err
	}
	return nil
}
