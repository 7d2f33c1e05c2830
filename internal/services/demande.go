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

// DemandeService gouverne la machine d'état des demandes d'achat :
// draft → submitted → validated_n1 → validated_n2 → converted,
// avec sorties refused (avant N2) et cancelled (tout état non terminal).
// L'approbation N2 réserve le budget via le ledger, dans la même transaction
// que le changement d'état.
type DemandeService struct {
	db       *gorm.DB
	log      *zap.Logger
	hist     *HistoriqueService
	budget   *BudgetService
	annuaire Annuaire
	seuilN2  float64 // total TTC au-delà duquel une validation N2 est requise
	now      func() time.Time
}

func NewDemandeService(db *gorm.DB, log *zap.Logger, hist *HistoriqueService, budget *BudgetService, annuaire Annuaire, seuilN2 float64) *DemandeService {
	return &DemandeService{
		db:       db,
		log:      log,
		hist:     hist,
		budget:   budget,
		annuaire: annuaire,
		seuilN2:  seuilN2,
		now:      time.Now,
	}
}

// LigneDemandeInput décrit une ligne à ajouter. Prix et TVA par défaut sont
// repris de l'article si absents.
type LigneDemandeInput struct {
	ArticleID    uint
	Quantite     float64
	PrixUnitaire *float64
	TauxTVA      *float64
}

// Create ouvre une demande en brouillon pour le demandeur.
func (s *DemandeService) Create(ctx context.Context, demandeurID uint, budgetID *uint) (*models.Demande, error) {
	var d models.Demande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exercice := s.now().Year()
		numero, err := NextNumero(tx, NumKindDemande, exercice)
		if err != nil {
			return err
		}
		d = models.Demande{
			Numero:      numero,
			Exercice:    exercice,
			DemandeurID: demandeurID,
			BudgetID:    budgetID,
			Statut:      models.DemandeStatutBrouillon,
		}
		if err := tx.Create(&d).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefDemande(d.ID), "create", &demandeurID, "", d.Statut, "création de la demande "+numero)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// AddLigne ajoute une ligne; autorisé uniquement en brouillon.
// Les totaux sont recalculés à chaque mutation.
func (s *DemandeService) AddLigne(ctx context.Context, demandeID, userID uint, in LigneDemandeInput) (*models.Demande, error) {
	if in.Quantite <= 0 {
		return nil, fmt.Errorf("%w: quantité doit être positive", ErrValidation)
	}
	var d models.Demande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &d, demandeID); err != nil {
			return err
		}
		if d.Statut != models.DemandeStatutBrouillon {
			return fmt.Errorf("%w: lignes modifiables uniquement en brouillon (statut %s)", ErrWorkflow, d.Statut)
		}
		var article models.Article
		if err := tx.First(&article, in.ArticleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: article %d inconnu", ErrValidation, in.ArticleID)
			}
			return err
		}
		ligne := models.DemandeLigne{
			DemandeID:    d.ID,
			ArticleID:    article.ID,
			Quantite:     in.Quantite,
			PrixUnitaire: article.PrixUnitaire,
			TauxTVA:      article.TauxTVA,
		}
		if in.PrixUnitaire != nil {
			ligne.PrixUnitaire = *in.PrixUnitaire
		}
		if in.TauxTVA != nil {
			ligne.TauxTVA = *in.TauxTVA
		}
		if ligne.PrixUnitaire < 0 || ligne.TauxTVA < 0 {
			return fmt.Errorf("%w: prix et TVA doivent être positifs ou nuls", ErrValidation)
		}
		ligne.CalculeMontants()
		if err := tx.Create(&ligne).Error; err != nil {
			return err
		}
		d.Lignes = append(d.Lignes, ligne)
		s.recalculeTotaux(&d)
		if err := tx.Model(&models.Demande{}).Where("id = ?", d.ID).
			Updates(map[string]any{"total_ht": d.TotalHT, "total_ttc": d.TotalTTC}).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefDemande(d.ID), "add_ligne", &userID, d.Statut, d.Statut,
			fmt.Sprintf("ajout ligne article %s x%.2f", article.Reference, in.Quantite))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RemoveLigne retire une ligne; autorisé uniquement en brouillon.
func (s *DemandeService) RemoveLigne(ctx context.Context, demandeID, ligneID, userID uint) (*models.Demande, error) {
	var d models.Demande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &d, demandeID); err != nil {
			return err
		}
		if d.Statut != models.DemandeStatutBrouillon {
			return fmt.Errorf("%w: lignes modifiables uniquement en brouillon (statut %s)", ErrWorkflow, d.Statut)
		}
		idx := -1
		for i, l := range d.Lignes {
			if l.ID == ligneID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: ligne %d absente de la demande %s", ErrValidation, ligneID, d.Numero)
		}
		if err := tx.Delete(&models.DemandeLigne{}, ligneID).Error; err != nil {
			return err
		}
		d.Lignes = append(d.Lignes[:idx], d.Lignes[idx+1:]...)
		s.recalculeTotaux(&d)
		if err := tx.Model(&models.Demande{}).Where("id = ?", d.ID).
			Updates(map[string]any{"total_ht": d.TotalHT, "total_ttc": d.TotalTTC}).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefDemande(d.ID), "remove_ligne", &userID, d.Statut, d.Statut,
			fmt.Sprintf("suppression ligne %d", ligneID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Submit soumet la demande à validation. Le validateur N1 est le manager du
// demandeur, à défaut un utilisateur admin. Le validateur N2 n'est assigné
// que si le total atteint le seuil, par recherche de rôle priorisée
// (admin → responsable achats → acheteur).
func (s *DemandeService) Submit(ctx context.Context, demandeID, userID uint) (*models.Demande, error) {
	var d models.Demande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &d, demandeID); err != nil {
			return err
		}
		if d.Statut != models.DemandeStatutBrouillon {
			return fmt.Errorf("%w: soumission impossible depuis %s", ErrWorkflow, d.Statut)
		}
		if userID != d.DemandeurID {
			return fmt.Errorf("%w: seul le demandeur peut soumettre", ErrPermission)
		}
		if len(d.Lignes) == 0 {
			return fmt.Errorf("%w: au moins une ligne est requise", ErrValidation)
		}
		if d.BudgetID != nil && d.TotalTTC > 0 {
			if err := s.budget.VerifyAvailability(ctx, *d.BudgetID, d.TotalTTC); err != nil {
				return err
			}
		}
		n1, err := s.resolveN1(ctx, d.DemandeurID)
		if err != nil {
			return err
		}
		d.ValidateurN1ID = &n1.ID
		if d.TotalTTC >= s.seuilN2 {
			n2, err := s.resolveN2(ctx)
			if err != nil {
				return err
			}
			d.ValidateurN2ID = &n2.ID
		}
		avant := d.Statut
		d.Statut = models.DemandeStatutSoumise
		maintenant := s.now()
		d.DateSoumission = &maintenant
		if err := tx.Omit(clause.Associations).Save(&d).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefDemande(d.ID), "submit", &userID, avant, d.Statut,
			fmt.Sprintf("soumission, total TTC %.2f", d.TotalTTC))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ValidateN1 : validation de premier niveau par le validateur assigné.
// Quand aucun N2 n'est requis, la demande passe directement en validated_n2
// et l'engagement budgétaire est déclenché.
func (s *DemandeService) ValidateN1(ctx context.Context, demandeID, validateurID uint) (*models.Demande, error) {
	var d models.Demande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &d, demandeID); err != nil {
			return err
		}
		if d.Statut != models.DemandeStatutSoumise {
			return fmt.Errorf("%w: validation N1 impossible depuis %s", ErrWorkflow, d.Statut)
		}
		if d.ValidateurN1ID == nil || *d.ValidateurN1ID != validateurID {
			return fmt.Errorf("%w: seul le validateur N1 assigné peut valider", ErrPermission)
		}
		avant := d.Statut
		maintenant := s.now()
		d.DateValidationN1 = &maintenant
		if d.ValidateurN2ID == nil {
			// pas de N2 requis : l'approbation est complète
			s.finalizeApprobation(tx, &d, validateurID)
		} else {
			d.Statut = models.DemandeStatutValideeN1
		}
		if err := tx.Omit(clause.Associations).Save(&d).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefDemande(d.ID), "validate_n1", &validateurID, avant, d.Statut, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ValidateN2 : validation finale par le validateur N2 assigné.
func (s *DemandeService) ValidateN2(ctx context.Context, demandeID, validateurID uint) (*models.Demande, error) {
	var d models.Demande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &d, demandeID); err != nil {
			return err
		}
		if d.Statut != models.DemandeStatutValideeN1 {
			return fmt.Errorf("%w: validation N2 impossible depuis %s", ErrWorkflow, d.Statut)
		}
		if d.ValidateurN2ID == nil || *d.ValidateurN2ID != validateurID {
			return fmt.Errorf("%w: seul le validateur N2 assigné peut valider", ErrPermission)
		}
		avant := d.Statut
		s.finalizeApprobation(tx, &d, validateurID)
		if err := tx.Omit(clause.Associations).Save(&d).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefDemande(d.ID), "validate_n2", &validateurID, avant, d.Statut, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ValidateN2AsAdmin : transition composite réservée au rôle admin. Depuis
// submitted, l'étape N1 est accomplie dans le même geste; depuis
// validated_n1, l'admin se substitue au validateur N2 assigné.
func (s *DemandeService) ValidateN2AsAdmin(ctx context.Context, demandeID, adminID uint) (*models.Demande, error) {
	estAdmin, err := s.annuaire.HasRole(ctx, adminID, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if !estAdmin {
		return nil, fmt.Errorf("%w: rôle admin requis", ErrPermission)
	}
	var d models.Demande
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &d, demandeID); err != nil {
			return err
		}
		if d.Statut != models.DemandeStatutSoumise && d.Statut != models.DemandeStatutValideeN1 {
			return fmt.Errorf("%w: validation N2 admin impossible depuis %s", ErrWorkflow, d.Statut)
		}
		avant := d.Statut
		if d.Statut == models.DemandeStatutSoumise {
			maintenant := s.now()
			d.DateValidationN1 = &maintenant
		}
		s.finalizeApprobation(tx, &d, adminID)
		if err := tx.Omit(clause.Associations).Save(&d).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefDemande(d.ID), "validate_n2_admin", &adminID, avant, d.Statut,
			"validation administrative (N1 et N2 confondus)")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Refuse : refus par le validateur du palier courant (ou un admin), avec
// motif obligatoire. Impossible après N2 : il n'y a donc jamais de budget à
// libérer ici.
func (s *DemandeService) Refuse(ctx context.Context, demandeID, validateurID uint, motif string) (*models.Demande, error) {
	if motif == "" {
		return nil, fmt.Errorf("%w: motif de refus requis", ErrValidation)
	}
	estAdmin, err := s.annuaire.HasRole(ctx, validateurID, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	var d models.Demande
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &d, demandeID); err != nil {
			return err
		}
		var attendu *uint
		switch d.Statut {
		case models.DemandeStatutSoumise:
			attendu = d.ValidateurN1ID
		case models.DemandeStatutValideeN1:
			attendu = d.ValidateurN2ID
		default:
			return fmt.Errorf("%w: refus impossible depuis %s", ErrWorkflow, d.Statut)
		}
		if !estAdmin && (attendu == nil || *attendu != validateurID) {
			return fmt.Errorf("%w: seul le validateur assigné peut refuser", ErrPermission)
		}
		avant := d.Statut
		d.Statut = models.DemandeStatutRefusee
		d.Motif = motif
		if err := tx.Omit(clause.Associations).Save(&d).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefDemande(d.ID), "refuse", &validateurID, avant, d.Statut, motif)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Cancel : annulation par le demandeur ou un admin depuis tout état non
// terminal. Si la demande avait atteint validated_n2 (donc engagé le budget),
// le montant est libéré dans la même transaction.
func (s *DemandeService) Cancel(ctx context.Context, demandeID, userID uint, motif string) (*models.Demande, error) {
	if motif == "" {
		return nil, fmt.Errorf("%w: motif d'annulation requis", ErrValidation)
	}
	estAdmin, err := s.annuaire.HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	var d models.Demande
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &d, demandeID); err != nil {
			return err
		}
		if d.EstTerminale() {
			return fmt.Errorf("%w: annulation impossible depuis %s", ErrWorkflow, d.Statut)
		}
		if !estAdmin && userID != d.DemandeurID {
			return fmt.Errorf("%w: seul le demandeur ou un admin peut annuler", ErrPermission)
		}
		avant := d.Statut
		if d.Statut == models.DemandeStatutValideeN2 && d.BudgetID != nil && d.TotalTTC > 0 {
			if err := s.budget.ReleaseTx(tx, *d.BudgetID, d.TotalTTC, d.Numero); err != nil {
				return err
			}
		}
		d.Statut = models.DemandeStatutAnnulee
		d.Motif = motif
		if err := tx.Omit(clause.Associations).Save(&d).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefDemande(d.ID), "cancel", &userID, avant, d.Statut, motif)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Get recharge une demande avec ses lignes.
func (s *DemandeService) Get(ctx context.Context, demandeID uint) (*models.Demande, error) {
	var d models.Demande
	if err := s.load(s.db.WithContext(ctx), &d, demandeID); err != nil {
		return nil, err
	}
	return &d, nil
}

// finalizeApprobation passe la demande en validated_n2 et engage le budget.
// Un échec d'engagement est journalisé mais ne fait pas échouer la
// transition : comportement hérité, voir DESIGN.md (une demande peut alors
// être validée sans réservation budgétaire correspondante).
func (s *DemandeService) finalizeApprobation(tx *gorm.DB, d *models.Demande, actorID uint) {
	d.Statut = models.DemandeStatutValideeN2
	maintenant := s.now()
	d.DateValidationN2 = &maintenant
	// une demande à total nul ne mobilise rien au ledger
	if d.BudgetID == nil || d.TotalTTC <= 0 {
		return
	}
	if err := s.budget.EngageTx(tx, *d.BudgetID, d.TotalTTC, d.Numero); err != nil {
		s.log.Warn("engagement budgétaire échoué après validation N2",
			zap.String("demande", d.Numero), zap.Error(err))
		s.hist.RecordWarning(tx, RefDemande(d.ID), "engage_echoue", &actorID, "", d.Statut,
			fmt.Sprintf("engagement de %.2f refusé: %v", d.TotalTTC, err))
	}
}

func (s *DemandeService) resolveN1(ctx context.Context, demandeurID uint) (*models.User, error) {
	manager, err := s.annuaire.ManagerOf(ctx, demandeurID)
	if err != nil {
		return nil, err
	}
	if manager != nil {
		return manager, nil
	}
	admin, err := s.annuaire.AnyWithRole(ctx, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, fmt.Errorf("%w: aucun validateur N1 résoluble (ni manager ni admin)", ErrValidation)
	}
	return admin, nil
}

// resolveN2 cherche un validateur N2 par rôles priorisés, premier trouvé.
func (s *DemandeService) resolveN2(ctx context.Context) (*models.User, error) {
	for _, role := range []string{models.RoleAdmin, models.RoleResponsableAchats, models.RoleAcheteur} {
		u, err := s.annuaire.AnyWithRole(ctx, role)
		if err != nil {
			return nil, err
		}
		if u != nil {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: aucun validateur N2 résoluble", ErrValidation)
}

func (s *DemandeService) recalculeTotaux(d *models.Demande) {
	var ht, ttc float64
	for _, l := range d.Lignes {
		ht += l.MontantHT
		ttc += l.MontantTTC
	}
	d.TotalHT = ht
	d.TotalTTC = ttc
}

func (s *DemandeService) load(tx *gorm.DB, d *models.Demande, id uint) error {
	if err := tx.Preload("Lignes").First(d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: demande %d introuvable", ErrValidation, id)
		}
		return err
	}
	return nil
}
