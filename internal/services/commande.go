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

// CommandeService gouverne la machine d'état des bons de commande :
// draft → emitted → sent → confirmed → {received_partial ↔ received_complete},
// avec sortie cancelled tant qu'aucune réception n'a eu lieu. L'émission
// déclenche le passage en commandé sur le ledger quand la commande remonte à
// une demande budgétée. Les transitions received_* sont pilotées par
// ReceptionService.
type CommandeService struct {
	db       *gorm.DB
	log      *zap.Logger
	hist     *HistoriqueService
	budget   *BudgetService
	renderer DocumentRenderer
	store    ArtifactStore
	mailer   Mailer
	now      func() time.Time
}

func NewCommandeService(db *gorm.DB, log *zap.Logger, hist *HistoriqueService, budget *BudgetService,
	renderer DocumentRenderer, store ArtifactStore, mailer Mailer) *CommandeService {
	return &CommandeService{
		db:       db,
		log:      log,
		hist:     hist,
		budget:   budget,
		renderer: renderer,
		store:    store,
		mailer:   mailer,
		now:      time.Now,
	}
}

type CreateCommandeInput struct {
	DemandeID              *uint // demande validée à convertir (optionnel)
	FournisseurID          uint
	AcheteurID             uint
	DateLivraisonSouhaitee *time.Time
}

type LigneCommandeInput struct {
	ArticleID    uint
	Quantite     float64
	PrixUnitaire *float64
	TauxTVA      *float64
}

// Create ouvre un bon de commande en brouillon. Quand une demande d'origine
// est fournie, ses lignes sont clonées (article, quantité, prix, TVA) et la
// demande passe en converted dans la même transaction.
func (s *CommandeService) Create(ctx context.Context, userID uint, in CreateCommandeInput) (*models.BonCommande, error) {
	var bc models.BonCommande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fournisseur models.Fournisseur
		if err := tx.First(&fournisseur, in.FournisseurID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: fournisseur %d inconnu", ErrValidation, in.FournisseurID)
			}
			return err
		}
		if !fournisseur.Actif {
			return fmt.Errorf("%w: fournisseur %s inactif", ErrValidation, fournisseur.Code)
		}
		exercice := s.now().Year()
		numero, err := NextNumero(tx, NumKindBonCommande, exercice)
		if err != nil {
			return err
		}
		bc = models.BonCommande{
			Numero:                 numero,
			Exercice:               exercice,
			DemandeID:              in.DemandeID,
			FournisseurID:          in.FournisseurID,
			AcheteurID:             in.AcheteurID,
			Statut:                 models.CommandeStatutBrouillon,
			DateLivraisonSouhaitee: in.DateLivraisonSouhaitee,
		}
		if in.DemandeID != nil {
			var d models.Demande
			if err := tx.Preload("Lignes").First(&d, *in.DemandeID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: demande %d introuvable", ErrValidation, *in.DemandeID)
				}
				return err
			}
			if d.Statut != models.DemandeStatutValideeN2 {
				return fmt.Errorf("%w: seule une demande validée N2 peut être convertie (statut %s)", ErrWorkflow, d.Statut)
			}
			for _, dl := range d.Lignes {
				ligne := models.BonCommandeLigne{
					ArticleID:         dl.ArticleID,
					QuantiteCommandee: dl.Quantite,
					PrixUnitaire:      dl.PrixUnitaire,
					TauxTVA:           dl.TauxTVA,
				}
				ligne.CalculeMontants()
				bc.Lignes = append(bc.Lignes, ligne)
			}
			s.recalculeTotaux(&bc)
			if err := tx.Model(&models.Demande{}).Where("id = ?", d.ID).
				Update("statut", models.DemandeStatutConvertie).Error; err != nil {
				return err
			}
			s.hist.Record(tx, RefDemande(d.ID), "convert", &userID, d.Statut, models.DemandeStatutConvertie,
				"conversion en bon de commande "+numero)
		}
		if err := tx.Create(&bc).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefBonCommande(bc.ID), "create", &userID, "", bc.Statut, "création du bon de commande "+numero)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bc, nil
}

// AddLigne ajoute une ligne; autorisé uniquement en brouillon.
func (s *CommandeService) AddLigne(ctx context.Context, commandeID, userID uint, in LigneCommandeInput) (*models.BonCommande, error) {
	if in.Quantite <= 0 {
		return nil, fmt.Errorf("%w: quantité doit être positive", ErrValidation)
	}
	var bc models.BonCommande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &bc, commandeID); err != nil {
			return err
		}
		if bc.Statut != models.CommandeStatutBrouillon {
			return fmt.Errorf("%w: lignes modifiables uniquement en brouillon (statut %s)", ErrWorkflow, bc.Statut)
		}
		var article models.Article
		if err := tx.First(&article, in.ArticleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: article %d inconnu", ErrValidation, in.ArticleID)
			}
			return err
		}
		ligne := models.BonCommandeLigne{
			BonCommandeID:     bc.ID,
			ArticleID:         article.ID,
			QuantiteCommandee: in.Quantite,
			PrixUnitaire:      article.PrixUnitaire,
			TauxTVA:           article.TauxTVA,
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
		bc.Lignes = append(bc.Lignes, ligne)
		s.recalculeTotaux(&bc)
		if err := tx.Model(&models.BonCommande{}).Where("id = ?", bc.ID).
			Updates(map[string]any{"total_ht": bc.TotalHT, "total_ttc": bc.TotalTTC}).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefBonCommande(bc.ID), "add_ligne", &userID, bc.Statut, bc.Statut,
			fmt.Sprintf("ajout ligne article %s x%.2f", article.Reference, in.Quantite))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bc, nil
}

// Emit émet le bon de commande : l'artefact PDF est généré avant la
// transaction puis sa référence est commise avec le changement d'état; si la
// commande remonte à une demande budgétée, le montant bascule d'engagé vers
// commandé dans la même transaction.
func (s *CommandeService) Emit(ctx context.Context, commandeID, userID uint) (*models.BonCommande, error) {
	var bc models.BonCommande
	if err := s.loadComplet(s.db.WithContext(ctx), &bc, commandeID); err != nil {
		return nil, err
	}
	if bc.Statut != models.CommandeStatutBrouillon {
		return nil, fmt.Errorf("%w: émission impossible depuis %s", ErrWorkflow, bc.Statut)
	}
	if len(bc.Lignes) == 0 {
		return nil, fmt.Errorf("%w: au moins une ligne est requise", ErrValidation)
	}
	if bc.FournisseurID == 0 {
		return nil, fmt.Errorf("%w: fournisseur requis", ErrValidation)
	}
	artefact, err := s.renderer.RenderBonCommande(&bc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentGeneration, err)
	}
	ref, err := s.store.Put(bc.Numero, artefact)
	if err != nil {
		return nil, fmt.Errorf("%w: stockage artefact: %v", ErrDocumentGeneration, err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &bc, commandeID); err != nil {
			return err
		}
		if bc.Statut != models.CommandeStatutBrouillon {
			return fmt.Errorf("%w: émission impossible depuis %s", ErrWorkflow, bc.Statut)
		}
		budgetID, err := s.budgetSource(tx, &bc)
		if err != nil {
			return err
		}
		if budgetID != nil && bc.TotalTTC > 0 {
			if err := s.budget.OrderTx(tx, *budgetID, bc.TotalTTC, bc.Numero); err != nil {
				return err
			}
		}
		avant := bc.Statut
		bc.Statut = models.CommandeStatutEmise
		bc.DocumentRef = ref
		if err := tx.Omit(clause.Associations).Save(&bc).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefBonCommande(bc.ID), "emit", &userID, avant, bc.Statut,
			fmt.Sprintf("émission, total TTC %.2f, document %s", bc.TotalTTC, ref))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bc, nil
}

// SendToSupplier expédie l'artefact au fournisseur. Le destinataire est
// l'adresse explicite ou celle de la fiche fournisseur. En cas d'échec de
// transport la commande reste en emitted.
func (s *CommandeService) SendToSupplier(ctx context.Context, commandeID, userID uint, email string) (*models.BonCommande, error) {
	var bc models.BonCommande
	if err := s.loadComplet(s.db.WithContext(ctx), &bc, commandeID); err != nil {
		return nil, err
	}
	if bc.Statut != models.CommandeStatutEmise {
		return nil, fmt.Errorf("%w: envoi impossible depuis %s", ErrWorkflow, bc.Statut)
	}
	destinataire := email
	if destinataire == "" {
		destinataire = bc.Fournisseur.Email
	}
	if destinataire == "" {
		return nil, fmt.Errorf("%w: aucune adresse fournisseur résoluble", ErrValidation)
	}
	var artefact []byte
	if bc.DocumentRef != "" {
		data, err := s.store.Get(bc.DocumentRef)
		if err != nil {
			s.log.Warn("artefact introuvable, envoi sans pièce jointe",
				zap.String("commande", bc.Numero), zap.String("ref", bc.DocumentRef), zap.Error(err))
		} else {
			artefact = data
		}
	}
	sujet := fmt.Sprintf("Bon de commande %s", bc.Numero)
	corps := fmt.Sprintf("Veuillez trouver ci-joint le bon de commande %s (total TTC %.2f).", bc.Numero, bc.TotalTTC)
	if err := s.mailer.Send(ctx, destinataire, sujet, corps, artefact); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliverySend, err)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// écriture conditionnelle : le statut a pu changer entre le contrôle
		// initial et le commit (mail expédié avant la transaction)
		res := tx.Model(&models.BonCommande{}).
			Where("id = ? AND statut = ?", bc.ID, models.CommandeStatutEmise).
			Update("statut", models.CommandeStatutEnvoyee)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: le statut du bon de commande %s a changé pendant l'envoi", ErrWorkflow, bc.Numero)
		}
		bc.Statut = models.CommandeStatutEnvoyee
		s.hist.Record(tx, RefBonCommande(bc.ID), "send", &userID, models.CommandeStatutEmise, bc.Statut, "envoyé à "+destinataire)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bc, nil
}

// ConfirmBySupplier enregistre la confirmation du fournisseur. Une date
// confirmée au-delà de la date souhaitée est signalée (warning) sans bloquer.
func (s *CommandeService) ConfirmBySupplier(ctx context.Context, commandeID, userID uint, numeroConfirmation string, dateConfirmee time.Time) (*models.BonCommande, error) {
	var bc models.BonCommande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &bc, commandeID); err != nil {
			return err
		}
		if bc.Statut != models.CommandeStatutEnvoyee {
			return fmt.Errorf("%w: confirmation impossible depuis %s", ErrWorkflow, bc.Statut)
		}
		avant := bc.Statut
		bc.Statut = models.CommandeStatutConfirmee
		bc.NumeroConfirmation = numeroConfirmation
		bc.DateLivraisonConfirmee = &dateConfirmee
		if err := tx.Omit(clause.Associations).Save(&bc).Error; err != nil {
			return err
		}
		if bc.DateLivraisonSouhaitee != nil && dateConfirmee.After(*bc.DateLivraisonSouhaitee) {
			retard := dateConfirmee.Sub(*bc.DateLivraisonSouhaitee)
			s.log.Warn("livraison confirmée au-delà de la date souhaitée",
				zap.String("commande", bc.Numero), zap.Duration("retard", retard))
			s.hist.RecordWarning(tx, RefBonCommande(bc.ID), "delai_livraison", &userID, avant, bc.Statut,
				fmt.Sprintf("date confirmée %s au-delà de la date souhaitée %s",
					dateConfirmee.Format("2006-01-02"), bc.DateLivraisonSouhaitee.Format("2006-01-02")))
		}
		s.hist.Record(tx, RefBonCommande(bc.ID), "confirm", &userID, avant, bc.Statut,
			"confirmation fournisseur "+numeroConfirmation)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bc, nil
}

// Cancel annule le bon de commande et libère le montant retenu au ledger.
// Bloqué dès qu'une réception a eu lieu.
func (s *CommandeService) Cancel(ctx context.Context, commandeID, userID uint, motif string) (*models.BonCommande, error) {
	if motif == "" {
		return nil, fmt.Errorf("%w: motif d'annulation requis", ErrValidation)
	}
	var bc models.BonCommande
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.load(tx, &bc, commandeID); err != nil {
			return err
		}
		switch bc.Statut {
		case models.CommandeStatutRecuePartielle, models.CommandeStatutRecueComplete:
			return fmt.Errorf("%w: annulation impossible après réception", ErrWorkflow)
		case models.CommandeStatutAnnulee:
			return fmt.Errorf("%w: bon de commande déjà annulé", ErrWorkflow)
		}
		// le ledger ne retient un montant qu'à partir de l'émission
		if bc.Statut != models.CommandeStatutBrouillon {
			budgetID, err := s.budgetSource(tx, &bc)
			if err != nil {
				return err
			}
			if budgetID != nil && bc.TotalTTC > 0 {
				if err := s.budget.ReleaseTx(tx, *budgetID, bc.TotalTTC, bc.Numero); err != nil {
					return err
				}
			}
		}
		avant := bc.Statut
		bc.Statut = models.CommandeStatutAnnulee
		bc.MotifAnnulation = motif
		if err := tx.Omit(clause.Associations).Save(&bc).Error; err != nil {
			return err
		}
		s.hist.Record(tx, RefBonCommande(bc.ID), "cancel", &userID, avant, bc.Statut, motif)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bc, nil
}

// Get recharge un bon de commande avec lignes et fournisseur.
func (s *CommandeService) Get(ctx context.Context, commandeID uint) (*models.BonCommande, error) {
	var bc models.BonCommande
	if err := s.loadComplet(s.db.WithContext(ctx), &bc, commandeID); err != nil {
		return nil, err
	}
	return &bc, nil
}

// budgetSource remonte au budget de la demande d'origine, nil pour une
// commande directe ou une demande sans budget.
func (s *CommandeService) budgetSource(tx *gorm.DB, bc *models.BonCommande) (*uint, error) {
	if bc.DemandeID == nil {
		return nil, nil
	}
	var d models.Demande
	if err := tx.Select("id", "budget_id").First(&d, *bc.DemandeID).Error; err != nil {
		return nil, err
	}
	return d.BudgetID, nil
}

func (s *CommandeService) recalculeTotaux(bc *models.BonCommande) {
	var ht, ttc float64
	for _, l := range bc.Lignes {
		ht += l.MontantHT
		ttc += l.MontantTTC
	}
	bc.TotalHT = ht
	bc.TotalTTC = ttc
}

func (s *CommandeService) load(tx *gorm.DB, bc *models.BonCommande, id uint) error {
	if err := tx.Preload("Lignes").First(bc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: bon de commande %d introuvable", ErrValidation, id)
		}
		return err
	}
	return nil
}

func (s *CommandeService) loadComplet(tx *gorm.DB, bc *models.BonCommande, id uint) error {
	if err := tx.Preload("Lignes").Preload("Fournisseur").First(bc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: bon de commande %d introuvable", ErrValidation, id)
		}
		return err
	}
	return nil
}
