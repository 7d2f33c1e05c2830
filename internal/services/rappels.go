package services

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/go-achats/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RappelService relance les validateurs sur les demandes en attente depuis
// trop longtemps. Balayage en une passe, déclenché périodiquement par le
// planificateur du serveur; l'annulation est coopérative : le contexte est
// consulté entre chaque document, jamais au milieu d'un document.
type RappelService struct {
	db         *gorm.DB
	log        *zap.Logger
	mailer     Mailer
	delaiJours int
	now        func() time.Time
}

func NewRappelService(db *gorm.DB, log *zap.Logger, mailer Mailer, delaiJours int) *RappelService {
	return &RappelService{db: db, log: log, mailer: mailer, delaiJours: delaiJours, now: time.Now}
}

// Run exécute une passe de rappels et retourne le nombre de relances émises.
func (s *RappelService) Run(ctx context.Context) (int, error) {
	limite := s.now().AddDate(0, 0, -s.delaiJours)
	var demandes []models.Demande
	err := s.db.WithContext(ctx).
		Where("statut IN ?", []string{models.DemandeStatutSoumise, models.DemandeStatutValideeN1}).
		Where("date_soumission IS NOT NULL AND date_soumission < ?", limite).
		Find(&demandes).Error
	if err != nil {
		return 0, err
	}
	envoyes := 0
	for _, d := range demandes {
		if ctx.Err() != nil {
			s.log.Info("balayage de rappels interrompu", zap.Int("envoyes", envoyes), zap.Int("restants", len(demandes)-envoyes))
			return envoyes, ctx.Err()
		}
		validateurID := d.ValidateurN1ID
		if d.Statut == models.DemandeStatutValideeN1 {
			validateurID = d.ValidateurN2ID
		}
		if validateurID == nil {
			continue
		}
		if err := s.relance(ctx, &d, *validateurID); err != nil {
			s.log.Warn("rappel non envoyé", zap.String("demande", d.Numero), zap.Error(err))
			continue
		}
		envoyes++
	}
	return envoyes, nil
}

func (s *RappelService) relance(ctx context.Context, d *models.Demande, validateurID uint) error {
	var validateur models.User
	if err := s.db.WithContext(ctx).First(&validateur, validateurID).Error; err != nil {
		return err
	}
	titre := fmt.Sprintf("Rappel : demande %s en attente de validation", d.Numero)
	message := fmt.Sprintf("La demande %s (total TTC %.2f) attend votre validation depuis le %s.",
		d.Numero, d.TotalTTC, d.DateSoumission.Format("02/01/2006"))
	notif := models.Notification{UserID: validateurID, Type: "rappel_validation", Title: titre, Message: message}
	if err := s.db.WithContext(ctx).Create(&notif).Error; err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, validateur.Email, titre, message, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliverySend, err)
	}
	return nil
}
