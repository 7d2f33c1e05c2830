package services

import (
	"context"
	"fmt"

	"github.com/diewo77/go-achats/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notificateur reçoit les alertes budgétaires. L'implémentation par défaut
// dépose des notifications en base pour les profils achats; la remise
// effective (mail, dashboard) est un collaborateur externe.
type Notificateur interface {
	AlerteBudget(tx *gorm.DB, b *models.Budget, seuil, taux float64, critique bool) error
}

// NotificationNotificateur matérialise l'alerte en lignes Notification pour
// tous les utilisateurs admin et responsable_achats.
type NotificationNotificateur struct {
	log *zap.Logger
}

func NewNotificationNotificateur(log *zap.Logger) *NotificationNotificateur {
	return &NotificationNotificateur{log: log}
}

func (n *NotificationNotificateur) AlerteBudget(tx *gorm.DB, b *models.Budget, seuil, taux float64, critique bool) error {
	var destinataires []models.User
	err := tx.Joins("JOIN roles ON roles.id = users.role_id").
		Where("roles.code IN ?", []string{models.RoleAdmin, models.RoleResponsableAchats}).
		Find(&destinataires).Error
	if err != nil {
		return err
	}
	titre := fmt.Sprintf("Alerte budget %s", b.Code)
	if critique {
		titre = fmt.Sprintf("ALERTE CRITIQUE budget %s", b.Code)
	}
	message := fmt.Sprintf("Le budget %s (%d) atteint %.1f%% de consommation (seuil %.1f%%).", b.Code, b.Exercice, taux, seuil)
	for _, u := range destinataires {
		notif := models.Notification{UserID: u.ID, Type: "alerte_budget", Title: titre, Message: message}
		if err := tx.Create(&notif).Error; err != nil {
			return err
		}
	}
	return nil
}

// Mailer est le collaborateur d'envoi sortant (bons de commande, rappels).
// Un échec de transport est remonté en ErrDeliverySend par l'appelant.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string, attachment []byte) error
}

// LogMailer trace l'envoi sans transport réel; utilisé en développement et
// dans les tests.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer { return &LogMailer{log: log} }

func (m *LogMailer) Send(_ context.Context, to, subject, _ string, attachment []byte) error {
	m.log.Info("courrier sortant (transport désactivé)",
		zap.String("to", to), zap.String("subject", subject), zap.Int("attachment_bytes", len(attachment)))
	return nil
}
