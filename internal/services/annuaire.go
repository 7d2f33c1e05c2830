package services

import (
	"context"
	"errors"

	"github.com/diewo77/go-achats/internal/models"
	"gorm.io/gorm"
)

// Annuaire est la façade vers le référentiel utilisateurs/rôles. Le cœur du
// workflow ne connaît la hiérarchie et les rôles qu'à travers cette
// interface, injectée explicitement (jamais de singleton de package).
type Annuaire interface {
	// HasRole indique si l'utilisateur porte le rôle donné.
	HasRole(ctx context.Context, userID uint, roleCode string) (bool, error)
	// ManagerOf rend le manager de l'utilisateur, nil s'il n'en a pas.
	ManagerOf(ctx context.Context, userID uint) (*models.User, error)
	// AnyWithRole rend un utilisateur portant le rôle, nil à défaut.
	AnyWithRole(ctx context.Context, roleCode string) (*models.User, error)
}

// GormAnnuaire résout rôles et hiérarchie depuis les tables users/roles.
type GormAnnuaire struct {
	db *gorm.DB
}

func NewGormAnnuaire(db *gorm.DB) *GormAnnuaire {
	return &GormAnnuaire{db: db}
}

func (a *GormAnnuaire) HasRole(ctx context.Context, userID uint, roleCode string) (bool, error) {
	var count int64
	err := a.db.WithContext(ctx).Model(&models.User{}).
		Joins("JOIN roles ON roles.id = users.role_id").
		Where("users.id = ? AND roles.code = ?", userID, roleCode).
		Count(&count).Error
	return count > 0, err
}

func (a *GormAnnuaire) ManagerOf(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := a.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}
	if user.ManagerID == nil {
		return nil, nil
	}
	var manager models.User
	if err := a.db.WithContext(ctx).First(&manager, *user.ManagerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &manager, nil
}

func (a *GormAnnuaire) AnyWithRole(ctx context.Context, roleCode string) (*models.User, error) {
	var user models.User
	err := a.db.WithContext(ctx).
		Joins("JOIN roles ON roles.id = users.role_id").
		Where("roles.code = ?", roleCode).
		Order("users.id asc").
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
