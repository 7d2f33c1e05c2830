package services

import (
	"errors"
	"fmt"

	"github.com/diewo77/go-achats/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var lockingUpdate = clause.Locking{Strength: "UPDATE"}

// Préfixes de numérotation par type de document.
const (
	NumKindDemande     = "DA"
	NumKindBonCommande = "BC"
	NumKindReception   = "RC"
	NumKindBonRetour   = "BR"
)

// forUpdate pose un verrou de ligne sur les drivers qui le supportent.
// sqlite (utilisé par les tests) refuse FOR UPDATE et sérialise lui-même
// les écrivains.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(lockingUpdate)
}

// NextNumero alloue le prochain numéro séquentiel pour un type de document
// et un exercice, par lecture puis incrément sous le verrou de la ligne de
// numérotation. Doit s'exécuter dans la transaction de l'appelant.
func NextNumero(tx *gorm.DB, kind string, exercice int) (string, error) {
	var num models.Numerotation
	err := forUpdate(tx).Where("kind = ? AND exercice = ?", kind, exercice).First(&num).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		num = models.Numerotation{Kind: kind, Exercice: exercice, Dernier: 0}
		if err := tx.Create(&num).Error; err != nil {
			return "", fmt.Errorf("création numérotation %s/%d: %w", kind, exercice, err)
		}
		// reverrouille la ligne fraîche pour sérialiser les créateurs concurrents
		if err := forUpdate(tx).First(&num, num.ID).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	num.Dernier++
	if err := tx.Model(&models.Numerotation{}).Where("id = ?", num.ID).
		Update("dernier", num.Dernier).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%04d", kind, exercice, num.Dernier), nil
}
