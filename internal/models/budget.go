package models

import "time"

// Budget est l'enveloppe budgétaire suivie par le ledger.
// Les quatre montants ne sont jamais modifiés directement par le workflow :
// toute mutation passe par services.BudgetService (Engage/Order/Consume/Release).
type Budget struct {
	ID              uint    `gorm:"primaryKey"`
	Code            string  `gorm:"size:50;not null;uniqueIndex:idx_budget_code_exercice"`
	Exercice        int     `gorm:"not null;uniqueIndex:idx_budget_code_exercice"` // année fiscale
	Libelle         string  `gorm:"size:255"`
	MontantInitial  float64 `gorm:"not null"`
	MontantEngage   float64 `gorm:"not null;default:0"`
	MontantCommande float64 `gorm:"not null;default:0"`
	MontantConsomme float64 `gorm:"not null;default:0"`
	SeuilAlerte1    float64 `gorm:"not null"` // pourcentage, ex: 75
	SeuilAlerte2    float64 `gorm:"not null"` // pourcentage, ex: 90
	Alerte1Envoyee  bool    `gorm:"not null;default:false"`
	Alerte2Envoyee  bool    `gorm:"not null;default:false"`
	DateDebut       time.Time
	DateFin         time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Disponible = initial − (engagé + commandé + consommé).
// Peut légitimement devenir négatif (dépassement de budget).
func (b *Budget) Disponible() float64 {
	return b.MontantInitial - (b.MontantEngage + b.MontantCommande + b.MontantConsomme)
}

// TauxConsommation rend le taux de consommation en pourcentage du montant
// initial. Un budget à montant initial nul rapporte 0 plutôt qu'une division
// par zéro.
func (b *Budget) TauxConsommation() float64 {
	if b.MontantInitial <= 0 {
		return 0
	}
	return (b.MontantEngage + b.MontantCommande + b.MontantConsomme) / b.MontantInitial * 100
}
