package models

import "time"

// Référentiel articles / fournisseurs consommé par les demandes et commandes.

type Article struct {
	ID           uint    `gorm:"primaryKey"`
	Reference    string  `gorm:"size:50;uniqueIndex;not null"`
	Designation  string  `gorm:"size:255;not null"`
	PrixUnitaire float64 `gorm:"not null"`
	TauxTVA      float64 `gorm:"not null"` // pourcentage (ex: 20 pour 20%)
	Unite        string  `gorm:"size:20"`  // ex: pc, h, kg
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PrixTTC rend le prix unitaire TVA comprise.
func (a *Article) PrixTTC() float64 {
	return a.PrixUnitaire * (1 + a.TauxTVA/100)
}

type Fournisseur struct {
	ID        uint   `gorm:"primaryKey"`
	Code      string `gorm:"size:50;uniqueIndex;not null"`
	Nom       string `gorm:"size:255;not null"`
	Email     string `gorm:"size:255"` // destinataire des bons de commande
	Telephone string `gorm:"size:50"`
	Adresse   string
	Actif     bool `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
