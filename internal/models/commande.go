package models

import "time"

// Statuts d'un bon de commande.
const (
	CommandeStatutBrouillon      = "draft"
	CommandeStatutEmise          = "emitted"
	CommandeStatutEnvoyee        = "sent"
	CommandeStatutConfirmee      = "confirmed"
	CommandeStatutRecuePartielle = "received_partial"
	CommandeStatutRecueComplete  = "received_complete"
	CommandeStatutAnnulee        = "cancelled"
)

// BonCommande : émis vers un fournisseur, éventuellement issu d'une demande
// validée. Les quantités reçues par ligne sont recalculées par le moteur de
// réception à chaque validation/annulation de réception.
type BonCommande struct {
	ID       uint   `gorm:"primaryKey"`
	Numero   string `gorm:"size:30;uniqueIndex;not null"` // ex: BC-2026-0001
	Exercice int    `gorm:"not null;index"`

	DemandeID *uint // demande d'origine (nullable : commande directe)
	Demande   *Demande `gorm:"foreignKey:DemandeID"`

	FournisseurID uint        `gorm:"not null"`
	Fournisseur   Fournisseur `gorm:"foreignKey:FournisseurID"`
	AcheteurID    uint        `gorm:"not null"`
	Acheteur      User        `gorm:"foreignKey:AcheteurID"`

	Statut   string             `gorm:"size:20;not null;default:draft"`
	Lignes   []BonCommandeLigne `gorm:"foreignKey:BonCommandeID;constraint:OnDelete:CASCADE"`
	TotalHT  float64            `gorm:"not null;default:0"`
	TotalTTC float64            `gorm:"not null;default:0"`

	DateLivraisonSouhaitee  *time.Time
	DateLivraisonConfirmee  *time.Time
	NumeroConfirmation      string `gorm:"size:100"` // référence donnée par le fournisseur
	DocumentRef             string `gorm:"size:255"` // référence du PDF généré à l'émission
	MotifAnnulation         string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

type BonCommandeLigne struct {
	ID            uint    `gorm:"primaryKey"`
	BonCommandeID uint    `gorm:"index;not null"`
	ArticleID     uint    `gorm:"not null"`
	Article       Article `gorm:"foreignKey:ArticleID"`

	QuantiteCommandee float64 `gorm:"not null"`
	QuantiteRecue     float64 `gorm:"not null;default:0"` // cumul accepté sur réceptions validées
	PrixUnitaire      float64 `gorm:"not null"`
	TauxTVA           float64 `gorm:"not null"` // pourcentage
	MontantHT         float64 `gorm:"not null"`
	MontantTTC        float64 `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CalculeMontants renseigne MontantHT/MontantTTC depuis quantité, prix et TVA.
func (l *BonCommandeLigne) CalculeMontants() {
	l.MontantHT = l.QuantiteCommandee * l.PrixUnitaire
	l.MontantTTC = l.MontantHT * (1 + l.TauxTVA/100)
}

// EstSoldee indique si la ligne est intégralement reçue.
func (l *BonCommandeLigne) EstSoldee() bool {
	return l.QuantiteRecue >= l.QuantiteCommandee
}
