package models

import "time"

// Statuts d'une réception.
const (
	ReceptionStatutBrouillon = "draft"
	ReceptionStatutValidee   = "validated"
	ReceptionStatutAnnulee   = "cancelled"
)

// Reception : constat de livraison ligne à ligne sur un bon de commande.
// Une commande accumule plusieurs réceptions; seules les réceptions
// validées comptent dans les cumuls.
type Reception struct {
	ID            uint        `gorm:"primaryKey"`
	Numero        string      `gorm:"size:30;uniqueIndex;not null"` // ex: RC-2026-0001
	Exercice      int         `gorm:"not null;index"`
	BonCommandeID uint        `gorm:"not null;index"`
	BonCommande   BonCommande `gorm:"foreignKey:BonCommandeID"`
	RecepteurID   uint        `gorm:"not null"`
	Recepteur     User        `gorm:"foreignKey:RecepteurID"`

	Statut   string           `gorm:"size:20;not null;default:draft"`
	Conforme bool             `gorm:"not null;default:true"` // ET logique de toutes les lignes
	Lignes   []ReceptionLigne `gorm:"foreignKey:ReceptionID;constraint:OnDelete:CASCADE"`

	DateValidation *time.Time
	Motif          string // motif d'annulation
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ReceptionLigne struct {
	ID                 uint             `gorm:"primaryKey"`
	ReceptionID        uint             `gorm:"index;not null"`
	BonCommandeLigneID uint             `gorm:"not null;index"`
	BonCommandeLigne   BonCommandeLigne `gorm:"foreignKey:BonCommandeLigneID"`

	// Invariant : QuantiteRecue == QuantiteAcceptee + QuantiteRefusee.
	QuantiteRecue    float64 `gorm:"not null"`
	QuantiteAcceptee float64 `gorm:"not null"`
	QuantiteRefusee  float64 `gorm:"not null"`

	Conforme   bool   `gorm:"not null;default:true"`
	MotifRefus string // requis quand des quantités sont refusées
	CreatedAt  time.Time
}

// MontantAccepte rend la valeur TTC de la quantité acceptée, aux conditions
// de la ligne de commande.
func (l *ReceptionLigne) MontantAccepte() float64 {
	return l.QuantiteAcceptee * l.BonCommandeLigne.PrixUnitaire * (1 + l.BonCommandeLigne.TauxTVA/100)
}

// Statuts d'un bon de retour.
const (
	RetourStatutBrouillon = "draft"
	RetourStatutEnvoye    = "sent"
	RetourStatutClos      = "closed"
)

// BonRetour est créé automatiquement à la validation d'une réception
// comportant des quantités refusées. Son cycle de vie aval (envoi au
// fournisseur, avoir) est traité ailleurs.
type BonRetour struct {
	ID          uint      `gorm:"primaryKey"`
	Numero      string    `gorm:"size:30;uniqueIndex;not null"` // ex: BR-2026-0001
	Exercice    int       `gorm:"not null;index"`
	ReceptionID uint      `gorm:"not null;index"`
	Reception   Reception `gorm:"foreignKey:ReceptionID"`
	Statut      string    `gorm:"size:20;not null;default:draft"`
	Lignes      []BonRetourLigne `gorm:"foreignKey:BonRetourID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type BonRetourLigne struct {
	ID                 uint    `gorm:"primaryKey"`
	BonRetourID        uint    `gorm:"index;not null"`
	BonCommandeLigneID uint    `gorm:"not null"`
	Quantite           float64 `gorm:"not null"`
	Motif              string
	CreatedAt          time.Time
}
