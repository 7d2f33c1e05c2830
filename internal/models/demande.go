package models

import "time"

// Statuts d'une demande d'achat.
const (
	DemandeStatutBrouillon = "draft"
	DemandeStatutSoumise   = "submitted"
	DemandeStatutValideeN1 = "validated_n1"
	DemandeStatutValideeN2 = "validated_n2"
	DemandeStatutConvertie = "converted"
	DemandeStatutRefusee   = "refused"
	DemandeStatutAnnulee   = "cancelled"
)

// Demande d'achat : du brouillon à la conversion en bon de commande,
// via une validation à deux niveaux (N2 conditionnée par un seuil).
type Demande struct {
	ID          uint   `gorm:"primaryKey"`
	Numero      string `gorm:"size:30;uniqueIndex;not null"` // ex: DA-2026-0001
	Exercice    int    `gorm:"not null;index"`
	DemandeurID uint   `gorm:"not null"`
	Demandeur   User   `gorm:"foreignKey:DemandeurID"`
	BudgetID    *uint  // budget cible (optionnel)
	Budget      *Budget `gorm:"foreignKey:BudgetID"`
	Statut      string  `gorm:"size:20;not null;default:draft"`

	Lignes   []DemandeLigne `gorm:"foreignKey:DemandeID;constraint:OnDelete:CASCADE"`
	TotalHT  float64        `gorm:"not null;default:0"`
	TotalTTC float64        `gorm:"not null;default:0"`

	// Validation. ValidateurN2ID n'est renseigné que si le total
	// atteint le seuil N2 au moment de la soumission.
	ValidateurN1ID   *uint
	ValidateurN1     *User `gorm:"foreignKey:ValidateurN1ID"`
	ValidateurN2ID   *uint
	ValidateurN2     *User `gorm:"foreignKey:ValidateurN2ID"`
	DateSoumission   *time.Time
	DateValidationN1 *time.Time
	DateValidationN2 *time.Time

	Motif     string // motif de refus ou d'annulation
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EstTerminale indique si la demande a atteint un état terminal.
func (d *Demande) EstTerminale() bool {
	switch d.Statut {
	case DemandeStatutConvertie, DemandeStatutRefusee, DemandeStatutAnnulee:
		return true
	}
	return false
}

type DemandeLigne struct {
	ID        uint    `gorm:"primaryKey"`
	DemandeID uint    `gorm:"index;not null"`
	ArticleID uint    `gorm:"not null"`
	Article   Article `gorm:"foreignKey:ArticleID"`

	Quantite     float64 `gorm:"not null"`
	PrixUnitaire float64 `gorm:"not null"`
	TauxTVA      float64 `gorm:"not null"` // pourcentage
	MontantHT    float64 `gorm:"not null"`
	MontantTTC   float64 `gorm:"not null"`
	CreatedAt    time.Time
}

// CalculeMontants renseigne MontantHT/MontantTTC depuis quantité, prix et TVA.
func (l *DemandeLigne) CalculeMontants() {
	l.MontantHT = l.Quantite * l.PrixUnitaire
	l.MontantTTC = l.MontantHT * (1 + l.TauxTVA/100)
}
