package models

import "time"

// EntiteKind identifie le type d'entité référencé par une entrée d'historique.
// Les valeurs possibles sont fermées; les constructeurs de services.EntiteRef
// sont le seul moyen prévu de construire un couple (kind, id).
type EntiteKind string

const (
	EntiteDemande     EntiteKind = "demande"
	EntiteBonCommande EntiteKind = "bon_commande"
	EntiteReception   EntiteKind = "reception"
	EntiteBudget      EntiteKind = "budget"
	EntiteBonRetour   EntiteKind = "bon_retour"
	EntiteFournisseur EntiteKind = "fournisseur"
	EntiteArticle     EntiteKind = "article"
)

// Niveaux d'une entrée d'historique.
const (
	HistoriqueNiveauInfo    = "info"
	HistoriqueNiveauWarning = "warning"
)

// Historique : journal en append-only de toutes les transitions d'état.
// Jamais modifié ni supprimé.
type Historique struct {
	ID         uint       `gorm:"primaryKey"`
	EntiteKind EntiteKind `gorm:"size:30;not null;index:idx_historique_entite"`
	EntiteID   uint       `gorm:"not null;index:idx_historique_entite"`
	Action     string     `gorm:"size:50;not null"` // ex: "submit", "validate_n1", "engage"
	UserID     *uint      // nil pour les actions système
	User       *User      `gorm:"foreignKey:UserID"`
	StatutAvant string    `gorm:"size:30"`
	StatutApres string    `gorm:"size:30"`
	Niveau      string    `gorm:"size:10;not null;default:info"`
	Detail      string    // texte libre
	CreatedAt   time.Time
}

// Numerotation porte le dernier numéro attribué par type de document et
// exercice. La ligne est verrouillée (FOR UPDATE) pendant l'attribution.
type Numerotation struct {
	ID       uint   `gorm:"primaryKey"`
	Kind     string `gorm:"size:10;not null;uniqueIndex:idx_numerotation_kind_exercice"` // DA, BC, RC, BR
	Exercice int    `gorm:"not null;uniqueIndex:idx_numerotation_kind_exercice"`
	Dernier  int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
