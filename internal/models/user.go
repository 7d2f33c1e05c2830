package models

import "time"

// User & role models shared by the whole procurement module.
type User struct {
	ID        uint    `gorm:"primaryKey"`
	Email     string  `gorm:"unique;not null;index"`
	Password  string  `gorm:"not null"` // hashé
	Nom       string  `gorm:"index"`
	Prenom    string  `gorm:"index"`
	ManagerID *uint   // supérieur hiérarchique (validateur N1 par défaut)
	Manager   *User   `gorm:"foreignKey:ManagerID"`
	RoleID    uint    // clé étrangère vers Role
	Role      Role    `gorm:"foreignKey:RoleID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Role struct {
	ID          uint   `gorm:"primaryKey"`
	Code        string `gorm:"unique;not null"` // admin, responsable_achats, acheteur, demandeur
	Description string // optionnel
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Codes de rôle connus du workflow.
const (
	RoleAdmin             = "admin"
	RoleResponsableAchats = "responsable_achats"
	RoleAcheteur          = "acheteur"
	RoleDemandeur         = "demandeur"
)

type Notification struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null"`          // destinataire
	User      User      `gorm:"foreignKey:UserID"` // relation vers User
	Type      string    // ex: "alerte_budget", "rappel_validation"
	Title     string    // titre ou sujet
	Message   string    // contenu
	Read      bool      // notification lue ou non
	CreatedAt time.Time
	UpdatedAt time.Time
}
