package db

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	// imports anonymes : enregistrent le driver postgres et la source file de golang-migrate
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-achats/internal/models"
)

// Models recense toutes les entités du module, dans l'ordre de migration.
func Models() []interface{} {
	return []interface{}{
		&models.Role{}, &models.User{}, &models.Notification{},
		&models.Article{}, &models.Fournisseur{},
		&models.Budget{}, &models.Numerotation{},
		&models.Demande{}, &models.DemandeLigne{},
		&models.BonCommande{}, &models.BonCommandeLigne{},
		&models.Reception{}, &models.ReceptionLigne{},
		&models.BonRetour{}, &models.BonRetourLigne{},
		&models.Historique{},
	}
}

func ConnectAndMigrate(dsn string) (*gorm.DB, error) {
	dsn = NormalizeDSN(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_DSN est vide, vérifiez la configuration de l'environnement")
	}
	var db *gorm.DB
	var err error
	logLevel := logger.Silent
	if os.Getenv("DB_DEBUG") == "1" {
		logLevel = logger.Info
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}
	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err == nil {
			break
		}
		fmt.Println("Retrying DB connection...", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database after retries: %w", err)
	}

	if pingErr := db.Exec("SELECT 1").Error; pingErr != nil {
		return nil, fmt.Errorf("db ping failed: %w", pingErr)
	}

	// affiche une fois le DSN masqué, avant les migrations
	masked := dsn
	if strings.Contains(masked, "password=") {
		re := regexp.MustCompile(`(password=)([^\s]+)`)
		masked = re.ReplaceAllString(masked, `${1}***`)
	}
	fmt.Println("[DB] Using DSN:", masked)

	// MIGRATIONS=1 exécute les migrations SQL via golang-migrate; sinon AutoMigrate (confort de dev)
	if v := strings.ToLower(os.Getenv("MIGRATIONS")); v == "1" || v == "true" || v == "yes" {
		if err := runSQLMigrations(dsn); err != nil {
			return nil, fmt.Errorf("sql migrations failed: %w", err)
		}
	} else {
		for _, m := range Models() {
			if migErr := db.AutoMigrate(m); migErr != nil {
				return nil, fmt.Errorf("automigrate %T: %w", m, migErr)
			}
		}
	}

	// vérifie que les tables cœur existent après migration
	for _, table := range []string{"roles", "users", "budgets", "demandes", "bon_commandes", "receptions"} {
		if !db.Migrator().HasTable(table) {
			return nil, errors.New("missing table after migration: " + table)
		}
	}
	return db, nil
}

// Seed installe les rôles du workflow et, à la demande, un jeu de données de
// développement (utilisateurs, budget, référentiel).
func Seed(db *gorm.DB, seuilAlerte1, seuilAlerte2 float64) error {
	roles := []models.Role{
		{Code: models.RoleAdmin, Description: "administration du module achats"},
		{Code: models.RoleResponsableAchats, Description: "responsable des achats"},
		{Code: models.RoleAcheteur, Description: "acheteur"},
		{Code: models.RoleDemandeur, Description: "demandeur"},
	}
	for _, r := range roles {
		var existing models.Role
		if err := db.Where("code = ?", r.Code).First(&existing).Error; errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&r).Error; err != nil {
				return err
			}
		}
	}
	if v := strings.ToLower(os.Getenv("DB_SEED")); v != "1" && v != "true" && v != "yes" {
		return nil
	}
	return seedDev(db, seuilAlerte1, seuilAlerte2)
}

func seedDev(db *gorm.DB, seuilAlerte1, seuilAlerte2 float64) error {
	var adminRole, demandeurRole models.Role
	if err := db.Where("code = ?", models.RoleAdmin).First(&adminRole).Error; err != nil {
		return err
	}
	if err := db.Where("code = ?", models.RoleDemandeur).First(&demandeurRole).Error; err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("ChangeMe123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin := models.User{Email: "admin@example.com", Password: string(hash), Nom: "Admin", RoleID: adminRole.ID}
	var existing models.User
	if err := db.Where("email = ?", admin.Email).First(&existing).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		if err := db.Create(&admin).Error; err != nil {
			return err
		}
	} else {
		admin = existing
	}
	demandeur := models.User{Email: "demandeur@example.com", Password: string(hash), Nom: "Demandeur", RoleID: demandeurRole.ID, ManagerID: &admin.ID}
	if err := db.Where("email = ?", demandeur.Email).First(&existing).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		if err := db.Create(&demandeur).Error; err != nil {
			return err
		}
	}

	annee := time.Now().Year()
	budget := models.Budget{
		Code: "GEN", Exercice: annee, Libelle: "Budget général",
		MontantInitial: 100000, SeuilAlerte1: seuilAlerte1, SeuilAlerte2: seuilAlerte2,
		DateDebut: time.Date(annee, 1, 1, 0, 0, 0, 0, time.UTC),
		DateFin:   time.Date(annee, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	var existingBudget models.Budget
	if err := db.Where("code = ? AND exercice = ?", budget.Code, budget.Exercice).
		First(&existingBudget).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		if err := db.Create(&budget).Error; err != nil {
			return err
		}
	}

	articles := []models.Article{
		{Reference: "PAP-A4", Designation: "Papier A4 (ramette)", PrixUnitaire: 4.5, TauxTVA: 20, Unite: "pc"},
		{Reference: "ECR-24", Designation: "Écran 24 pouces", PrixUnitaire: 180, TauxTVA: 20, Unite: "pc"},
	}
	for _, a := range articles {
		var existingArticle models.Article
		if err := db.Where("reference = ?", a.Reference).First(&existingArticle).Error; errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&a).Error; err != nil {
				return err
			}
		}
	}
	fournisseur := models.Fournisseur{Code: "FRN-001", Nom: "Bureau Services SARL", Email: "contact@bureau-services.example", Actif: true}
	var existingFournisseur models.Fournisseur
	if err := db.Where("code = ?", fournisseur.Code).First(&existingFournisseur).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		if err := db.Create(&fournisseur).Error; err != nil {
			return err
		}
	}
	return nil
}

// runSQLMigrations exécute les migrations du répertoire ./migrations via la
// source file de golang-migrate.
func runSQLMigrations(dsn string) error {
	m, err := migrate.New("file://migrations", dsn)
	if err != nil {
		return err
	}
	if err = m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
