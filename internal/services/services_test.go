package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/internal/models"
)

func setupTestDB(t *testing.T, name string) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	entities := []interface{}{
		&models.Role{}, &models.User{}, &models.Notification{},
		&models.Article{}, &models.Fournisseur{},
		&models.Budget{}, &models.Numerotation{},
		&models.Demande{}, &models.DemandeLigne{},
		&models.BonCommande{}, &models.BonCommandeLigne{},
		&models.Reception{}, &models.ReceptionLigne{},
		&models.BonRetour{}, &models.BonRetourLigne{},
		&models.Historique{},
	}
	for _, e := range entities {
		if err := db.AutoMigrate(e); err != nil {
			t.Fatalf("migrate %T: %v", e, err)
		}
	}
	return db
}

// fixture regroupe les utilisateurs et référentiels partagés par les tests.
type fixture struct {
	db          *gorm.DB
	admin       models.User
	manager     models.User
	demandeur   models.User
	budget      models.Budget
	article     models.Article
	fournisseur models.Fournisseur
}

func seedFixture(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	roles := map[string]models.Role{}
	for _, code := range []string{models.RoleAdmin, models.RoleResponsableAchats, models.RoleAcheteur, models.RoleDemandeur} {
		r := models.Role{Code: code}
		if err := db.Create(&r).Error; err != nil {
			t.Fatalf("seed role %s: %v", code, err)
		}
		roles[code] = r
	}
	admin := models.User{Email: "admin@test.local", Password: "x", Nom: "Admin", RoleID: roles[models.RoleAdmin].ID}
	if err := db.Create(&admin).Error; err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	manager := models.User{Email: "manager@test.local", Password: "x", Nom: "Manager", RoleID: roles[models.RoleResponsableAchats].ID}
	if err := db.Create(&manager).Error; err != nil {
		t.Fatalf("seed manager: %v", err)
	}
	demandeur := models.User{Email: "demandeur@test.local", Password: "x", Nom: "Demandeur", RoleID: roles[models.RoleDemandeur].ID, ManagerID: &manager.ID}
	if err := db.Create(&demandeur).Error; err != nil {
		t.Fatalf("seed demandeur: %v", err)
	}
	budget := models.Budget{
		Code: "GEN", Exercice: time.Now().Year(), Libelle: "Budget test",
		MontantInitial: 100000, SeuilAlerte1: 75, SeuilAlerte2: 90,
	}
	if err := db.Create(&budget).Error; err != nil {
		t.Fatalf("seed budget: %v", err)
	}
	article := models.Article{Reference: "ART-1", Designation: "Article de test", PrixUnitaire: 100, TauxTVA: 20, Unite: "pc"}
	if err := db.Create(&article).Error; err != nil {
		t.Fatalf("seed article: %v", err)
	}
	fournisseur := models.Fournisseur{Code: "FRN-1", Nom: "Fournisseur Test", Email: "frn@test.local", Actif: true}
	if err := db.Create(&fournisseur).Error; err != nil {
		t.Fatalf("seed fournisseur: %v", err)
	}
	return &fixture{db: db, admin: admin, manager: manager, demandeur: demandeur, budget: budget, article: article, fournisseur: fournisseur}
}

func newBudgetService(db *gorm.DB) *BudgetService {
	log := zap.NewNop()
	return NewBudgetService(db, log, NewHistoriqueService(log), NewNotificationNotificateur(log))
}

func newDemandeService(db *gorm.DB, budget *BudgetService, seuilN2 float64) *DemandeService {
	log := zap.NewNop()
	return NewDemandeService(db, log, NewHistoriqueService(log), budget, NewGormAnnuaire(db), seuilN2)
}

// stubRenderer rend un artefact fixe, ou échoue à la demande.
type stubRenderer struct{ fail bool }

func (r *stubRenderer) RenderBonCommande(_ *models.BonCommande) ([]byte, error) {
	if r.fail {
		return nil, errors.New("rendu impossible")
	}
	return []byte("%PDF-stub"), nil
}

// memStore garde les artefacts en mémoire.
type memStore struct{ files map[string][]byte }

func newMemStore() *memStore { return &memStore{files: map[string][]byte{}} }

func (s *memStore) Put(name string, data []byte) (string, error) {
	ref := name + ".pdf"
	s.files[ref] = data
	return ref, nil
}

func (s *memStore) Get(ref string) ([]byte, error) {
	data, ok := s.files[ref]
	if !ok {
		return nil, errors.New("artefact inconnu")
	}
	return data, nil
}

// recordingMailer mémorise les envois, ou échoue à la demande.
type recordingMailer struct {
	fail bool
	sent []string
}

func (m *recordingMailer) Send(_ context.Context, to, _, _ string, _ []byte) error {
	if m.fail {
		return errors.New("smtp indisponible")
	}
	m.sent = append(m.sent, to)
	return nil
}

func newCommandeService(db *gorm.DB, budget *BudgetService, renderer DocumentRenderer, store ArtifactStore, mailer Mailer) *CommandeService {
	log := zap.NewNop()
	return NewCommandeService(db, log, NewHistoriqueService(log), budget, renderer, store, mailer)
}

func newReceptionService(db *gorm.DB, budget *BudgetService) *ReceptionService {
	log := zap.NewNop()
	return NewReceptionService(db, log, NewHistoriqueService(log), budget)
}

func reloadBudget(t *testing.T, db *gorm.DB, id uint) *models.Budget {
	t.Helper()
	var b models.Budget
	if err := db.First(&b, id).Error; err != nil {
		t.Fatalf("reload budget: %v", err)
	}
	return &b
}

func countHistorique(t *testing.T, db *gorm.DB, kind models.EntiteKind, action, niveau string) int64 {
	t.Helper()
	var n int64
	q := db.Model(&models.Historique{}).Where("entite_kind = ? AND action = ?", kind, action)
	if niveau != "" {
		q = q.Where("niveau = ?", niveau)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count historique: %v", err)
	}
	return n
}
