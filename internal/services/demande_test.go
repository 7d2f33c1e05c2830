package services

import (
	"context"
	"errors"
	"testing"

	"github.com/diewo77/go-achats/internal/models"
)

// brouillonAvecLignes crée une demande en brouillon pour le demandeur de la
// fixture, avec n unités de l'article de test (100 HT, TVA 20 : 120 TTC l'unité).
func brouillonAvecLignes(t *testing.T, svc *DemandeService, f *fixture, budgetID *uint, quantite float64) *models.Demande {
	t.Helper()
	ctx := context.Background()
	d, err := svc.Create(ctx, f.demandeur.ID, budgetID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err = svc.AddLigne(ctx, d.ID, f.demandeur.ID, LigneDemandeInput{ArticleID: f.article.ID, Quantite: quantite})
	if err != nil {
		t.Fatalf("add ligne: %v", err)
	}
	return d
}

func TestCreateAssignsSequentialNumeros(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	svc := newDemandeService(db, newBudgetService(db), 5000)
	ctx := context.Background()

	d1, err := svc.Create(ctx, f.demandeur.ID, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d2, err := svc.Create(ctx, f.demandeur.ID, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d1.Numero == d2.Numero {
		t.Fatalf("numeros must be unique: %s", d1.Numero)
	}
	if d1.Statut != models.DemandeStatutBrouillon {
		t.Fatalf("new demande must be draft, got %s", d1.Statut)
	}
}

func TestAddLigneComputesTotals(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	svc := newDemandeService(db, newBudgetService(db), 5000)

	d := brouillonAvecLignes(t, svc, f, nil, 2)
	if d.TotalHT != 200 || d.TotalTTC != 240 {
		t.Fatalf("totals: HT=%.2f TTC=%.2f", d.TotalHT, d.TotalTTC)
	}

	// prix et TVA explicites priment sur l'article
	prix := 50.0
	tva := 10.0
	d, err := svc.AddLigne(context.Background(), d.ID, f.demandeur.ID,
		LigneDemandeInput{ArticleID: f.article.ID, Quantite: 1, PrixUnitaire: &prix, TauxTVA: &tva})
	if err != nil {
		t.Fatalf("add ligne: %v", err)
	}
	if d.TotalHT != 250 || d.TotalTTC != 295 {
		t.Fatalf("totals after override: HT=%.2f TTC=%.2f", d.TotalHT, d.TotalTTC)
	}
}

func TestRemoveLigneRecomputesTotals(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	svc := newDemandeService(db, newBudgetService(db), 5000)

	d := brouillonAvecLignes(t, svc, f, nil, 2)
	d, err := svc.RemoveLigne(context.Background(), d.ID, d.Lignes[0].ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(d.Lignes) != 0 || d.TotalTTC != 0 {
		t.Fatalf("expected empty demande, got %d lignes TTC=%.2f", len(d.Lignes), d.TotalTTC)
	}
}

func TestSubmitAssignsManagerAsN1(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	svc := newDemandeService(db, newBudgetService(db), 5000)

	d := brouillonAvecLignes(t, svc, f, nil, 2) // 240 TTC, sous le seuil N2
	d, err := svc.Submit(context.Background(), d.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Statut != models.DemandeStatutSoumise {
		t.Fatalf("statut: %s", d.Statut)
	}
	if d.ValidateurN1ID == nil || *d.ValidateurN1ID != f.manager.ID {
		t.Fatalf("N1 must be the manager")
	}
	if d.ValidateurN2ID != nil {
		t.Fatalf("no N2 expected below the threshold")
	}
	if d.DateSoumission == nil {
		t.Fatalf("submission date must be stamped")
	}
}

func TestSubmitAssignsN2AtThreshold(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	svc := newDemandeService(db, newBudgetService(db), 10000)

	d := brouillonAvecLignes(t, svc, f, nil, 100) // 12000 TTC >= 10000
	d, err := svc.Submit(context.Background(), d.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.ValidateurN2ID == nil || *d.ValidateurN2ID != f.admin.ID {
		t.Fatalf("N2 must resolve to the admin first")
	}
}

func TestSubmitChecks(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	svc := newDemandeService(db, newBudgetService(db), 5000)
	ctx := context.Background()

	vide, err := svc.Create(ctx, f.demandeur.ID, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Submit(ctx, vide.ID, f.demandeur.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty demande: expected ErrValidation, got %v", err)
	}

	d := brouillonAvecLignes(t, svc, f, nil, 1)
	if _, err := svc.Submit(ctx, d.ID, f.admin.ID); !errors.Is(err, ErrPermission) {
		t.Fatalf("non-owner submit: expected ErrPermission, got %v", err)
	}
	if _, err := svc.Submit(ctx, d.ID, f.demandeur.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Submit(ctx, d.ID, f.demandeur.ID); !errors.Is(err, ErrWorkflow) {
		t.Fatalf("double submit: expected ErrWorkflow, got %v", err)
	}
}

func TestSubmitFailsEarlyOnInsufficientBudget(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	svc := newDemandeService(db, newBudgetService(db), 1000000)

	small := models.Budget{Code: "PETIT", Exercice: f.budget.Exercice, MontantInitial: 100, SeuilAlerte1: 75, SeuilAlerte2: 90}
	if err := db.Create(&small).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	d := brouillonAvecLignes(t, svc, f, &small.ID, 2) // 240 TTC > 100
	if _, err := svc.Submit(context.Background(), d.ID, f.demandeur.ID); !errors.Is(err, ErrInsufficientBudget) {
		t.Fatalf("expected ErrInsufficientBudget, got %v", err)
	}
	b := reloadBudget(t, db, small.ID)
	if b.MontantEngage != 0 {
		t.Fatalf("availability check must not move money: %+v", b)
	}
}

func TestValidateN1WithoutN2CompletesApproval(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	svc := newDemandeService(db, budget, 5000)
	ctx := context.Background()

	d := brouillonAvecLignes(t, svc, f, &f.budget.ID, 2) // 240 TTC
	if _, err := svc.Submit(ctx, d.ID, f.demandeur.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	d, err := svc.ValidateN1(ctx, d.ID, f.manager.ID)
	if err != nil {
		t.Fatalf("validate n1: %v", err)
	}
	if d.Statut != models.DemandeStatutValideeN2 {
		t.Fatalf("without N2 the approval completes in one step, got %s", d.Statut)
	}
	if d.DateValidationN1 == nil || d.DateValidationN2 == nil {
		t.Fatalf("both validation dates must be stamped")
	}
	b := reloadBudget(t, db, f.budget.ID)
	if b.MontantEngage != 240 {
		t.Fatalf("budget must be engaged on final approval, got %.2f", b.MontantEngage)
	}
}

func TestValidateN2TwoStepFlow(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	svc := newDemandeService(db, budget, 10000)
	ctx := context.Background()

	d := brouillonAvecLignes(t, svc, f, &f.budget.ID, 100) // 12000 TTC
	if _, err := svc.Submit(ctx, d.ID, f.demandeur.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// N2 ne peut pas court-circuiter N1
	if _, err := svc.ValidateN2(ctx, d.ID, f.admin.ID); !errors.Is(err, ErrWorkflow) {
		t.Fatalf("N2 before N1: expected ErrWorkflow, got %v", err)
	}
	// seul le N1 assigné valide
	if _, err := svc.ValidateN1(ctx, d.ID, f.admin.ID); !errors.Is(err, ErrPermission) {
		t.Fatalf("wrong N1: expected ErrPermission, got %v", err)
	}

	d, err := svc.ValidateN1(ctx, d.ID, f.manager.ID)
	if err != nil {
		t.Fatalf("validate n1: %v", err)
	}
	if d.Statut != models.DemandeStatutValideeN1 {
		t.Fatalf("statut: %s", d.Statut)
	}
	b := reloadBudget(t, db, f.budget.ID)
	if b.MontantEngage != 0 {
		t.Fatalf("no engagement before N2, got %.2f", b.MontantEngage)
	}

	d, err = svc.ValidateN2(ctx, d.ID, f.admin.ID)
	if err != nil {
		t.Fatalf("validate n2: %v", err)
	}
	if d.Statut != models.DemandeStatutValideeN2 {
		t.Fatalf("statut: %s", d.Statut)
	}
	b = reloadBudget(t, db, f.budget.ID)
	if b.MontantEngage != 12000 {
		t.Fatalf("engagement after N2: %.2f", b.MontantEngage)
	}
}

func TestValidateN2EngageFailureStillCommitsState(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	svc := newDemandeService(db, budget, 5000)
	ctx := context.Background()

	small := models.Budget{Code: "PETIT", Exercice: f.budget.Exercice, MontantInitial: 500, SeuilAlerte1: 75, SeuilAlerte2: 90}
	if err := db.Create(&small).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	d := brouillonAvecLignes(t, svc, f, &small.ID, 4) // 480 TTC, passe la vérification à la soumission
	if _, err := svc.Submit(ctx, d.ID, f.demandeur.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// le disponible fond entre soumission et validation
	if err := budget.Engage(ctx, small.ID, 300, "DA-AUTRE"); err != nil {
		t.Fatalf("concurrent engage: %v", err)
	}

	d, err := svc.ValidateN1(ctx, d.ID, f.manager.ID)
	if err != nil {
		t.Fatalf("validate n1: %v", err)
	}
	if d.Statut != models.DemandeStatutValideeN2 {
		t.Fatalf("state change must survive a refused engagement, got %s", d.Statut)
	}
	b := reloadBudget(t, db, small.ID)
	if b.MontantEngage != 300 {
		t.Fatalf("refused engagement must not move money: %.2f", b.MontantEngage)
	}
	if n := countHistorique(t, db, models.EntiteDemande, "engage_echoue", models.HistoriqueNiveauWarning); n != 1 {
		t.Fatalf("expected 1 warning entry, got %d", n)
	}
}

func TestValidateN2AsAdminFromSubmitted(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	svc := newDemandeService(db, budget, 10000)
	ctx := context.Background()

	d := brouillonAvecLignes(t, svc, f, &f.budget.ID, 100)
	if _, err := svc.Submit(ctx, d.ID, f.demandeur.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.ValidateN2AsAdmin(ctx, d.ID, f.demandeur.ID); !errors.Is(err, ErrPermission) {
		t.Fatalf("non-admin: expected ErrPermission, got %v", err)
	}

	d, err := svc.ValidateN2AsAdmin(ctx, d.ID, f.admin.ID)
	if err != nil {
		t.Fatalf("admin validate: %v", err)
	}
	if d.Statut != models.DemandeStatutValideeN2 {
		t.Fatalf("statut: %s", d.Statut)
	}
	if d.DateValidationN1 == nil || d.DateValidationN2 == nil {
		t.Fatalf("composite validation must stamp both dates")
	}
	b := reloadBudget(t, db, f.budget.ID)
	if b.MontantEngage != 12000 {
		t.Fatalf("engagement: %.2f", b.MontantEngage)
	}
}

func TestRefuse(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	svc := newDemandeService(db, newBudgetService(db), 5000)
	ctx := context.Background()

	d := brouillonAvecLignes(t, svc, f, nil, 1)
	if _, err := svc.Submit(ctx, d.ID, f.demandeur.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Refuse(ctx, d.ID, f.manager.ID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing motif: expected ErrValidation, got %v", err)
	}
	if _, err := svc.Refuse(ctx, d.ID, f.demandeur.ID, "hors budget"); !errors.Is(err, ErrPermission) {
		t.Fatalf("non-validator: expected ErrPermission, got %v", err)
	}
	d, err := svc.Refuse(ctx, d.ID, f.manager.ID, "hors budget")
	if err != nil {
		t.Fatalf("refuse: %v", err)
	}
	if d.Statut != models.DemandeStatutRefusee || d.Motif != "hors budget" {
		t.Fatalf("statut=%s motif=%q", d.Statut, d.Motif)
	}
}

func TestCancelReleasesEngagedBudget(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	svc := newDemandeService(db, budget, 5000)
	ctx := context.Background()

	d := brouillonAvecLignes(t, svc, f, &f.budget.ID, 2)
	if _, err := svc.Submit(ctx, d.ID, f.demandeur.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.ValidateN1(ctx, d.ID, f.manager.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if b := reloadBudget(t, db, f.budget.ID); b.MontantEngage != 240 {
		t.Fatalf("engagement attendu, got %.2f", b.MontantEngage)
	}

	d, err := svc.Cancel(ctx, d.ID, f.demandeur.ID, "projet abandonné")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if d.Statut != models.DemandeStatutAnnulee {
		t.Fatalf("statut: %s", d.Statut)
	}
	b := reloadBudget(t, db, f.budget.ID)
	if b.MontantEngage != 0 || b.Disponible() != 100000 {
		t.Fatalf("budget must be fully released: %+v", b)
	}

	// terminal : plus aucune transition possible
	if _, err := svc.Cancel(ctx, d.ID, f.demandeur.ID, "encore"); !errors.Is(err, ErrWorkflow) {
		t.Fatalf("cancel terminal: expected ErrWorkflow, got %v", err)
	}
}

func TestZeroTotalDemandeFullLifecycle(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	svc := newDemandeService(db, budget, 5000)
	ctx := context.Background()

	// lignes à prix nul (échantillons) : la demande vit sans toucher le ledger
	d, err := svc.Create(ctx, f.demandeur.ID, &f.budget.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	prix := 0.0
	tva := 0.0
	if _, err := svc.AddLigne(ctx, d.ID, f.demandeur.ID, LigneDemandeInput{
		ArticleID: f.article.ID, Quantite: 5, PrixUnitaire: &prix, TauxTVA: &tva,
	}); err != nil {
		t.Fatalf("add ligne: %v", err)
	}
	if _, err := svc.Submit(ctx, d.ID, f.demandeur.ID); err != nil {
		t.Fatalf("zero-total submit: %v", err)
	}
	d, err = svc.ValidateN1(ctx, d.ID, f.manager.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if d.Statut != models.DemandeStatutValideeN2 {
		t.Fatalf("statut: %s", d.Statut)
	}
	if n := countHistorique(t, db, models.EntiteDemande, "engage_echoue", models.HistoriqueNiveauWarning); n != 0 {
		t.Fatalf("zero-total approval must not record an engage failure, got %d", n)
	}
	if b := reloadBudget(t, db, f.budget.ID); b.MontantEngage != 0 {
		t.Fatalf("no engagement expected: %+v", b)
	}

	d, err = svc.Cancel(ctx, d.ID, f.demandeur.ID, "plus nécessaire")
	if err != nil {
		t.Fatalf("zero-total cancel: %v", err)
	}
	if d.Statut != models.DemandeStatutAnnulee {
		t.Fatalf("statut: %s", d.Statut)
	}
	if b := reloadBudget(t, db, f.budget.ID); b.Disponible() != 100000 {
		t.Fatalf("ledger must stay untouched: %+v", b)
	}
}
