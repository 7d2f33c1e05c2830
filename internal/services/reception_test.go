package services

import (
	"context"
	"errors"
	"testing"

	"github.com/diewo77/go-achats/internal/models"
)

// commandeEnvoyee construit la chaîne complète demande → commande envoyée :
// une ligne de 10 unités à 100, TVA 0, soit 1000 TTC commandés au budget.
func commandeEnvoyee(t *testing.T, f *fixture, budget *BudgetService) *models.BonCommande {
	t.Helper()
	ctx := context.Background()
	dsvc := newDemandeService(f.db, budget, 5000)
	d, err := dsvc.Create(ctx, f.demandeur.ID, &f.budget.ID)
	if err != nil {
		t.Fatalf("create demande: %v", err)
	}
	prix := 100.0
	tva := 0.0
	if _, err := dsvc.AddLigne(ctx, d.ID, f.demandeur.ID, LigneDemandeInput{
		ArticleID: f.article.ID, Quantite: 10, PrixUnitaire: &prix, TauxTVA: &tva,
	}); err != nil {
		t.Fatalf("add ligne: %v", err)
	}
	if _, err := dsvc.Submit(ctx, d.ID, f.demandeur.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := dsvc.ValidateN1(ctx, d.ID, f.manager.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	csvc := newCommandeService(f.db, budget, &stubRenderer{}, newMemStore(), &recordingMailer{})
	bc, err := csvc.Create(ctx, f.admin.ID, CreateCommandeInput{
		DemandeID: &d.ID, FournisseurID: f.fournisseur.ID, AcheteurID: f.admin.ID,
	})
	if err != nil {
		t.Fatalf("create commande: %v", err)
	}
	if _, err := csvc.Emit(ctx, bc.ID, f.admin.ID); err != nil {
		t.Fatalf("emit: %v", err)
	}
	bc, err = csvc.SendToSupplier(ctx, bc.ID, f.admin.ID, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	full, err := csvc.Get(ctx, bc.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return full
}

func TestCreateReceptionRequiresReceivableOrder(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	csvc := newCommandeService(db, budget, &stubRenderer{}, newMemStore(), &recordingMailer{})
	rsvc := newReceptionService(db, budget)
	ctx := context.Background()

	bc, err := csvc.Create(ctx, f.admin.ID, CreateCommandeInput{FournisseurID: f.fournisseur.ID, AcheteurID: f.admin.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rsvc.Create(ctx, bc.ID, f.demandeur.ID); !errors.Is(err, ErrWorkflow) {
		t.Fatalf("draft order: expected ErrWorkflow, got %v", err)
	}
}

func TestRecordLigneInvariants(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	bc := commandeEnvoyee(t, f, budget)
	rsvc := newReceptionService(db, budget)
	ctx := context.Background()

	r, err := rsvc.Create(ctx, bc.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ligneID := bc.Lignes[0].ID

	cases := []struct {
		name string
		in   LigneReceptionInput
	}{
		{"recue nulle", LigneReceptionInput{BonCommandeLigneID: ligneID, QuantiteRecue: 0}},
		{"somme incoherente", LigneReceptionInput{BonCommandeLigneID: ligneID, QuantiteRecue: 5, QuantiteAcceptee: 3, QuantiteRefusee: 1}},
		{"refus sans motif", LigneReceptionInput{BonCommandeLigneID: ligneID, QuantiteRecue: 5, QuantiteAcceptee: 4, QuantiteRefusee: 1}},
		{"sur-reception", LigneReceptionInput{BonCommandeLigneID: ligneID, QuantiteRecue: 11, QuantiteAcceptee: 11}},
	}
	for _, c := range cases {
		if _, err := rsvc.RecordLigne(ctx, r.ID, f.demandeur.ID, c.in); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", c.name, err)
		}
	}

	// ligne d'une autre commande
	autre := models.BonCommandeLigne{BonCommandeID: bc.ID + 100, ArticleID: f.article.ID, QuantiteCommandee: 1, PrixUnitaire: 1}
	if err := db.Create(&autre).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := rsvc.RecordLigne(ctx, r.ID, f.demandeur.ID, LigneReceptionInput{
		BonCommandeLigneID: autre.ID, QuantiteRecue: 1, QuantiteAcceptee: 1,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("foreign line: expected ErrValidation, got %v", err)
	}
}

func TestValidatePartialReception(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	bc := commandeEnvoyee(t, f, budget)
	rsvc := newReceptionService(db, budget)
	ctx := context.Background()

	r, err := rsvc.Create(ctx, bc.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rsvc.Validate(ctx, r.ID, f.demandeur.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty reception: expected ErrValidation, got %v", err)
	}

	if _, err := rsvc.RecordLigne(ctx, r.ID, f.demandeur.ID, LigneReceptionInput{
		BonCommandeLigneID: bc.Lignes[0].ID,
		QuantiteRecue:      4, QuantiteAcceptee: 3, QuantiteRefusee: 1,
		Conforme: false, MotifRefus: "emballage endommagé",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	r, err = rsvc.Validate(ctx, r.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if r.Statut != models.ReceptionStatutValidee || r.Conforme {
		t.Fatalf("statut=%s conforme=%t", r.Statut, r.Conforme)
	}
	if r.DateValidation == nil {
		t.Fatalf("validation date must be stamped")
	}

	var ligne models.BonCommandeLigne
	if err := db.First(&ligne, bc.Lignes[0].ID).Error; err != nil {
		t.Fatalf("reload ligne: %v", err)
	}
	if ligne.QuantiteRecue != 3 {
		t.Fatalf("order line must carry the accepted cumul, got %.2f", ligne.QuantiteRecue)
	}
	var commande models.BonCommande
	if err := db.First(&commande, bc.ID).Error; err != nil {
		t.Fatalf("reload commande: %v", err)
	}
	if commande.Statut != models.CommandeStatutRecuePartielle {
		t.Fatalf("statut commande: %s", commande.Statut)
	}

	// consommation = 3 × 100, TVA 0
	b := reloadBudget(t, db, f.budget.ID)
	if b.MontantConsomme != 300 || b.MontantCommande != 700 {
		t.Fatalf("ledger after partial receipt: %+v", b)
	}

	// les refus produisent un bon de retour
	var retours []models.BonRetour
	if err := db.Preload("Lignes").Find(&retours).Error; err != nil {
		t.Fatalf("retours: %v", err)
	}
	if len(retours) != 1 || len(retours[0].Lignes) != 1 || retours[0].Lignes[0].Quantite != 1 {
		t.Fatalf("expected one bon de retour with the refused quantity: %+v", retours)
	}
}

func TestValidateCompletesOrder(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	bc := commandeEnvoyee(t, f, budget)
	rsvc := newReceptionService(db, budget)
	ctx := context.Background()

	premiere, err := rsvc.Create(ctx, bc.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rsvc.RecordLigne(ctx, premiere.ID, f.demandeur.ID, LigneReceptionInput{
		BonCommandeLigneID: bc.Lignes[0].ID, QuantiteRecue: 6, QuantiteAcceptee: 6, Conforme: true,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := rsvc.Validate(ctx, premiere.ID, f.demandeur.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	seconde, err := rsvc.Create(ctx, bc.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// le restant à recevoir est 4 : 5 doit être refusé
	if _, err := rsvc.RecordLigne(ctx, seconde.ID, f.demandeur.ID, LigneReceptionInput{
		BonCommandeLigneID: bc.Lignes[0].ID, QuantiteRecue: 5, QuantiteAcceptee: 5, Conforme: true,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("over-receipt across receptions: expected ErrValidation, got %v", err)
	}
	if _, err := rsvc.RecordLigne(ctx, seconde.ID, f.demandeur.ID, LigneReceptionInput{
		BonCommandeLigneID: bc.Lignes[0].ID, QuantiteRecue: 4, QuantiteAcceptee: 4, Conforme: true,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := rsvc.Validate(ctx, seconde.ID, f.demandeur.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var commande models.BonCommande
	if err := db.First(&commande, bc.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if commande.Statut != models.CommandeStatutRecueComplete {
		t.Fatalf("statut: %s", commande.Statut)
	}
	b := reloadBudget(t, db, f.budget.ID)
	if b.MontantConsomme != 1000 || b.MontantCommande != 0 {
		t.Fatalf("ledger after full receipt: %+v", b)
	}
}

func TestCancelValidatedReceptionRoundTrip(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	bc := commandeEnvoyee(t, f, budget)
	rsvc := newReceptionService(db, budget)
	ctx := context.Background()

	r, err := rsvc.Create(ctx, bc.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rsvc.RecordLigne(ctx, r.ID, f.demandeur.ID, LigneReceptionInput{
		BonCommandeLigneID: bc.Lignes[0].ID, QuantiteRecue: 4, QuantiteAcceptee: 4, Conforme: true,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := rsvc.Validate(ctx, r.ID, f.demandeur.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := rsvc.Cancel(ctx, r.ID, f.demandeur.ID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing motif: expected ErrValidation, got %v", err)
	}
	r, err = rsvc.Cancel(ctx, r.ID, f.demandeur.ID, "erreur de saisie")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if r.Statut != models.ReceptionStatutAnnulee {
		t.Fatalf("statut: %s", r.Statut)
	}

	// la commande et le ledger retrouvent leur état d'avant validation
	var ligne models.BonCommandeLigne
	if err := db.First(&ligne, bc.Lignes[0].ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if ligne.QuantiteRecue != 0 {
		t.Fatalf("cumul must be recomputed without the cancelled receipt, got %.2f", ligne.QuantiteRecue)
	}
	var commande models.BonCommande
	if err := db.First(&commande, bc.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if commande.Statut != models.CommandeStatutConfirmee {
		t.Fatalf("order must fall back to confirmed, got %s", commande.Statut)
	}
	b := reloadBudget(t, db, f.budget.ID)
	if b.MontantConsomme != 0 || b.MontantCommande != 1000 {
		t.Fatalf("ledger round-trip: %+v", b)
	}

	if _, err := rsvc.Cancel(ctx, r.ID, f.demandeur.ID, "encore"); !errors.Is(err, ErrWorkflow) {
		t.Fatalf("double cancel: expected ErrWorkflow, got %v", err)
	}
}

func TestRefusedQuantitiesCanBeRedelivered(t *testing.T) {
	db := setupTestDB(t, t.Name())
	f := seedFixture(t, db)
	budget := newBudgetService(db)
	bc := commandeEnvoyee(t, f, budget)
	rsvc := newReceptionService(db, budget)
	ctx := context.Background()

	// livraison intégrale avec un refus : la pièce part en retour
	premiere, err := rsvc.Create(ctx, bc.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rsvc.RecordLigne(ctx, premiere.ID, f.demandeur.ID, LigneReceptionInput{
		BonCommandeLigneID: bc.Lignes[0].ID,
		QuantiteRecue:      10, QuantiteAcceptee: 9, QuantiteRefusee: 1,
		Conforme: false, MotifRefus: "pièce défectueuse",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := rsvc.Validate(ctx, premiere.ID, f.demandeur.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	var commande models.BonCommande
	if err := db.First(&commande, bc.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if commande.Statut != models.CommandeStatutRecuePartielle {
		t.Fatalf("statut après refus: %s", commande.Statut)
	}

	// la livraison de remplacement de la pièce refusée solde la ligne
	seconde, err := rsvc.Create(ctx, bc.ID, f.demandeur.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rsvc.RecordLigne(ctx, seconde.ID, f.demandeur.ID, LigneReceptionInput{
		BonCommandeLigneID: bc.Lignes[0].ID, QuantiteRecue: 1, QuantiteAcceptee: 1, Conforme: true,
	}); err != nil {
		t.Fatalf("redelivery must be accepted: %v", err)
	}
	if _, err := rsvc.Validate(ctx, seconde.ID, f.demandeur.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := db.First(&commande, bc.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if commande.Statut != models.CommandeStatutRecueComplete {
		t.Fatalf("replacement delivery must complete the order, got %s", commande.Statut)
	}
	var ligne models.BonCommandeLigne
	if err := db.First(&ligne, bc.Lignes[0].ID).Error; err != nil {
		t.Fatalf("reload ligne: %v", err)
	}
	if ligne.QuantiteRecue != 10 {
		t.Fatalf("cumul accepté: %.2f", ligne.QuantiteRecue)
	}
	b := reloadBudget(t, db, f.budget.ID)
	if b.MontantConsomme != 1000 || b.MontantCommande != 0 {
		t.Fatalf("ledger after redelivery: %+v", b)
	}
}
