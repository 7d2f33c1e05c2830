package models

import "testing"

func TestDemandeLigneCalculeMontants(t *testing.T) {
	cases := []struct {
		name     string
		quantite float64
		prix     float64
		tva      float64
		wantHT   float64
		wantTTC  float64
	}{
		{"tva standard", 2, 100, 20, 200, 240},
		{"tva nulle", 3, 10, 0, 30, 30},
		{"quantite fractionnaire", 1.5, 40, 10, 60, 66},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l := DemandeLigne{Quantite: c.quantite, PrixUnitaire: c.prix, TauxTVA: c.tva}
			l.CalculeMontants()
			if l.MontantHT != c.wantHT || l.MontantTTC != c.wantTTC {
				t.Fatalf("HT=%.2f TTC=%.2f, want %.2f/%.2f", l.MontantHT, l.MontantTTC, c.wantHT, c.wantTTC)
			}
		})
	}
}

func TestBudgetDisponible(t *testing.T) {
	b := Budget{MontantInitial: 1000, MontantEngage: 100, MontantCommande: 200, MontantConsomme: 300}
	if d := b.Disponible(); d != 400 {
		t.Fatalf("disponible: %.2f", d)
	}
	if taux := b.TauxConsommation(); taux != 60 {
		t.Fatalf("taux: %.2f", taux)
	}
	// un dépassement rend le disponible négatif, sans écrêtage
	b.MontantConsomme = 800
	if d := b.Disponible(); d != -100 {
		t.Fatalf("overrun must go negative: %.2f", d)
	}
}

func TestBonCommandeLigneEstSoldee(t *testing.T) {
	l := BonCommandeLigne{QuantiteCommandee: 5, QuantiteRecue: 4}
	if l.EstSoldee() {
		t.Fatalf("4/5 must not be settled")
	}
	l.QuantiteRecue = 5
	if !l.EstSoldee() {
		t.Fatalf("5/5 must be settled")
	}
}

func TestReceptionLigneMontantAccepte(t *testing.T) {
	l := ReceptionLigne{
		QuantiteAcceptee: 3,
		BonCommandeLigne: BonCommandeLigne{PrixUnitaire: 100, TauxTVA: 20},
	}
	if m := l.MontantAccepte(); m != 360 {
		t.Fatalf("montant accepté: %.2f", m)
	}
}

func TestDemandeEstTerminale(t *testing.T) {
	for statut, want := range map[string]bool{
		DemandeStatutBrouillon: false,
		DemandeStatutSoumise:   false,
		DemandeStatutValideeN2: false,
		DemandeStatutConvertie: true,
		DemandeStatutRefusee:   true,
		DemandeStatutAnnulee:   true,
	} {
		d := Demande{Statut: statut}
		if d.EstTerminale() != want {
			t.Fatalf("%s: terminale=%t, want %t", statut, d.EstTerminale(), want)
		}
	}
}

func TestArticlePrixTTC(t *testing.T) {
	a := Article{PrixUnitaire: 50, TauxTVA: 20}
	if p := a.PrixTTC(); p != 60 {
		t.Fatalf("prix TTC: %.2f", p)
	}
}
