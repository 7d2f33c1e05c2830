// Package pdf rend les documents d'achat avec maroto.
package pdf

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/diewo77/go-achats/internal/models"
)

// Renderer implémente services.DocumentRenderer.
type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

// RenderBonCommande produit le PDF d'un bon de commande : en-tête, lignes,
// totaux. Les lignes et le fournisseur doivent être préchargés.
func (r *Renderer) RenderBonCommande(bc *models.BonCommande) ([]byte, error) {
	m := maroto.New()

	m.AddRows(
		text.NewRow(12, fmt.Sprintf("Bon de commande %s", bc.Numero), props.Text{
			Size:  16,
			Style: fontstyle.Bold,
		}),
		text.NewRow(8, fmt.Sprintf("Fournisseur : %s (%s)", bc.Fournisseur.Nom, bc.Fournisseur.Code), props.Text{Size: 10}),
	)
	if bc.DateLivraisonSouhaitee != nil {
		m.AddRows(text.NewRow(6, "Livraison souhaitée : "+bc.DateLivraisonSouhaitee.Format("02/01/2006"), props.Text{Size: 10}))
	}

	m.AddRows(row.New(8).Add(
		text.NewCol(4, "Article", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Quantité", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "PU HT", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "TVA %", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Total TTC", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	))
	for _, l := range bc.Lignes {
		m.AddRows(row.New(6).Add(
			text.NewCol(4, fmt.Sprintf("article %d", l.ArticleID), props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%.2f", l.QuantiteCommandee), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, fmt.Sprintf("%.2f", l.PrixUnitaire), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, fmt.Sprintf("%.1f", l.TauxTVA), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, fmt.Sprintf("%.2f", l.MontantTTC), props.Text{Size: 9, Align: align.Right}),
		))
	}

	m.AddRows(
		row.New(8).Add(
			col.New(8),
			text.NewCol(2, "Total HT", props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
			text.NewCol(2, fmt.Sprintf("%.2f", bc.TotalHT), props.Text{Size: 10, Align: align.Right}),
		),
		row.New(8).Add(
			col.New(8),
			text.NewCol(2, "Total TTC", props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
			text.NewCol(2, fmt.Sprintf("%.2f", bc.TotalTTC), props.Text{Size: 10, Align: align.Right}),
		),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("génération PDF bon de commande %s: %w", bc.Numero, err)
	}
	return doc.GetBytes(), nil
}
