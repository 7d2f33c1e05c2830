package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/diewo77/go-achats/internal/models"
	"gorm.io/gorm"
)

// ReferentielService administre les articles et fournisseurs consommés par
// les demandes et commandes. Pas de suppression physique : un fournisseur se
// désactive, les documents passés continuent de le référencer.
type ReferentielService struct {
	db   *gorm.DB
	hist *HistoriqueService
}

func NewReferentielService(db *gorm.DB, hist *HistoriqueService) *ReferentielService {
	return &ReferentielService{db: db, hist: hist}
}

type ArticleInput struct {
	Reference    string
	Designation  string
	PrixUnitaire float64
	TauxTVA      float64
	Unite        string
}

func (s *ReferentielService) CreateArticle(ctx context.Context, in ArticleInput) (*models.Article, error) {
	if in.Reference == "" || in.Designation == "" {
		return nil, fmt.Errorf("%w: référence et désignation requises", ErrValidation)
	}
	if in.PrixUnitaire < 0 {
		return nil, fmt.Errorf("%w: prix unitaire négatif", ErrValidation)
	}
	if in.TauxTVA < 0 {
		return nil, fmt.Errorf("%w: taux de TVA négatif", ErrValidation)
	}
	a := models.Article{
		Reference:    in.Reference,
		Designation:  in.Designation,
		PrixUnitaire: in.PrixUnitaire,
		TauxTVA:      in.TauxTVA,
		Unite:        in.Unite,
	}
	var existing models.Article
	err := s.db.WithContext(ctx).Where("reference = ?", in.Reference).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("%w: référence %s déjà utilisée", ErrValidation, in.Reference)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, err
	}
	s.hist.Record(s.db.WithContext(ctx), RefArticle(a.ID), "create", nil, "", "", in.Reference)
	return &a, nil
}

// UpdateArticlePrix révise le tarif catalogue; les lignes de documents passés
// gardent le prix figé au moment de leur saisie.
func (s *ReferentielService) UpdateArticlePrix(ctx context.Context, articleID uint, prixUnitaire, tauxTVA float64) (*models.Article, error) {
	if prixUnitaire < 0 || tauxTVA < 0 {
		return nil, fmt.Errorf("%w: prix et TVA doivent être positifs ou nuls", ErrValidation)
	}
	var a models.Article
	if err := s.db.WithContext(ctx).First(&a, articleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: article %d introuvable", ErrValidation, articleID)
		}
		return nil, err
	}
	avant := fmt.Sprintf("%.2f/%.2f%%", a.PrixUnitaire, a.TauxTVA)
	a.PrixUnitaire = prixUnitaire
	a.TauxTVA = tauxTVA
	if err := s.db.WithContext(ctx).Save(&a).Error; err != nil {
		return nil, err
	}
	s.hist.Record(s.db.WithContext(ctx), RefArticle(a.ID), "revision_prix", nil,
		avant, fmt.Sprintf("%.2f/%.2f%%", a.PrixUnitaire, a.TauxTVA), a.Reference)
	return &a, nil
}

func (s *ReferentielService) ListArticles(ctx context.Context) ([]models.Article, error) {
	var articles []models.Article
	err := s.db.WithContext(ctx).Order("reference asc").Find(&articles).Error
	return articles, err
}

type FournisseurInput struct {
	Code      string
	Nom       string
	Email     string
	Telephone string
	Adresse   string
}

func (s *ReferentielService) CreateFournisseur(ctx context.Context, in FournisseurInput) (*models.Fournisseur, error) {
	if in.Code == "" || in.Nom == "" {
		return nil, fmt.Errorf("%w: code et nom requis", ErrValidation)
	}
	f := models.Fournisseur{
		Code:      in.Code,
		Nom:       in.Nom,
		Email:     in.Email,
		Telephone: in.Telephone,
		Adresse:   in.Adresse,
		Actif:     true,
	}
	var existing models.Fournisseur
	err := s.db.WithContext(ctx).Where("code = ?", in.Code).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("%w: code fournisseur %s déjà utilisé", ErrValidation, in.Code)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&f).Error; err != nil {
		return nil, err
	}
	s.hist.Record(s.db.WithContext(ctx), RefFournisseur(f.ID), "create", nil, "", "", in.Code)
	return &f, nil
}

// SetFournisseurActif active ou désactive un fournisseur. Un fournisseur
// inactif ne peut plus recevoir de nouveaux bons de commande.
func (s *ReferentielService) SetFournisseurActif(ctx context.Context, fournisseurID uint, actif bool) (*models.Fournisseur, error) {
	var f models.Fournisseur
	if err := s.db.WithContext(ctx).First(&f, fournisseurID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: fournisseur %d introuvable", ErrValidation, fournisseurID)
		}
		return nil, err
	}
	avant := statutActif(f.Actif)
	f.Actif = actif
	if err := s.db.WithContext(ctx).Save(&f).Error; err != nil {
		return nil, err
	}
	s.hist.Record(s.db.WithContext(ctx), RefFournisseur(f.ID), "changement_activite", nil,
		avant, statutActif(f.Actif), f.Code)
	return &f, nil
}

func statutActif(actif bool) string {
	if actif {
		return "actif"
	}
	return "inactif"
}

func (s *ReferentielService) ListFournisseurs(ctx context.Context, actifsSeuls bool) ([]models.Fournisseur, error) {
	q := s.db.WithContext(ctx).Order("code asc")
	if actifsSeuls {
		q = q.Where("actif = ?", true)
	}
	var fournisseurs []models.Fournisseur
	err := q.Find(&fournisseurs).Error
	return fournisseurs, err
}
