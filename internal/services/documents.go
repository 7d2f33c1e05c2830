package services

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/diewo77/go-achats/internal/models"
	"github.com/google/uuid"
)

// DocumentRenderer produit l'artefact (PDF) d'un bon de commande au moment
// de son émission. Implémenté par internal/pdf; les tests injectent un stub.
type DocumentRenderer interface {
	RenderBonCommande(bc *models.BonCommande) ([]byte, error)
}

// ArtifactStore range les artefacts générés et rend une référence stable,
// stockée sur le bon de commande.
type ArtifactStore interface {
	Put(name string, data []byte) (string, error)
	Get(ref string) ([]byte, error)
}

// DiskArtifactStore écrit les artefacts dans un répertoire local.
type DiskArtifactStore struct {
	dir string
}

func NewDiskArtifactStore(dir string) (*DiskArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("création répertoire artefacts: %w", err)
	}
	return &DiskArtifactStore{dir: dir}, nil
}

func (s *DiskArtifactStore) Put(name string, data []byte) (string, error) {
	ref := fmt.Sprintf("%s-%s.pdf", name, uuid.New().String())
	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0o644); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *DiskArtifactStore) Get(ref string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, filepath.Base(ref)))
}
