package services

import "errors"

// Taxonomie d'erreurs du cœur workflow. Les handlers les traduisent en
// statuts HTTP via errors.Is; les services les enrichissent avec %w.
var (
	// ErrValidation : donnée d'entrée malformée ou incohérente (corrigeable par l'utilisateur).
	ErrValidation = errors.New("validation_error")
	// ErrWorkflow : transition d'état illégale.
	ErrWorkflow = errors.New("workflow_error")
	// ErrPermission : l'appelant n'a pas le rôle ou l'assignation requis.
	ErrPermission = errors.New("permission_error")
	// ErrInsufficientBudget : garde du ledger, montant > disponible.
	ErrInsufficientBudget = errors.New("insufficient_budget")
	// ErrDocumentGeneration : échec du rendu de document (collaborateur externe).
	ErrDocumentGeneration = errors.New("document_generation_error")
	// ErrDeliverySend : échec d'envoi de courrier (collaborateur externe).
	ErrDeliverySend = errors.New("delivery_send_error")
)
