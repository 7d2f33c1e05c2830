package handlers

import (
	"errors"
	"net/http"

	"github.com/diewo77/go-achats/internal/httpx"
	"github.com/diewo77/go-achats/internal/services"
)

// writeServiceError traduit la taxonomie d'erreurs du cœur en statuts HTTP.
// Les erreurs budget/document/envoi sont des échecs opérationnels rejouables.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, services.ErrWorkflow):
		httpx.JSONError(w, http.StatusConflict, "workflow_error", err.Error())
	case errors.Is(err, services.ErrPermission):
		httpx.JSONError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, services.ErrInsufficientBudget):
		httpx.JSONError(w, http.StatusUnprocessableEntity, "insufficient_budget", err.Error())
	case errors.Is(err, services.ErrDocumentGeneration):
		httpx.JSONError(w, http.StatusBadGateway, "document_generation_failed", err.Error())
	case errors.Is(err, services.ErrDeliverySend):
		httpx.JSONError(w, http.StatusBadGateway, "delivery_send_failed", err.Error())
	default:
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
