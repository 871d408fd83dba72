package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ourajeenn/MoonOps-V2/internal/repository"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/provision"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeProvisionError maps provisioning failure kinds onto HTTP statuses.
// Host side failures surface as gateway errors because the client request
// itself was well formed.
func writeProvisionError(w http.ResponseWriter, err error) {
	var provErr *provision.Error
	if !errors.As(err, &provErr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch provErr.Kind {
	case provision.KindValidation:
		status = http.StatusBadRequest
	case provision.KindExtraction:
		status = http.StatusUnprocessableEntity
	case provision.KindHostNameConflict:
		status = http.StatusConflict
	case provision.KindHostAuthorization, provision.KindHostTransport, provision.KindHostAPI, provision.KindPublish:
		status = http.StatusBadGateway
	case provision.KindPublishTimeout:
		status = http.StatusGatewayTimeout
	case provision.KindPersistence:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{
		"error": provErr.Error(),
		"kind":  string(provErr.Kind),
	})
}

// writeRepositoryError maps store sentinels onto HTTP statuses.
func writeRepositoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
