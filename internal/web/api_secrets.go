package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mtzanidakis/relay/internal/store"
	"github.com/mtzanidakis/relay/internal/vault"
)

// Secret values are write-only over HTTP; listing returns metadata.

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault is not configured", http.StatusServiceUnavailable)
		return
	}
	secrets, err := s.secrets.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if secrets == nil {
		secrets = []store.Secret{}
	}
	jsonResponse(w, secrets)
}

func (s *Server) putSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault is not configured", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Value == "" {
		jsonError(w, "value is required", http.StatusBadRequest)
		return
	}
	name := r.PathValue("name")
	if err := s.secrets.Set(name, body.Description, body.Value); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok", "name": name})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault is not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.secrets.Delete(r.PathValue("name")); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, vault.ErrSecretNotFound) {
			code = http.StatusNotFound
		}
		jsonError(w, err.Error(), code)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}
