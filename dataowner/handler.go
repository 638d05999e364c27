package dataowner

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/tinfoilsh/e2e-delegation/protocol"
)

// IsNotFound reports whether err is a directory miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a stale-revision rejection.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func sendError(w http.ResponseWriter, err error, text string, status int) {
	log.Debugf("directory handler error: %s: %v", text, err)
	http.Error(w, text, status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", protocol.JSONMediaType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to write directory response: %v", err)
	}
}

func statusFor(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NewHandler serves dir over the JSON routes HTTPDirectory speaks.
func NewHandler(dir Directory) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+protocol.DataOwnerPath+"{id}", func(w http.ResponseWriter, r *http.Request) {
		owner, err := dir.GetDataOwner(r.Context(), r.PathValue("id"))
		if err != nil {
			sendError(w, err, "failed to get data owner", statusFor(err))
			return
		}
		writeJSON(w, owner)
	})

	mux.HandleFunc("GET "+protocol.DataOwnerPath+"{id}"+protocol.ExchangeKeysSuffix, func(w http.ResponseWriter, r *http.Request) {
		keys, err := dir.GetExchangeKeysForDelegate(r.Context(), r.PathValue("id"))
		if err != nil {
			sendError(w, err, "failed to get exchange keys", statusFor(err))
			return
		}
		writeJSON(w, keys)
	})

	mux.HandleFunc("PUT "+protocol.DataOwnerPath+"{id}", func(w http.ResponseWriter, r *http.Request) {
		var owner DataOwner
		if err := json.NewDecoder(r.Body).Decode(&owner); err != nil {
			sendError(w, err, "invalid data owner", http.StatusBadRequest)
			return
		}
		if owner.ID != r.PathValue("id") {
			sendError(w, nil, "data owner id does not match path", http.StatusBadRequest)
			return
		}
		saved, err := dir.UpdateDataOwner(r.Context(), &owner)
		if err != nil {
			sendError(w, err, "failed to update data owner", statusFor(err))
			return
		}
		writeJSON(w, saved)
	})

	return mux
}
