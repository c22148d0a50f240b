package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/crossyield/internal/coordinator"
	"github.com/yourorg/crossyield/internal/model"
)

// parseToken reads the token query parameter. A 64-character hex string is
// decoded as a raw id; anything else is treated as an ASCII label.
func parseToken(r *http.Request) (model.TokenID, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		return model.TokenID{}, errors.New("missing token parameter")
	}
	if len(raw) == 64 {
		decoded, err := hex.DecodeString(raw)
		if err == nil {
			var t model.TokenID
			copy(t[:], decoded)
			return t, nil
		}
	}
	if len(raw) > 32 {
		return model.TokenID{}, fmt.Errorf("token label too long: %d bytes", len(raw))
	}
	return model.NamedTokenID(raw), nil
}

// parseTokenAndSource reads the token and source query parameters.
func parseTokenAndSource(r *http.Request) (model.TokenID, model.Source, error) {
	token, err := parseToken(r)
	if err != nil {
		return model.TokenID{}, 0, err
	}
	switch r.URL.Query().Get("source") {
	case "local":
		return token, model.SourceLocal, nil
	case "remote":
		return token, model.SourceRemote, nil
	default:
		return model.TokenID{}, 0, errors.New("source must be local or remote")
	}
}

// writeJSON serializes a response body with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Error encoding response: %v", err)
	}
}

func isAlreadyPending(err error) bool {
	return errors.Is(err, coordinator.ErrAlreadyPending)
}
