package handler

import (
	"encoding/json"
	"net/http"

	"github.com/emberwallet/ember/internal/errcode"
	"github.com/emberwallet/ember/internal/model"
)

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps a wallet error to an HTTP status and the standard error
// body. Message text is passed through; callers branch on the code.
func writeError(w http.ResponseWriter, err error) {
	code := errcode.CodeOf(err)
	writeJSON(w, statusFor(code), model.ErrorResponse{
		Error: err.Error(),
		Code:  string(code),
	})
}

func statusFor(code errcode.Code) int {
	switch code {
	case errcode.NotInitialized, errcode.AlreadyInitialized, errcode.DuplicateAccount:
		return http.StatusConflict
	case errcode.WalletLocked:
		return http.StatusLocked
	case errcode.IncorrectPassword:
		return http.StatusUnauthorized
	case errcode.InvalidKey, errcode.IndexOutOfRange, errcode.InvalidChainConfig:
		return http.StatusBadRequest
	case errcode.RequestNotFound, errcode.UnsupportedChain:
		return http.StatusNotFound
	case errcode.UserRejected:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

// requireMethod enforces the HTTP method, replying 405 otherwise.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed. Should be "+method, http.StatusMethodNotAllowed)
		return false
	}
	return true
}
