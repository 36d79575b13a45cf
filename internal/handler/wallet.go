package handler

import (
	"encoding/hex"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/emberwallet/ember/internal/accounts"
	"github.com/emberwallet/ember/internal/approval"
	"github.com/emberwallet/ember/internal/chains"
	"github.com/emberwallet/ember/internal/model"
	"github.com/emberwallet/ember/internal/txprep"
	"github.com/emberwallet/ember/internal/vault"
)

// WalletHandler serves the first-party wallet-management API.
type WalletHandler struct {
	vault    *vault.Vault
	accounts *accounts.Registry
	chains   *chains.Registry
	broker   *approval.Broker
	pipeline *txprep.Pipeline
	dial     chains.DialFunc
	log      *zap.SugaredLogger
}

// NewWalletHandler creates a handler over the wallet components.
func NewWalletHandler(v *vault.Vault, ar *accounts.Registry, cr *chains.Registry,
	b *approval.Broker, p *txprep.Pipeline, dial chains.DialFunc,
	log *zap.SugaredLogger) *WalletHandler {

	return &WalletHandler{
		vault:    v,
		accounts: ar,
		chains:   cr,
		broker:   b,
		pipeline: p,
		dial:     dial,
		log:      log,
	}
}

// Initialize handles POST /wallet/initialize
// @Summary      Initialize wallet
// @Description  Creates a new wallet encrypted under the password; generates a mnemonic when none supplied
// @Tags         wallet
// @Accept       json
// @Produce      json
// @Param        request  body      model.InitializeRequest  true  "Initialization data"
// @Success      200      {object}  model.InitializeResponse
// @Router       /wallet/initialize [post]
func (h *WalletHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.InitializeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	state, err := h.vault.Initialize(r.Context(), req.Password, req.Mnemonic, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}

	addresses := make([]string, len(state.Accounts))
	for i, acct := range state.Accounts {
		addresses[i] = acct.Address
	}
	writeJSON(w, http.StatusOK, model.InitializeResponse{
		Mnemonic: state.Mnemonic,
		Accounts: addresses,
	})
}

// Unlock handles POST /wallet/unlock
// @Summary      Unlock wallet
// @Tags         wallet
// @Accept       json
// @Produce      json
// @Param        request  body  model.UnlockRequest  true  "Password"
// @Success      200
// @Router       /wallet/unlock [post]
func (h *WalletHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.UnlockRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := h.vault.Unlock(r.Context(), req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unlocked": true})
}

// Lock handles POST /wallet/lock
// @Summary      Lock wallet
// @Tags         wallet
// @Produce      json
// @Success      200
// @Router       /wallet/lock [post]
func (h *WalletHandler) Lock(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.vault.Lock(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"locked": true})
}

// Status handles GET /wallet/status
// @Summary      Wallet status
// @Tags         wallet
// @Produce      json
// @Success      200  {object}  model.StatusResponse
// @Router       /wallet/status [get]
func (h *WalletHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	state, err := h.vault.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.StatusResponse{
		Initialized: state != vault.StateUninitialized,
		Locked:      state == vault.StateLocked,
	})
}

// ListAccounts handles POST /wallet/accounts
// @Summary      List accounts
// @Description  Lists seed and imported accounts; accepts an optional inline password while locked
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request  body      model.PasswordRequest  false  "Optional password"
// @Success      200      {array}   accounts.Account
// @Router       /wallet/accounts [post]
func (h *WalletHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.PasswordRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	list, err := h.accounts.List(r.Context(), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// AddAccount handles POST /wallet/accounts/add
// @Summary      Derive next seed account
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request  body      model.AddAccountRequest  false  "Account name"
// @Success      200      {object}  accounts.Account
// @Router       /wallet/accounts/add [post]
func (h *WalletHandler) AddAccount(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.AddAccountRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	account, err := h.accounts.DeriveNext(r.Context(), req.Password, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ImportAccount handles POST /wallet/accounts/import
// @Summary      Import raw private key
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request  body      model.ImportAccountRequest  true  "Private key"
// @Success      200      {object}  accounts.Account
// @Router       /wallet/accounts/import [post]
func (h *WalletHandler) ImportAccount(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.ImportAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	account, err := h.accounts.ImportRawKey(r.Context(), req.PrivateKey, req.Name, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ActiveAccount handles GET and POST /wallet/accounts/active
// @Summary      Get or set the active account
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request  body      model.SetActiveRequest  false  "Account index (POST)"
// @Success      200      {object}  accounts.Account
// @Router       /wallet/accounts/active [get]
func (h *WalletHandler) ActiveAccount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		account, err := h.accounts.GetActive(r.Context(), "")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)

	case http.MethodPost:
		var req model.SetActiveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := h.accounts.SetActive(r.Context(), req.Index); err != nil {
			writeError(w, err)
			return
		}
		account, err := h.accounts.GetActive(r.Context(), "")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ReceiveQR handles GET /wallet/receive
// @Summary      Receive-address QR code
// @Description  Returns a PNG QR code of the active account address
// @Tags         accounts
// @Produce      png
// @Success      200
// @Router       /wallet/receive [get]
func (h *WalletHandler) ReceiveQR(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	account, err := h.accounts.GetActive(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}

	png, err := qrcode.Encode(account.Address, qrcode.Medium, 256)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ExportWallet handles POST /wallet/export
// @Summary      Export encrypted backup
// @Tags         wallet
// @Accept       json
// @Produce      json
// @Param        request  body  model.PasswordRequest  true  "Password"
// @Success      200
// @Router       /wallet/export [post]
func (h *WalletHandler) ExportWallet(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.PasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	backup, err := h.vault.ExportBackup(r.Context(), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="ember-backup.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(backup)
}

// ImportWallet handles POST /wallet/import
// @Summary      Import encrypted backup
// @Tags         wallet
// @Accept       json
// @Produce      json
// @Param        request  body      model.ImportWalletRequest  true  "Backup and password"
// @Success      200      {object}  vault.BackupInfo
// @Router       /wallet/import [post]
func (h *WalletHandler) ImportWallet(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.ImportWalletRequest
	if !decodeBody(w, r, &req) {
		return
	}

	info, err := h.vault.ImportBackup(r.Context(), req.Backup, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// PrivateKey handles POST /wallet/private-key
// @Summary      Export the active account's private key
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request  body      model.PasswordRequest  false  "Optional password"
// @Success      200      {object}  model.PrivateKeyResponse
// @Router       /wallet/private-key [post]
func (h *WalletHandler) PrivateKey(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.PasswordRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	key, account, err := h.accounts.ActiveSigningKey(r.Context(), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.PrivateKeyResponse{
		Address:    account.Address,
		PrivateKey: "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
	})
}

// Reset handles POST /wallet/reset
// @Summary      Delete all wallet data
// @Tags         wallet
// @Produce      json
// @Success      200
// @Router       /wallet/reset [post]
func (h *WalletHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.vault.DeleteAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}
