package model

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrorResponse is the consistent JSON structure for all API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// InitializeRequest represents request for POST /wallet/initialize
type InitializeRequest struct {
	Password string `json:"password" binding:"required"`
	Mnemonic string `json:"mnemonic,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

// InitializeResponse represents response for POST /wallet/initialize
type InitializeResponse struct {
	Mnemonic string   `json:"mnemonic"`
	Accounts []string `json:"accounts"`
}

// UnlockRequest represents request for POST /wallet/unlock
type UnlockRequest struct {
	Password string `json:"password" binding:"required"`
}

// StatusResponse represents response for GET /wallet/status
type StatusResponse struct {
	Initialized bool `json:"initialized"`
	Locked      bool `json:"locked"`
}

// PasswordRequest is the shared body for operations taking an optional
// inline password (empty means "use the unlocked session").
type PasswordRequest struct {
	Password string `json:"password,omitempty"`
}

// AddAccountRequest represents request for POST /wallet/accounts/add
type AddAccountRequest struct {
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`
}

// ImportAccountRequest represents request for POST /wallet/accounts/import
type ImportAccountRequest struct {
	PrivateKey string `json:"privateKey" binding:"required"`
	Name       string `json:"name,omitempty"`
	Password   string `json:"password,omitempty"`
}

// SetActiveRequest represents request for POST /wallet/accounts/active
type SetActiveRequest struct {
	Index int `json:"index"`
}

// ImportWalletRequest represents request for POST /wallet/import
type ImportWalletRequest struct {
	Backup   json.RawMessage `json:"backup" binding:"required"`
	Password string          `json:"password" binding:"required"`
}

// PrivateKeyResponse represents response for POST /wallet/private-key
type PrivateKeyResponse struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

// BalanceResponse represents response for GET /wallet/balance
type BalanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Symbol  string `json:"symbol"`
}

// SendTxResponse represents response for POST /tx/send
type SendTxResponse struct {
	TxHash string `json:"txHash"`
}

// SignMessageRequest represents request for POST /sign/message
type SignMessageRequest struct {
	Message      hexutil.Bytes `json:"message" binding:"required"`
	SkipApproval bool          `json:"skipApproval,omitempty"`
}

// SignResponse represents response for POST /sign/...
type SignResponse struct {
	Signature hexutil.Bytes `json:"signature"`
}

// ResolveApprovalRequest represents request for POST /approvals/resolve
type ResolveApprovalRequest struct {
	ID       string `json:"id" binding:"required"`
	Approved bool   `json:"approved"`
}

// SwitchChainRequest represents request for POST /chains/switch and
// /chains/remove
type SwitchChainRequest struct {
	ChainID uint64 `json:"chainId" binding:"required"`
}
