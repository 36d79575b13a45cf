package api

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/emberwallet/ember/internal/handler"
)

// SetupRouter sets up router with handlers
func SetupRouter(h *handler.WalletHandler) http.Handler {
	mux := http.NewServeMux()

	// Swagger UI
	mux.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	// Wallet lifecycle
	mux.HandleFunc("/wallet/initialize", h.Initialize)
	mux.HandleFunc("/wallet/unlock", h.Unlock)
	mux.HandleFunc("/wallet/lock", h.Lock)
	mux.HandleFunc("/wallet/status", h.Status)
	mux.HandleFunc("/wallet/reset", h.Reset)
	mux.HandleFunc("/wallet/export", h.ExportWallet)
	mux.HandleFunc("/wallet/import", h.ImportWallet)

	// Accounts
	mux.HandleFunc("/wallet/accounts", h.ListAccounts)
	mux.HandleFunc("/wallet/accounts/add", h.AddAccount)
	mux.HandleFunc("/wallet/accounts/import", h.ImportAccount)
	mux.HandleFunc("/wallet/accounts/active", h.ActiveAccount)
	mux.HandleFunc("/wallet/private-key", h.PrivateKey)
	mux.HandleFunc("/wallet/receive", h.ReceiveQR)
	mux.HandleFunc("/wallet/balance", h.Balance)

	// Chains
	mux.HandleFunc("/chains", h.ListChains)
	mux.HandleFunc("/chains/current", h.CurrentChain)
	mux.HandleFunc("/chains/switch", h.SwitchChain)
	mux.HandleFunc("/chains/add", h.AddChain)
	mux.HandleFunc("/chains/remove", h.RemoveChain)

	// Transactions and signing
	mux.HandleFunc("/tx/send", h.SendTransaction)
	mux.HandleFunc("/sign/message", h.SignMessage)
	mux.HandleFunc("/sign/typed-data", h.SignTypedData)

	// Consent surface
	mux.HandleFunc("/approvals", h.ListApprovals)
	mux.HandleFunc("/approvals/resolve", h.ResolveApproval)

	return mux
}
