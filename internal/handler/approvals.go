package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/emberwallet/ember/internal/model"
	"github.com/emberwallet/ember/internal/txprep"
)

// SendTransaction handles POST /tx/send
// @Summary      Prepare, approve and broadcast a transaction
// @Description  Fills in missing gas/fee/nonce fields, waits for user approval, then signs with the active account and broadcasts
// @Tags         transactions
// @Accept       json
// @Produce      json
// @Param        request  body      txprep.TxRequest  true  "Partial transaction"
// @Success      200      {object}  model.SendTxResponse
// @Router       /tx/send [post]
func (h *WalletHandler) SendTransaction(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req txprep.TxRequest
	if !decodeBody(w, r, &req) {
		return
	}

	hash, err := h.pipeline.SendTransaction(r.Context(), req, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SendTxResponse{TxHash: hash.Hex()})
}

// SignMessage handles POST /sign/message
// @Summary      Sign a personal message with the active account
// @Tags         signing
// @Accept       json
// @Produce      json
// @Param        request  body      model.SignMessageRequest  true  "Message bytes"
// @Success      200      {object}  model.SignResponse
// @Router       /sign/message [post]
func (h *WalletHandler) SignMessage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.SignMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// This handler is the first-party surface; its own consent gate is the
	// HTTP caller, so skipApproval is honored here and nowhere else.
	sig, err := h.pipeline.SignMessage(r.Context(), txprep.OriginInternal, req.Message, req.SkipApproval)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SignResponse{Signature: sig})
}

// SignTypedData handles POST /sign/typed-data
// @Summary      Sign EIP-712 typed data with the active account
// @Tags         signing
// @Accept       json
// @Produce      json
// @Success      200  {object}  model.SignResponse
// @Router       /sign/typed-data [post]
func (h *WalletHandler) SignTypedData(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		TypedData    apitypes.TypedData `json:"typedData"`
		SkipApproval bool               `json:"skipApproval,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	sig, err := h.pipeline.SignTypedData(r.Context(), txprep.OriginInternal, req.TypedData, req.SkipApproval)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SignResponse{Signature: sig})
}

// ListApprovals handles GET /approvals
// @Summary      List pending approval requests
// @Tags         approvals
// @Produce      json
// @Success      200  {array}  approval.Request
// @Router       /approvals [get]
func (h *WalletHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	list, err := h.broker.ListPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ResolveApproval handles POST /approvals/resolve
// @Summary      Approve or reject a pending request
// @Tags         approvals
// @Accept       json
// @Produce      json
// @Param        request  body  model.ResolveApprovalRequest  true  "Decision"
// @Success      200
// @Router       /approvals/resolve [post]
func (h *WalletHandler) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.ResolveApprovalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.broker.Resolve(r.Context(), req.ID, req.Approved); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}
