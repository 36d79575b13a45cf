package handler

import (
	"net/http"

	gethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/emberwallet/ember/internal/chains"
	"github.com/emberwallet/ember/internal/common"
	"github.com/emberwallet/ember/internal/model"
)

// ListChains handles GET /chains
// @Summary      List known chains
// @Tags         chains
// @Produce      json
// @Success      200  {array}  chains.Descriptor
// @Router       /chains [get]
func (h *WalletHandler) ListChains(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	list, err := h.chains.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CurrentChain handles GET /chains/current
// @Summary      Current chain descriptor
// @Tags         chains
// @Produce      json
// @Success      200  {object}  chains.Descriptor
// @Router       /chains/current [get]
func (h *WalletHandler) CurrentChain(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	desc, err := h.chains.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// SwitchChain handles POST /chains/switch
// @Summary      Switch the current chain
// @Tags         chains
// @Accept       json
// @Produce      json
// @Param        request  body  model.SwitchChainRequest  true  "Chain id"
// @Success      200
// @Router       /chains/switch [post]
func (h *WalletHandler) SwitchChain(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.SwitchChainRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.chains.Switch(r.Context(), req.ChainID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"chainId": req.ChainID})
}

// AddChain handles POST /chains/add
// @Summary      Add a user-defined chain
// @Tags         chains
// @Accept       json
// @Produce      json
// @Param        request  body  chains.Descriptor  true  "Chain descriptor"
// @Success      200
// @Router       /chains/add [post]
func (h *WalletHandler) AddChain(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var desc chains.Descriptor
	if !decodeBody(w, r, &desc) {
		return
	}
	if err := h.chains.Add(r.Context(), desc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"chainId": desc.ID})
}

// RemoveChain handles POST /chains/remove
// @Summary      Remove a user-defined chain
// @Tags         chains
// @Accept       json
// @Produce      json
// @Param        request  body  model.SwitchChainRequest  true  "Chain id"
// @Success      200
// @Router       /chains/remove [post]
func (h *WalletHandler) RemoveChain(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req model.SwitchChainRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.chains.Remove(r.Context(), req.ChainID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// Balance handles GET /wallet/balance
// @Summary      Active account balance
// @Description  Queries the current chain for the active account's native balance
// @Tags         wallet
// @Produce      json
// @Success      200  {object}  model.BalanceResponse
// @Router       /wallet/balance [get]
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	account, err := h.accounts.GetActive(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	desc, err := h.chains.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	client, err := h.dial(r.Context(), desc)
	if err != nil {
		writeError(w, err)
		return
	}
	defer client.Close()

	balance, err := client.BalanceAt(r.Context(), gethcommon.HexToAddress(account.Address))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.BalanceResponse{
		Address: account.Address,
		Balance: common.FormatUnits(balance, desc.NativeCurrency.Decimals),
		Symbol:  desc.NativeCurrency.Symbol,
	})
}
