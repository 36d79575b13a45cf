package txprep

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"github.com/emberwallet/ember/internal/accounts"
	"github.com/emberwallet/ember/internal/approval"
	"github.com/emberwallet/ember/internal/chains"
	"github.com/emberwallet/ember/internal/common"
	"github.com/emberwallet/ember/internal/errcode"
)

const (
	// defaultTransferGas covers a plain value transfer.
	defaultTransferGas = uint64(21000)

	// defaultContractGas is the fallback for calls carrying data when the
	// node's estimate is unavailable.
	defaultContractGas = uint64(100000)
)

// defaultLegacyGasPrice is the last-resort fee when the node reports nothing.
var defaultLegacyGasPrice = new(big.Int).Mul(big.NewInt(10), big.NewInt(params.GWei))

// Origin identifies which surface a signing request came from. Only the
// first-party surface may bypass the approval gate; the value is assigned
// in-process by the handler wiring and cannot be supplied over the wire.
type Origin int

const (
	OriginProvider Origin = iota
	OriginInternal
)

// TxRequest is a partially specified transaction. Missing numeric fields are
// resolved by the preparation pipeline before approval. ValueDecimal is the
// human-entered alternative to Value: a decimal amount in the current chain's
// native currency (e.g. "1.5"), ignored when Value is set.
type TxRequest struct {
	From                 gethcommon.Address  `json:"from"`
	To                   *gethcommon.Address `json:"to"`
	Value                *hexutil.Big        `json:"value,omitempty"`
	ValueDecimal         string              `json:"valueDecimal,omitempty"`
	Data                 hexutil.Bytes       `json:"data,omitempty"`
	Gas                  *hexutil.Uint64     `json:"gas,omitempty"`
	GasPrice             *hexutil.Big        `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big        `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big        `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *hexutil.Uint64     `json:"nonce,omitempty"`
}

// txApproval is the approval payload rendered by the consent surface: the
// normalized transaction plus chain context and decimal display values.
type txApproval struct {
	From                 string          `json:"from"`
	To                   string          `json:"to,omitempty"`
	Value                *hexutil.Big    `json:"value"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	ChainID              uint64          `json:"chainId"`
	ChainName            string          `json:"chainName"`
	ValueDecimal         string          `json:"valueDecimal"`
	GasDecimal           string          `json:"gasDecimal"`
}

// Pipeline fills in missing transaction parameters, routes the result
// through the approval broker and hands approved transactions to the signer
// and the chain for broadcast.
type Pipeline struct {
	chains   *chains.Registry
	dial     chains.DialFunc
	broker   *approval.Broker
	accounts *accounts.Registry
	log      *zap.SugaredLogger
}

// NewPipeline creates a pipeline.
func NewPipeline(cr *chains.Registry, dial chains.DialFunc, b *approval.Broker,
	ar *accounts.Registry, log *zap.SugaredLogger) *Pipeline {

	return &Pipeline{chains: cr, dial: dial, broker: b, accounts: ar, log: log}
}

// SendTransaction runs the full preparation pipeline: resolve missing
// gas/fee/nonce (each step independently fallible and defaulted), obtain
// user approval, then sign with the active account and broadcast. A caller
// may supply its own request id via requestID.
func (p *Pipeline) SendTransaction(ctx context.Context, req TxRequest, requestID string) (gethcommon.Hash, error) {
	desc, err := p.chains.Current(ctx)
	if err != nil {
		return gethcommon.Hash{}, err
	}

	if req.Value == nil && req.ValueDecimal != "" {
		amount, err := common.ParseUnits(req.ValueDecimal, desc.NativeCurrency.Decimals)
		if err != nil {
			return gethcommon.Hash{}, fmt.Errorf("failed to parse value %q: %w", req.ValueDecimal, err)
		}
		req.Value = (*hexutil.Big)(amount)
	}

	// A dead node must not block the approval flow; later steps fall back
	// to defaults when client is nil.
	client, err := p.dial(ctx, desc)
	if err != nil {
		p.log.Warnw("chain client unavailable, using defaults", "chainId", desc.ID, "err", err)
		client = nil
	} else {
		defer client.Close()
	}

	active, err := p.accounts.GetActive(ctx, "")
	if err != nil {
		return gethcommon.Hash{}, err
	}
	from := gethcommon.HexToAddress(active.Address)
	if (req.From != gethcommon.Address{}) && req.From != from {
		return gethcommon.Hash{}, fmt.Errorf("from address %s does not match active account %s", req.From.Hex(), active.Address)
	}
	req.From = from

	p.prepare(ctx, client, &req)

	payload, err := json.Marshal(buildApproval(&req, desc))
	if err != nil {
		return gethcommon.Hash{}, fmt.Errorf("failed to marshal approval payload: %w", err)
	}
	id, err := p.broker.CreateWithID(ctx, requestID, approval.KindTransaction, payload)
	if err != nil {
		return gethcommon.Hash{}, err
	}
	defer func() {
		if err := p.broker.Remove(ctx, id); err != nil {
			p.log.Warnw("failed to clean up approval", "id", id, "err", err)
		}
	}()

	result, err := p.broker.Await(ctx, id)
	if err != nil {
		return gethcommon.Hash{}, err
	}
	if !result.Approved {
		return gethcommon.Hash{}, errcode.New(errcode.UserRejected, "transaction rejected by user")
	}

	// The user consented to the payload's From; the active account may have
	// changed while the request was pending, so re-check before signing.
	key, signer, err := p.accounts.ActiveSigningKey(ctx, "")
	if err != nil {
		return gethcommon.Hash{}, err
	}
	if !strings.EqualFold(signer.Address, req.From.Hex()) {
		return gethcommon.Hash{}, fmt.Errorf("active account changed to %s while approval for %s was pending", signer.Address, req.From.Hex())
	}

	signed, err := p.signTx(ctx, client, desc.ID, &req, key)
	if err != nil {
		return gethcommon.Hash{}, err
	}
	if client == nil {
		return gethcommon.Hash{}, fmt.Errorf("chain client unavailable, cannot broadcast")
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return gethcommon.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	p.log.Infow("transaction broadcast", "hash", signed.Hash().Hex(), "chainId", desc.ID)
	return signed.Hash(), nil
}

// prepare resolves the missing numeric fields in place. No step failure
// aborts the pipeline; each falls back independently.
func (p *Pipeline) prepare(ctx context.Context, client chains.Client, req *TxRequest) {
	if req.Value == nil {
		req.Value = (*hexutil.Big)(new(big.Int))
	}
	p.resolveGas(ctx, client, req)
	p.resolveFees(ctx, client, req)
	p.resolveNonce(ctx, client, req)
}

func (p *Pipeline) resolveGas(ctx context.Context, client chains.Client, req *TxRequest) {
	if req.Gas != nil {
		return
	}

	if client != nil {
		estimate, err := client.EstimateGas(ctx, ethereum.CallMsg{
			From:  req.From,
			To:    req.To,
			Value: (*big.Int)(req.Value),
			Data:  req.Data,
		})
		if err == nil {
			gas := hexutil.Uint64(estimate)
			req.Gas = &gas
			return
		}
		p.log.Warnw("gas estimate failed, using default", "err", err)
	}

	fallback := defaultTransferGas
	if len(req.Data) > 0 {
		fallback = defaultContractGas
	}
	gas := hexutil.Uint64(fallback)
	req.Gas = &gas
}

func (p *Pipeline) resolveFees(ctx context.Context, client chains.Client, req *TxRequest) {
	if req.GasPrice != nil || req.MaxFeePerGas != nil || req.MaxPriorityFeePerGas != nil {
		return
	}

	if client != nil {
		fees, err := client.EstimateFeesPerGas(ctx)
		if err == nil {
			// Prefer EIP-1559 fields when the node reports both.
			if fees.MaxFeePerGas != nil {
				req.MaxFeePerGas = (*hexutil.Big)(fees.MaxFeePerGas)
				tip := fees.MaxPriorityFeePerGas
				if tip == nil {
					tip = new(big.Int)
				}
				req.MaxPriorityFeePerGas = (*hexutil.Big)(tip)
				return
			}
			if fees.GasPrice != nil {
				req.GasPrice = (*hexutil.Big)(fees.GasPrice)
				return
			}
		} else {
			p.log.Warnw("fee estimate failed, using default", "err", err)
		}
	}

	req.GasPrice = (*hexutil.Big)(new(big.Int).Set(defaultLegacyGasPrice))
}

func (p *Pipeline) resolveNonce(ctx context.Context, client chains.Client, req *TxRequest) {
	if req.Nonce != nil || client == nil {
		return
	}

	count, err := client.PendingNonceAt(ctx, req.From)
	if err != nil {
		// Tolerated: the broadcasting layer surfaces a missing nonce.
		p.log.Warnw("nonce query failed, leaving unset", "err", err)
		return
	}
	nonce := hexutil.Uint64(count)
	req.Nonce = &nonce
}

// signTx re-normalizes the prepared fields into the signer's integer types
// and signs with the EIP-155/1559 signer for the chain. A nonce left unset
// by the pipeline is retried here; if the node is still unreachable the
// broadcast layer reports the failure.
func (p *Pipeline) signTx(ctx context.Context, client chains.Client, chainID uint64,
	req *TxRequest, key *ecdsa.PrivateKey) (*types.Transaction, error) {

	var nonce uint64
	if req.Nonce != nil {
		nonce = uint64(*req.Nonce)
	} else if client != nil {
		count, err := client.PendingNonceAt(ctx, req.From)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve nonce: %w", err)
		}
		nonce = count
	}

	var gas uint64 = defaultTransferGas
	if req.Gas != nil {
		gas = uint64(*req.Gas)
	}
	value := new(big.Int)
	if req.Value != nil {
		value.Set((*big.Int)(req.Value))
	}
	id := new(big.Int).SetUint64(chainID)

	var txData types.TxData
	if req.MaxFeePerGas != nil {
		tip := new(big.Int)
		if req.MaxPriorityFeePerGas != nil {
			tip.Set((*big.Int)(req.MaxPriorityFeePerGas))
		}
		txData = &types.DynamicFeeTx{
			ChainID:   id,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: (*big.Int)(req.MaxFeePerGas),
			Gas:       gas,
			To:        req.To,
			Value:     value,
			Data:      req.Data,
		}
	} else {
		gasPrice := new(big.Int).Set(defaultLegacyGasPrice)
		if req.GasPrice != nil {
			gasPrice.Set((*big.Int)(req.GasPrice))
		}
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       req.To,
			Value:    value,
			Data:     req.Data,
		}
	}

	signed, err := types.SignNewTx(key, types.LatestSignerForChainID(id), txData)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// buildApproval assembles the consent-surface payload with chain context.
func buildApproval(req *TxRequest, desc chains.Descriptor) txApproval {
	a := txApproval{
		From:                 req.From.Hex(),
		Value:                req.Value,
		Data:                 req.Data,
		GasPrice:             req.GasPrice,
		MaxFeePerGas:         req.MaxFeePerGas,
		MaxPriorityFeePerGas: req.MaxPriorityFeePerGas,
		Nonce:                req.Nonce,
		ChainID:              desc.ID,
		ChainName:            desc.Name,
		ValueDecimal:         common.FormatUnits((*big.Int)(req.Value), desc.NativeCurrency.Decimals),
	}
	if req.To != nil {
		a.To = req.To.Hex()
	}
	if req.Gas != nil {
		a.Gas = *req.Gas
		a.GasDecimal = strconv.FormatUint(uint64(*req.Gas), 10)
	}
	return a
}
