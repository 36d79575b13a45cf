package chains

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// FeeEstimate carries the fee data reported by a node. EIP-1559 fields are
// set when the chain supports dynamic fees; GasPrice is the legacy fallback.
type FeeEstimate struct {
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Client is the chain-node collaborator the engine depends on. Every call is
// network I/O and independently fallible.
type Client interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	EstimateFeesPerGas(ctx context.Context) (*FeeEstimate, error)
	PendingNonceAt(ctx context.Context, address common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	BalanceAt(ctx context.Context, address common.Address) (*big.Int, error)
	Close()
}

// DialFunc opens a Client for a chain descriptor. Injected so tests can
// substitute a fake node.
type DialFunc func(ctx context.Context, desc Descriptor) (Client, error)

// Dial connects to the first responsive RPC endpoint of the descriptor.
func Dial(ctx context.Context, desc Descriptor) (Client, error) {
	var lastErr error
	for _, url := range desc.RPCURLs {
		ec, err := ethclient.DialContext(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		return &rpcClient{ec: ec}, nil
	}
	return nil, fmt.Errorf("failed to dial chain %d: %w", desc.ID, lastErr)
}

// rpcClient backs Client with go-ethereum's ethclient.
type rpcClient struct {
	ec *ethclient.Client
}

func (c *rpcClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.ec.EstimateGas(ctx, msg)
}

// EstimateFeesPerGas prefers EIP-1559 fee data when the head block carries a
// base fee, falling back to the legacy gas price otherwise.
func (c *rpcClient) EstimateFeesPerGas(ctx context.Context) (*FeeEstimate, error) {
	header, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head header: %w", err)
	}

	if header.BaseFee != nil {
		tip, err := c.ec.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tip cap: %w", err)
		}
		// maxFee = 2*baseFee + tip leaves headroom for base fee growth
		// over the next few blocks.
		maxFee := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)
		return &FeeEstimate{
			MaxFeePerGas:         maxFee,
			MaxPriorityFeePerGas: tip,
		}, nil
	}

	gasPrice, err := c.ec.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	return &FeeEstimate{GasPrice: gasPrice}, nil
}

func (c *rpcClient) PendingNonceAt(ctx context.Context, address common.Address) (uint64, error) {
	return c.ec.PendingNonceAt(ctx, address)
}

func (c *rpcClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.ec.SendTransaction(ctx, tx)
}

func (c *rpcClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.ec.CallContract(ctx, msg, nil)
}

func (c *rpcClient) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	return c.ec.BalanceAt(ctx, address, nil)
}

func (c *rpcClient) Close() {
	c.ec.Close()
}
