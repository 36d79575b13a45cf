package txprep

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	gethaccounts "github.com/ethereum/go-ethereum/accounts"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emberwallet/ember/internal/accounts"
	"github.com/emberwallet/ember/internal/approval"
	"github.com/emberwallet/ember/internal/chains"
	"github.com/emberwallet/ember/internal/errcode"
	"github.com/emberwallet/ember/internal/events"
	"github.com/emberwallet/ember/internal/notify"
	"github.com/emberwallet/ember/internal/store"
	"github.com/emberwallet/ember/internal/vault"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testAddress  = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

// fakeClient is a scriptable in-memory chain node.
type fakeClient struct {
	mu sync.Mutex

	gas      uint64
	gasErr   error
	fees     *chains.FeeEstimate
	feesErr  error
	nonce    uint64
	nonceErr error
	sendErr  error
	sent     []*types.Transaction
}

func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.gas, f.gasErr
}

func (f *fakeClient) EstimateFeesPerGas(context.Context) (*chains.FeeEstimate, error) {
	return f.fees, f.feesErr
}

func (f *fakeClient) PendingNonceAt(context.Context, gethcommon.Address) (uint64, error) {
	return f.nonce, f.nonceErr
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) BalanceAt(context.Context, gethcommon.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeClient) Close() {}

func (f *fakeClient) sentTxs() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

// newTestPipeline wires a pipeline over an in-memory stack. A nil client
// simulates an unreachable node.
func newTestPipeline(t *testing.T, client chains.Client) (*Pipeline, *approval.Broker, *accounts.Registry) {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop().Sugar()
	mem := store.NewMemStore()
	hub := events.NewHub(log)

	v := vault.New(mem, hub, log, vault.WithKDFParams(vault.KDFParams{N: 16, R: 8, P: 1, KeyLen: 32}))
	_, err := v.Initialize(ctx, "pw", testMnemonic, false)
	require.NoError(t, err)

	ar := accounts.NewRegistry(v, mem, hub, log)
	cr := chains.NewRegistry(mem, hub, log)
	broker := approval.NewBroker(mem, notify.Noop{}, log, approval.WithPollInterval(10*time.Millisecond))
	dial := func(context.Context, chains.Descriptor) (chains.Client, error) {
		if client == nil {
			return nil, errors.New("node unreachable")
		}
		return client, nil
	}
	return NewPipeline(cr, dial, broker, ar, log), broker, ar
}

// approveNext concurrently resolves the next pending request.
func approveNext(t *testing.T, b *approval.Broker, approved bool) {
	t.Helper()
	go func() {
		deadline := time.After(5 * time.Second)
		for {
			pending, err := b.ListPending(context.Background())
			if err == nil && len(pending) > 0 {
				_ = b.Resolve(context.Background(), pending[0].ID, approved)
				return
			}
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()
}

func TestSendTransactionApproved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &fakeClient{
		gas: 30000,
		fees: &chains.FeeEstimate{
			MaxFeePerGas:         big.NewInt(40_000_000_000),
			MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		},
		nonce: 7,
	}
	p, b, _ := newTestPipeline(t, client)
	approveNext(t, b, true)

	to := gethcommon.HexToAddress("0x000000000000000000000000000000000000dEaD")
	hash, err := p.SendTransaction(ctx, TxRequest{
		To:    &to,
		Value: (*hexutil.Big)(big.NewInt(1_000_000_000_000_000_000)),
	}, "")
	require.NoError(t, err)
	require.NotEqual(t, gethcommon.Hash{}, hash)

	sent := client.sentTxs()
	require.Len(t, sent, 1)
	tx := sent[0]
	require.Equal(t, hash, tx.Hash())
	require.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(30000), tx.Gas())
	require.Equal(t, big.NewInt(40_000_000_000), tx.GasFeeCap())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	require.Equal(t, testAddress, sender.Hex())

	// The approval cycle left nothing behind.
	pending, err := b.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSendTransactionRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &fakeClient{gas: 21000, fees: &chains.FeeEstimate{GasPrice: big.NewInt(1)}}
	p, b, _ := newTestPipeline(t, client)
	approveNext(t, b, false)

	to := gethcommon.HexToAddress("0x000000000000000000000000000000000000dEaD")
	_, err := p.SendTransaction(ctx, TxRequest{To: &to}, "rejected-tx")
	require.True(t, errcode.Has(err, errcode.UserRejected))
	require.Empty(t, client.sentTxs())

	pending, err := b.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSendTransactionFromMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, _, _ := newTestPipeline(t, &fakeClient{})

	to := gethcommon.HexToAddress("0x000000000000000000000000000000000000dEaD")
	_, err := p.SendTransaction(ctx, TxRequest{
		From: gethcommon.HexToAddress("0x1111111111111111111111111111111111111111"),
		To:   &to,
	}, "")
	require.ErrorContains(t, err, "does not match active account")
}

func TestPrepareFallsBackWhenNodeFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &fakeClient{
		gasErr:   errors.New("estimate failed"),
		feesErr:  errors.New("fees failed"),
		nonceErr: errors.New("nonce failed"),
	}
	p, _, _ := newTestPipeline(t, client)

	req := TxRequest{From: gethcommon.HexToAddress(testAddress)}
	p.prepare(ctx, client, &req)
	require.Equal(t, hexutil.Uint64(21000), *req.Gas)
	require.Equal(t, defaultLegacyGasPrice, (*big.Int)(req.GasPrice))
	require.Nil(t, req.Nonce)

	// Calls carrying data get the larger default.
	withData := TxRequest{From: gethcommon.HexToAddress(testAddress), Data: hexutil.Bytes{0x01}}
	p.prepare(ctx, client, &withData)
	require.Equal(t, hexutil.Uint64(100000), *withData.Gas)
}

func TestPrepareToleratesNilClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, _, _ := newTestPipeline(t, nil)

	req := TxRequest{From: gethcommon.HexToAddress(testAddress)}
	p.prepare(ctx, nil, &req)
	require.Equal(t, hexutil.Uint64(21000), *req.Gas)
	require.NotNil(t, req.GasPrice)
	require.Nil(t, req.Nonce)
}

func TestPrepareKeepsCallerFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &fakeClient{gas: 55555, fees: &chains.FeeEstimate{GasPrice: big.NewInt(9)}, nonce: 3}
	p, _, _ := newTestPipeline(t, client)

	gas := hexutil.Uint64(60000)
	nonce := hexutil.Uint64(12)
	req := TxRequest{
		From:     gethcommon.HexToAddress(testAddress),
		Gas:      &gas,
		GasPrice: (*hexutil.Big)(big.NewInt(777)),
		Nonce:    &nonce,
	}
	p.prepare(ctx, client, &req)
	require.Equal(t, hexutil.Uint64(60000), *req.Gas)
	require.Equal(t, big.NewInt(777), (*big.Int)(req.GasPrice))
	require.Nil(t, req.MaxFeePerGas)
	require.Equal(t, hexutil.Uint64(12), *req.Nonce)
}

func TestSignMessageWithApproval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, b, _ := newTestPipeline(t, nil)
	approveNext(t, b, true)

	message := hexutil.Bytes("hello ember")
	sig, err := p.SignMessage(ctx, OriginProvider, message, false)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	// Recover and check the signer.
	recovered := append(hexutil.Bytes(nil), sig...)
	recovered[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(gethaccounts.TextHash(message), recovered)
	require.NoError(t, err)
	require.Equal(t, testAddress, crypto.PubkeyToAddress(*pub).Hex())
}

func TestSignMessageRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, b, _ := newTestPipeline(t, nil)
	approveNext(t, b, false)

	_, err := p.SignMessage(ctx, OriginProvider, hexutil.Bytes("nope"), false)
	require.True(t, errcode.Has(err, errcode.UserRejected))
}

func TestSignMessageSkipApprovalGating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, b, _ := newTestPipeline(t, nil)

	// The first-party surface may bypass; nothing pends.
	sig, err := p.SignMessage(ctx, OriginInternal, hexutil.Bytes("internal"), true)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	pending, err := b.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	// The provider surface may not.
	_, err = p.SignMessage(ctx, OriginProvider, hexutil.Bytes("provider"), true)
	require.ErrorContains(t, err, "approval bypass is not permitted")
	pending, err = b.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

// switchActiveThenApprove imports a second key, activates it, and only then
// approves the pending request, emulating a user changing accounts while the
// consent prompt is open.
func switchActiveThenApprove(t *testing.T, b *approval.Broker, ar *accounts.Registry) {
	t.Helper()
	go func() {
		ctx := context.Background()
		deadline := time.After(5 * time.Second)
		for {
			pending, err := b.ListPending(ctx)
			if err == nil && len(pending) > 0 {
				key, err := crypto.GenerateKey()
				if err == nil {
					raw := hex.EncodeToString(crypto.FromECDSA(key))
					if _, err := ar.ImportRawKey(ctx, raw, "latecomer", ""); err == nil {
						_ = ar.SetActive(ctx, 1)
					}
				}
				_ = b.Resolve(ctx, pending[0].ID, true)
				return
			}
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()
}

func TestSendTransactionRefusesActiveSwitchDuringConsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &fakeClient{gas: 21000, fees: &chains.FeeEstimate{GasPrice: big.NewInt(1)}}
	p, b, ar := newTestPipeline(t, client)
	switchActiveThenApprove(t, b, ar)

	to := gethcommon.HexToAddress("0x000000000000000000000000000000000000dEaD")
	_, err := p.SendTransaction(ctx, TxRequest{To: &to}, "")
	require.ErrorContains(t, err, "active account changed")
	require.Empty(t, client.sentTxs())
}

func TestSignMessageRefusesActiveSwitchDuringConsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, b, ar := newTestPipeline(t, nil)
	switchActiveThenApprove(t, b, ar)

	_, err := p.SignMessage(ctx, OriginProvider, hexutil.Bytes("hello"), false)
	require.ErrorContains(t, err, "active account changed")
}

func TestSendTransactionParsesDecimalValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &fakeClient{gas: 21000, fees: &chains.FeeEstimate{GasPrice: big.NewInt(1)}}
	p, b, _ := newTestPipeline(t, client)
	approveNext(t, b, true)

	to := gethcommon.HexToAddress("0x000000000000000000000000000000000000dEaD")
	_, err := p.SendTransaction(ctx, TxRequest{To: &to, ValueDecimal: "1.5"}, "")
	require.NoError(t, err)

	sent := client.sentTxs()
	require.Len(t, sent, 1)
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	require.Equal(t, want, sent[0].Value())
}

func TestSendTransactionRejectsMalformedDecimalValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := &fakeClient{}
	p, b, _ := newTestPipeline(t, client)

	to := gethcommon.HexToAddress("0x000000000000000000000000000000000000dEaD")
	_, err := p.SendTransaction(ctx, TxRequest{To: &to, ValueDecimal: "one point five"}, "")
	require.ErrorContains(t, err, "failed to parse value")
	require.Empty(t, client.sentTxs())

	pending, err := b.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}
