package vault

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emberwallet/ember/internal/errcode"
	"github.com/emberwallet/ember/internal/events"
	"github.com/emberwallet/ember/internal/store"
)

const testPassword = "p@ss"

func newTestVault(t *testing.T) (*Vault, *store.MemStore) {
	t.Helper()
	log := zap.NewNop().Sugar()
	mem := store.NewMemStore()
	return New(mem, events.NewHub(log), log, WithKDFParams(testKDFParams())), mem
}

// recorder captures emitted events.
type recorder struct {
	accounts [][]string
	chains   []string
}

func (r *recorder) AccountsChanged(addresses []string) { r.accounts = append(r.accounts, addresses) }
func (r *recorder) ChainChanged(id string)             { r.chains = append(r.chains, id) }

func TestInitializeGeneratesWallet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, _ := newTestVault(t)

	state, err := v.Initialize(ctx, testPassword, "", false)
	require.NoError(t, err)
	require.Len(t, strings.Fields(state.Mnemonic), 12)
	require.Equal(t, uint32(1), state.AccountCount)
	require.Len(t, state.Accounts, 1)
	require.Equal(t, uint32(0), state.Accounts[0].DerivationIndex)

	status, err := v.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StateUnlocked, status)
}

func TestInitializeTwiceFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, _ := newTestVault(t)

	_, err := v.Initialize(ctx, testPassword, "", false)
	require.NoError(t, err)

	_, err = v.Initialize(ctx, testPassword, "", false)
	require.True(t, errcode.Has(err, errcode.AlreadyInitialized))

	// Force reset wipes and recreates.
	state, err := v.Initialize(ctx, "newpass", "", true)
	require.NoError(t, err)
	require.Equal(t, uint32(1), state.AccountCount)
}

func TestLockUnlockCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, _ := newTestVault(t)

	initial, err := v.Initialize(ctx, testPassword, "", false)
	require.NoError(t, err)

	require.NoError(t, v.Lock(ctx))
	status, err := v.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StateLocked, status)

	// Session operations are refused while locked.
	_, err = v.Snapshot(ctx, "")
	require.True(t, errcode.Has(err, errcode.WalletLocked))

	// An inline password still works for read queries while locked.
	state, err := v.Snapshot(ctx, testPassword)
	require.NoError(t, err)
	require.Equal(t, initial.Accounts, state.Accounts)

	_, err = v.Unlock(ctx, "wrong")
	require.True(t, errcode.Has(err, errcode.IncorrectPassword))

	state, err = v.Unlock(ctx, testPassword)
	require.NoError(t, err)
	require.Equal(t, initial.Accounts, state.Accounts)
}

func TestUnlockEmitsAccounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := zap.NewNop().Sugar()
	hub := events.NewHub(log)
	rec := &recorder{}
	hub.Subscribe(rec)
	v := New(store.NewMemStore(), hub, log, WithKDFParams(testKDFParams()))

	state, err := v.Initialize(ctx, testPassword, "", false)
	require.NoError(t, err)
	require.Equal(t, []string{state.Accounts[0].Address}, rec.accounts[len(rec.accounts)-1])

	require.NoError(t, v.Lock(ctx))
	require.Empty(t, rec.accounts[len(rec.accounts)-1])

	_, err = v.Unlock(ctx, testPassword)
	require.NoError(t, err)
	require.Equal(t, []string{state.Accounts[0].Address}, rec.accounts[len(rec.accounts)-1])
}

func TestUpdateRequiresUnlocked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, _ := newTestVault(t)

	_, err := v.Update(ctx, "", func(*WalletState) error { return nil })
	require.True(t, errcode.Has(err, errcode.NotInitialized))

	_, err = v.Initialize(ctx, testPassword, "", false)
	require.NoError(t, err)
	require.NoError(t, v.Lock(ctx))

	// A password does not bypass the lock check for mutations.
	_, err = v.Update(ctx, testPassword, func(*WalletState) error { return nil })
	require.True(t, errcode.Has(err, errcode.WalletLocked))
}

func TestBackupRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, _ := newTestVault(t)

	initial, err := v.Initialize(ctx, testPassword, "", false)
	require.NoError(t, err)

	_, err = v.ExportBackup(ctx, "wrong")
	require.True(t, errcode.Has(err, errcode.IncorrectPassword))

	backup, err := v.ExportBackup(ctx, testPassword)
	require.NoError(t, err)

	// Import into a fresh vault.
	other, mem := newTestVault(t)
	info, err := other.ImportBackup(ctx, backup, testPassword)
	require.NoError(t, err)
	require.Equal(t, 1, info.AccountCount)
	require.Equal(t, 0, info.ImportedAccountCount)

	state, err := other.Snapshot(ctx, "")
	require.NoError(t, err)
	require.Equal(t, initial.Mnemonic, state.Mnemonic)
	require.NotNil(t, state.LastBackup)

	// Active pointer is reset on import.
	pointer, err := store.GetOne(ctx, mem, store.KeyActiveAccount)
	require.NoError(t, err)
	require.Equal(t, []byte("0"), pointer)
}

func TestImportBackupRejectsGarbage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, _ := newTestVault(t)

	_, err := v.ImportBackup(ctx, []byte("nope"), testPassword)
	require.True(t, errcode.Has(err, errcode.Corrupted))

	_, err = v.ImportBackup(ctx, []byte(`{"tag":"something.else","version":1}`), testPassword)
	require.True(t, errcode.Has(err, errcode.Corrupted))
}

func TestDeleteAllReturnsToUninitialized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, _ := newTestVault(t)

	_, err := v.Initialize(ctx, testPassword, "", false)
	require.NoError(t, err)

	require.NoError(t, v.DeleteAll(ctx))
	status, err := v.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StateUninitialized, status)

	_, err = v.Unlock(ctx, testPassword)
	require.True(t, errcode.Has(err, errcode.NotInitialized))
}

func TestInitializeWithSuppliedMnemonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, _ := newTestVault(t)

	const mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	state, err := v.Initialize(ctx, testPassword, mnemonic, false)
	require.NoError(t, err)
	require.Equal(t, mnemonic, state.Mnemonic)

	v2, _ := newTestVault(t)
	state2, err := v2.Initialize(ctx, testPassword, mnemonic, false)
	require.NoError(t, err)
	require.Equal(t, state.Accounts[0].Address, state2.Accounts[0].Address)

	v3, _ := newTestVault(t)
	_, err = v3.Initialize(ctx, testPassword, "definitely not a mnemonic", false)
	require.Error(t, err)
}

func TestInitializeForceValidatesBeforeWipe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, _ := newTestVault(t)

	_, err := v.Initialize(ctx, testPassword, "", false)
	require.NoError(t, err)

	// A bad password or mnemonic on a forced reset must not destroy the
	// existing wallet.
	_, err = v.Initialize(ctx, "", "", true)
	require.Error(t, err)

	_, err = v.Initialize(ctx, "newpass", "definitely not a valid mnemonic", true)
	require.Error(t, err)

	ok, err := v.IsInitialized(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = v.Unlock(ctx, testPassword)
	require.NoError(t, err)
}
