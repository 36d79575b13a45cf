package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"

	"github.com/emberwallet/ember/internal/errcode"
	"github.com/emberwallet/ember/internal/events"
	"github.com/emberwallet/ember/internal/hdkey"
	"github.com/emberwallet/ember/internal/store"
)

// LockState is the wallet lifecycle state, persisted in plaintext metadata
// independently of the blob itself.
type LockState string

const (
	StateUninitialized LockState = "uninitialized"
	StateLocked        LockState = "locked"
	StateUnlocked      LockState = "unlocked"
)

const (
	backupTag     = "ember.backup"
	backupVersion = 1
)

// backupEnvelope is the tagged wrapper written by ExportBackup. The wrapped
// blob stays encrypted under the original password; the backup file is only
// ever as strong as that password.
type backupEnvelope struct {
	Tag     string `json:"tag"`
	Version int    `json:"version"`
	Vault   *Blob  `json:"vault"`
}

// BackupInfo summarizes an imported backup.
type BackupInfo struct {
	AccountCount         int `json:"accountCount"`
	ImportedAccountCount int `json:"importedAccountCount"`
}

// Vault owns the encrypted wallet state and the locked/unlocked lifecycle.
// All decrypt-modify-encrypt-persist cycles run under a single mutex so
// concurrent writers cannot lose updates. While unlocked, the scrypt-derived
// key is cached in memory so session operations decrypt without re-deriving;
// the password itself is never retained.
type Vault struct {
	store  store.Store
	events *events.Hub
	clk    clock.Clock
	log    *zap.SugaredLogger
	kdf    KDFParams

	mu      sync.Mutex
	session []byte // derived key, non-nil only while unlocked
}

// Option configures a Vault.
type Option func(*Vault)

// WithKDFParams overrides the scrypt parameters, used in tests to avoid the
// production-strength work factor.
func WithKDFParams(p KDFParams) Option {
	return func(v *Vault) { v.kdf = p }
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(v *Vault) { v.clk = c }
}

// New creates a Vault on top of the given store.
func New(s store.Store, hub *events.Hub, log *zap.SugaredLogger, opts ...Option) *Vault {
	v := &Vault{
		store:  s,
		events: hub,
		clk:    clock.NewDefaultClock(),
		log:    log,
		kdf:    DefaultKDFParams(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// IsInitialized reports whether a vault blob exists.
func (v *Vault) IsInitialized(ctx context.Context) (bool, error) {
	raw, err := store.GetOne(ctx, v.store, store.KeyVaultBlob)
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// Status resolves the lifecycle state. A missing blob always means
// Uninitialized, whatever the persisted lock flag claims.
func (v *Vault) Status(ctx context.Context) (LockState, error) {
	initialized, err := v.IsInitialized(ctx)
	if err != nil {
		return "", err
	}
	if !initialized {
		return StateUninitialized, nil
	}

	raw, err := store.GetOne(ctx, v.store, store.KeyLockState)
	if err != nil {
		return "", err
	}
	if LockState(raw) == StateUnlocked {
		return StateUnlocked, nil
	}
	return StateLocked, nil
}

// Initialize creates a new wallet encrypted under password. When mnemonic is
// empty a fresh one is generated; account #0 is derived, the state persisted
// and the wallet left unlocked. Fails with AlreadyInitialized unless force is
// set, in which case all persisted wallet keys are deleted first.
func (v *Vault) Initialize(ctx context.Context, password, mnemonic string, force bool) (*WalletState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	initialized, err := v.IsInitialized(ctx)
	if err != nil {
		return nil, err
	}
	if initialized && !force {
		return nil, errcode.New(errcode.AlreadyInitialized, "wallet already initialized")
	}

	if password == "" {
		return nil, errors.New("password cannot be empty")
	}
	if mnemonic == "" {
		mnemonic, err = hdkey.NewMnemonic()
		if err != nil {
			return nil, err
		}
	} else if err := hdkey.Validate(mnemonic); err != nil {
		return nil, err
	}

	address, err := hdkey.AddressAt(mnemonic, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to derive first account: %w", err)
	}

	// New inputs are known good; only now wipe an existing wallet.
	if initialized {
		if err := v.deleteAllLocked(ctx); err != nil {
			return nil, err
		}
	}

	state := &WalletState{
		Mnemonic: mnemonic,
		Accounts: []SeedAccount{{
			Address:         address.Hex(),
			DerivationIndex: 0,
			Name:            "Account 1",
			Tokens:          []TokenRef{},
		}},
		AccountCount:   1,
		CustomAccounts: []ImportedAccount{},
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	key, err := deriveKey([]byte(password), salt, v.kdf)
	if err != nil {
		return nil, err
	}

	if err := v.persistState(ctx, state, key, salt, v.kdf); err != nil {
		return nil, err
	}
	zero := []byte(`0`)
	err = v.store.Set(ctx, map[string][]byte{
		store.KeyLockState:     []byte(StateUnlocked),
		store.KeyActiveAccount: zero,
	})
	if err != nil {
		return nil, err
	}

	v.session = key
	v.events.AccountsChanged([]string{address.Hex()})
	v.log.Infow("wallet initialized", "address", address.Hex())
	return state, nil
}

// Unlock decrypts the wallet with password, caches the session key and marks
// the wallet unlocked. Fails with IncorrectPassword when decryption fails.
func (v *Vault) Unlock(ctx context.Context, password string) (*WalletState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	blob, err := v.loadBlob(ctx)
	if err != nil {
		return nil, err
	}
	salt, err := blobSalt(blob)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey([]byte(password), salt, blob.KDF)
	if err != nil {
		return nil, err
	}
	state, err := decryptState(blob, key)
	if err != nil {
		return nil, err
	}
	state.repair()

	if err := store.SetOne(ctx, v.store, store.KeyLockState, []byte(StateUnlocked)); err != nil {
		return nil, err
	}
	v.session = key

	addresses := make([]string, len(state.Accounts))
	for i, acct := range state.Accounts {
		addresses[i] = acct.Address
	}
	v.events.AccountsChanged(addresses)
	v.log.Infow("wallet unlocked", "accounts", len(addresses))
	return state, nil
}

// Lock marks the wallet locked and drops the session key. The blob itself is
// untouched.
func (v *Vault) Lock(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.loadBlob(ctx); err != nil {
		return err
	}
	if err := store.SetOne(ctx, v.store, store.KeyLockState, []byte(StateLocked)); err != nil {
		return err
	}

	clear(v.session)
	v.session = nil
	v.events.AccountsChanged([]string{})
	v.log.Infow("wallet locked")
	return nil
}

// Snapshot returns the decrypted wallet state. With an empty password the
// cached session key is used, which requires the wallet to be unlocked; a
// non-empty password decrypts directly and works even while locked (the
// convenience path for bulk read queries). Structural damage is repaired in
// the returned copy and the correction persisted opportunistically.
func (v *Vault) Snapshot(ctx context.Context, password string) (*WalletState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	blob, err := v.loadBlob(ctx)
	if err != nil {
		return nil, err
	}
	key, err := v.keyFor(password, blob)
	if err != nil {
		return nil, err
	}
	state, err := decryptState(blob, key)
	if err != nil {
		return nil, err
	}

	if state.repair() {
		salt, saltErr := blobSalt(blob)
		if saltErr == nil {
			if persistErr := v.persistState(ctx, state, key, salt, blob.KDF); persistErr != nil {
				v.log.Warnw("failed to persist state repair", "err", persistErr)
			}
		}
	}
	return state, nil
}

// Update runs a read-modify-write cycle against the latest decrypted state
// and re-encrypts before release. Mutations always require the wallet to be
// unlocked; a non-empty password is verified against the blob rather than
// bypassing the lock check.
func (v *Vault) Update(ctx context.Context, password string, fn func(*WalletState) error) (*WalletState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.statusLocked(ctx)
	if err != nil {
		return nil, err
	}
	if status == StateUninitialized {
		return nil, errcode.New(errcode.NotInitialized, "wallet not initialized")
	}
	if status != StateUnlocked {
		return nil, errcode.New(errcode.WalletLocked, "wallet is locked")
	}

	blob, err := v.loadBlob(ctx)
	if err != nil {
		return nil, err
	}
	key, err := v.keyFor(password, blob)
	if err != nil {
		return nil, err
	}
	state, err := decryptState(blob, key)
	if err != nil {
		return nil, err
	}
	state.repair()

	if err := fn(state); err != nil {
		return nil, err
	}

	salt, err := blobSalt(blob)
	if err != nil {
		return nil, err
	}
	if err := v.persistState(ctx, state, key, salt, blob.KDF); err != nil {
		return nil, err
	}
	return state, nil
}

// ExportBackup verifies the password by a decrypt-and-discard round-trip and
// returns the tagged, versioned envelope wrapping the still-encrypted blob.
// The last-backup timestamp is recorded on success.
func (v *Vault) ExportBackup(ctx context.Context, password string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	blob, err := v.loadBlob(ctx)
	if err != nil {
		return nil, err
	}
	salt, err := blobSalt(blob)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey([]byte(password), salt, blob.KDF)
	if err != nil {
		return nil, err
	}
	state, err := decryptState(blob, key)
	if err != nil {
		return nil, err
	}

	now := v.clk.Now()
	state.LastBackup = &now
	if err := v.persistState(ctx, state, key, salt, blob.KDF); err != nil {
		return nil, err
	}
	// Re-read so the exported blob carries the updated timestamp.
	blob, err = v.loadBlob(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(&backupEnvelope{
		Tag:     backupTag,
		Version: backupVersion,
		Vault:   blob,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backup: %w", err)
	}
	return data, nil
}

// ImportBackup validates the envelope, verifies the password and structural
// validity of the wrapped state, then atomically replaces the persisted blob
// and resets the active account pointer.
func (v *Vault) ImportBackup(ctx context.Context, data []byte, password string) (*BackupInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var envelope backupEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errcode.Wrap(errcode.Corrupted, "failed to unmarshal backup", err)
	}
	if envelope.Tag != backupTag {
		return nil, errcode.New(errcode.Corrupted, "not a wallet backup file")
	}
	if envelope.Version != backupVersion {
		return nil, errcode.Newf(errcode.Corrupted, "unsupported backup version %d", envelope.Version)
	}
	if envelope.Vault == nil {
		return nil, errcode.New(errcode.Corrupted, "backup is missing vault blob")
	}

	salt, err := blobSalt(envelope.Vault)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey([]byte(password), salt, envelope.Vault.KDF)
	if err != nil {
		return nil, err
	}
	state, err := decryptState(envelope.Vault, key)
	if err != nil {
		return nil, err
	}
	if state.Mnemonic == "" || state.Accounts == nil {
		return nil, errcode.New(errcode.Corrupted, "backup wallet state is malformed")
	}

	raw, err := json.Marshal(envelope.Vault)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vault blob: %w", err)
	}
	zero := []byte(`0`)
	err = v.store.Set(ctx, map[string][]byte{
		store.KeyVaultBlob:     raw,
		store.KeyActiveAccount: zero,
		store.KeyLockState:     []byte(StateUnlocked),
	})
	if err != nil {
		return nil, err
	}
	v.session = key

	addresses := make([]string, len(state.Accounts))
	for i, acct := range state.Accounts {
		addresses[i] = acct.Address
	}
	v.events.AccountsChanged(addresses)
	v.log.Infow("wallet backup imported",
		"accounts", len(state.Accounts),
		"imported", len(state.CustomAccounts))
	return &BackupInfo{
		AccountCount:         len(state.Accounts),
		ImportedAccountCount: len(state.CustomAccounts),
	}, nil
}

// DeleteAll erases the blob, the lock flag and the active account pointer,
// returning the wallet to Uninitialized.
func (v *Vault) DeleteAll(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleteAllLocked(ctx)
}

func (v *Vault) deleteAllLocked(ctx context.Context) error {
	err := v.store.Remove(ctx,
		store.KeyVaultBlob,
		store.KeyLockState,
		store.KeyActiveAccount,
	)
	if err != nil {
		return err
	}
	clear(v.session)
	v.session = nil
	v.events.AccountsChanged([]string{})
	return nil
}

// loadBlob reads and decodes the persisted blob; NotInitialized when absent.
func (v *Vault) loadBlob(ctx context.Context) (*Blob, error) {
	raw, err := store.GetOne(ctx, v.store, store.KeyVaultBlob)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errcode.New(errcode.NotInitialized, "wallet not initialized")
	}
	return decodeBlob(raw)
}

// keyFor resolves the decryption key: the caller's password when supplied,
// otherwise the cached session key (valid only while unlocked).
func (v *Vault) keyFor(password string, blob *Blob) ([]byte, error) {
	if password != "" {
		salt, err := blobSalt(blob)
		if err != nil {
			return nil, err
		}
		return deriveKey([]byte(password), salt, blob.KDF)
	}
	if v.session == nil {
		return nil, errcode.New(errcode.WalletLocked, "wallet is locked")
	}
	return v.session, nil
}

// statusLocked is Status for callers already holding the vault mutex.
func (v *Vault) statusLocked(ctx context.Context) (LockState, error) {
	raw, err := v.store.Get(ctx, store.KeyVaultBlob, store.KeyLockState)
	if err != nil {
		return "", err
	}
	if raw[store.KeyVaultBlob] == nil {
		return StateUninitialized, nil
	}
	if LockState(raw[store.KeyLockState]) == StateUnlocked {
		return StateUnlocked, nil
	}
	return StateLocked, nil
}

// persistState encrypts state under key and writes the blob.
func (v *Vault) persistState(ctx context.Context, state *WalletState, key, salt []byte, params KDFParams) error {
	blob, err := encryptState(state, key, salt, params)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to marshal vault blob: %w", err)
	}
	return store.SetOne(ctx, v.store, store.KeyVaultBlob, raw)
}
