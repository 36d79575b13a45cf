package accounts

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/emberwallet/ember/internal/errcode"
	"github.com/emberwallet/ember/internal/events"
	"github.com/emberwallet/ember/internal/hdkey"
	"github.com/emberwallet/ember/internal/store"
	"github.com/emberwallet/ember/internal/vault"
)

// Kind tags how an account's key material is held.
type Kind string

const (
	KindSeed     Kind = "seed"
	KindImported Kind = "imported"
)

// Account is the externally visible account record. Raw key material is
// never present here.
type Account struct {
	Address         string  `json:"address"`
	Name            string  `json:"name"`
	Kind            Kind    `json:"kind"`
	DerivationIndex *uint32 `json:"derivationIndex,omitempty"`
}

// Registry derives, imports and tracks wallet accounts on top of the Vault.
// The active-account pointer indexes into the concatenation of seed accounts
// followed by imported accounts and lives outside the encrypted blob, so it
// can transiently diverge from the account list; GetActive repairs that by
// clamping to zero.
type Registry struct {
	vault  *vault.Vault
	store  store.Store
	events *events.Hub
	log    *zap.SugaredLogger
}

// NewRegistry creates an account registry.
func NewRegistry(v *vault.Vault, s store.Store, hub *events.Hub, log *zap.SugaredLogger) *Registry {
	return &Registry{vault: v, store: s, events: hub, log: log}
}

// DeriveNext derives the seed account at the current account counter,
// appends it and advances the counter. Indexes are stable and never reused.
func (r *Registry) DeriveNext(ctx context.Context, password, name string) (Account, error) {
	var created Account
	_, err := r.vault.Update(ctx, password, func(state *vault.WalletState) error {
		if state.Mnemonic == "" {
			return errcode.New(errcode.Corrupted, "wallet state is missing mnemonic")
		}

		index := state.AccountCount
		address, err := hdkey.AddressAt(state.Mnemonic, index)
		if err != nil {
			return fmt.Errorf("failed to derive account %d: %w", index, err)
		}
		if name == "" {
			name = fmt.Sprintf("Account %d", index+1)
		}

		state.Accounts = append(state.Accounts, vault.SeedAccount{
			Address:         address.Hex(),
			DerivationIndex: index,
			Name:            name,
			Tokens:          []vault.TokenRef{},
		})
		state.AccountCount = index + 1

		idx := index
		created = Account{
			Address:         address.Hex(),
			Name:            name,
			Kind:            KindSeed,
			DerivationIndex: &idx,
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}

	r.events.AccountsChanged(nil)
	r.log.Infow("derived account", "address", created.Address, "index", *created.DerivationIndex)
	return created, nil
}

// ImportRawKey adds an account from a raw hex private key. The key is
// accepted with or without a 0x prefix and must be exactly 32 bytes; the
// derived address must not already exist among seed or imported accounts.
func (r *Registry) ImportRawKey(ctx context.Context, privateKeyHex, name, password string) (Account, error) {
	key, err := parseRawKey(privateKeyHex)
	if err != nil {
		return Account{}, err
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	var created Account
	_, err = r.vault.Update(ctx, password, func(state *vault.WalletState) error {
		for _, acct := range state.Accounts {
			if strings.EqualFold(acct.Address, address) {
				return errcode.New(errcode.DuplicateAccount, "account already exists")
			}
		}
		for _, acct := range state.CustomAccounts {
			if strings.EqualFold(acct.Address, address) {
				return errcode.New(errcode.DuplicateAccount, "account already exists")
			}
		}

		if name == "" {
			name = fmt.Sprintf("Imported %d", len(state.CustomAccounts)+1)
		}
		state.CustomAccounts = append(state.CustomAccounts, vault.ImportedAccount{
			Address:       address,
			Name:          name,
			RawPrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		})
		created = Account{Address: address, Name: name, Kind: KindImported}
		return nil
	})
	if err != nil {
		return Account{}, err
	}

	r.events.AccountsChanged(nil)
	r.log.Infow("imported account", "address", created.Address)
	return created, nil
}

// List returns all accounts, seed first then imported, with raw private keys
// stripped. An empty password uses the unlocked session; a password decrypts
// directly (the bulk-query convenience path).
func (r *Registry) List(ctx context.Context, password string) ([]Account, error) {
	state, err := r.vault.Snapshot(ctx, password)
	if err != nil {
		return nil, err
	}
	return flatten(state), nil
}

// GetActive resolves the active-account pointer. An out-of-range pointer is
// clamped to zero and the correction persisted; this is steady-state
// recovery, not an error.
func (r *Registry) GetActive(ctx context.Context, password string) (Account, error) {
	list, err := r.List(ctx, password)
	if err != nil {
		return Account{}, err
	}
	if len(list) == 0 {
		return Account{}, errcode.New(errcode.Corrupted, "wallet has no accounts")
	}

	pointer, err := r.activePointer(ctx)
	if err != nil {
		return Account{}, err
	}
	if pointer < 0 || pointer >= len(list) {
		r.log.Warnw("active account pointer out of range, clamping", "pointer", pointer, "accounts", len(list))
		pointer = 0
		if err := r.setPointer(ctx, 0); err != nil {
			return Account{}, err
		}
	}
	return list[pointer], nil
}

// SetActive validates and persists the active-account pointer and signals
// consumers to re-query.
func (r *Registry) SetActive(ctx context.Context, index int) error {
	list, err := r.List(ctx, "")
	if err != nil {
		return err
	}
	if index < 0 || index >= len(list) {
		return errcode.Newf(errcode.IndexOutOfRange, "account index %d out of range [0,%d)", index, len(list))
	}
	if err := r.setPointer(ctx, index); err != nil {
		return err
	}
	r.events.AccountsChanged(nil)
	return nil
}

// ActiveSigningKey returns the private key for the active account. Seed
// account keys are re-derived from the mnemonic on demand and never
// persisted; imported account keys come from the stored raw key.
func (r *Registry) ActiveSigningKey(ctx context.Context, password string) (*ecdsa.PrivateKey, Account, error) {
	state, err := r.vault.Snapshot(ctx, password)
	if err != nil {
		return nil, Account{}, err
	}
	list := flatten(state)
	if len(list) == 0 {
		return nil, Account{}, errcode.New(errcode.Corrupted, "wallet has no accounts")
	}

	pointer, err := r.activePointer(ctx)
	if err != nil {
		return nil, Account{}, err
	}
	if pointer < 0 || pointer >= len(list) {
		pointer = 0
		if err := r.setPointer(ctx, 0); err != nil {
			return nil, Account{}, err
		}
	}
	active := list[pointer]

	switch active.Kind {
	case KindSeed:
		if state.Mnemonic == "" {
			return nil, Account{}, errcode.New(errcode.Corrupted, "wallet state is missing mnemonic")
		}
		key, err := hdkey.DerivePrivateKey(state.Mnemonic, *active.DerivationIndex)
		if err != nil {
			return nil, Account{}, fmt.Errorf("failed to derive signing key: %w", err)
		}
		return key, active, nil

	case KindImported:
		raw := state.CustomAccounts[pointer-len(state.Accounts)].RawPrivateKey
		if raw == "" {
			return nil, Account{}, errcode.New(errcode.Corrupted, "imported account is missing key material")
		}
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, Account{}, errcode.Wrap(errcode.Corrupted, "stored key material is malformed", err)
		}
		return key, active, nil

	default:
		return nil, Account{}, errcode.Newf(errcode.Corrupted, "unknown account kind %q", active.Kind)
	}
}

// activePointer reads the persisted pointer, defaulting to 0 when absent or
// unparseable.
func (r *Registry) activePointer(ctx context.Context) (int, error) {
	raw, err := store.GetOne(ctx, r.store, store.KeyActiveAccount)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	pointer, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, nil
	}
	return pointer, nil
}

func (r *Registry) setPointer(ctx context.Context, index int) error {
	return store.SetOne(ctx, r.store, store.KeyActiveAccount, []byte(strconv.Itoa(index)))
}

// flatten produces the externally visible account list: seed accounts in
// derivation order, then imported accounts, secrets stripped.
func flatten(state *vault.WalletState) []Account {
	list := make([]Account, 0, len(state.Accounts)+len(state.CustomAccounts))
	for _, acct := range state.Accounts {
		idx := acct.DerivationIndex
		list = append(list, Account{
			Address:         acct.Address,
			Name:            acct.Name,
			Kind:            KindSeed,
			DerivationIndex: &idx,
		})
	}
	for _, acct := range state.CustomAccounts {
		list = append(list, Account{
			Address: acct.Address,
			Name:    acct.Name,
			Kind:    KindImported,
		})
	}
	return list
}

// parseRawKey normalizes and validates a hex private key.
func parseRawKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidKey, "private key is not valid hex", err)
	}
	if len(raw) != 32 {
		return nil, errcode.Newf(errcode.InvalidKey, "private key must be 32 bytes, got %d", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidKey, "invalid private key", err)
	}
	return key, nil
}
