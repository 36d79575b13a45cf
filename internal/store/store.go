package store

import "context"

// Well-known keys used by the wallet engine. Everything the engine persists
// goes through these; the VaultBlob under KeyVaultBlob is the only place key
// material lives at rest, and it is always encrypted.
const (
	KeyVaultBlob        = "vault.blob"
	KeyLockState        = "wallet.lockState"
	KeyActiveAccount    = "wallet.activeAccount"
	KeyCustomChains     = "chains.custom"
	KeyCurrentChain     = "chains.current"
	KeyPendingApprovals = "approvals.pending"
	KeyApprovalResults  = "approvals.results"
)

// Store is the opaque persistent key-value service the wallet engine runs on.
// Missing keys are simply absent from the map returned by Get.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, entries map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
}

// GetOne fetches a single key, returning nil when it is absent.
func GetOne(ctx context.Context, s Store, key string) ([]byte, error) {
	values, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return values[key], nil
}

// SetOne stores a single key.
func SetOne(ctx context.Context, s Store, key string, value []byte) error {
	return s.Set(ctx, map[string][]byte{key: value})
}
