package vault

import "time"

// TokenRef identifies a token tracked for an account.
type TokenRef struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// SeedAccount is an account derived from the wallet mnemonic. The derivation
// index is assigned once and never reused; accounts are append-only.
type SeedAccount struct {
	Address         string     `json:"address"`
	DerivationIndex uint32     `json:"derivationIndex"`
	Name            string     `json:"name"`
	Tokens          []TokenRef `json:"tokens"`
}

// ImportedAccount is an account added from a raw private key. The key only
// ever exists inside the decrypted WalletState and must be stripped from any
// externally returned listing.
type ImportedAccount struct {
	Address       string `json:"address"`
	Name          string `json:"name"`
	RawPrivateKey string `json:"rawPrivateKey"`
}

// WalletState is the plaintext form of the vault contents. It exists only
// transiently inside an operation; at rest it lives encrypted in a Blob.
type WalletState struct {
	Mnemonic       string            `json:"mnemonic"`
	Accounts       []SeedAccount     `json:"accounts"`
	AccountCount   uint32            `json:"accountCount"`
	CustomAccounts []ImportedAccount `json:"customAccounts"`
	LastBackup     *time.Time        `json:"lastBackup"`
}

// repair normalizes structurally damaged state in place: missing arrays are
// treated as empty and the account counter is advanced to cover existing
// accounts. Returns true when anything changed so callers can persist the
// correction opportunistically.
func (s *WalletState) repair() bool {
	changed := false
	if s.Accounts == nil {
		s.Accounts = []SeedAccount{}
		changed = true
	}
	if s.CustomAccounts == nil {
		s.CustomAccounts = []ImportedAccount{}
		changed = true
	}
	if int(s.AccountCount) < len(s.Accounts) {
		s.AccountCount = uint32(len(s.Accounts))
		changed = true
	}
	return changed
}
