package hdkey

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// Seed accounts follow the standard Ethereum BIP-44 path m/44'/60'/0'/0/index.
var accountPath = []uint32{
	44 + hdkeychain.HardenedKeyStart,
	60 + hdkeychain.HardenedKeyStart,
	hdkeychain.HardenedKeyStart,
	0,
}

// NewMnemonic generates a fresh 12-word BIP-39 mnemonic from 128 bits of
// CSPRNG entropy.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// Validate checks the mnemonic's wordlist membership and checksum.
func Validate(mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("invalid mnemonic phrase")
	}
	return nil
}

// DerivePrivateKey derives the secp256k1 key at the given account index.
// Derivation is deterministic: the same (mnemonic, index) always produces
// the same key.
func DerivePrivateKey(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	if err := Validate(mnemonic); err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(mnemonic, "")
	node, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}

	for _, step := range append(append([]uint32{}, accountPath...), index) {
		node, err = node.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child key: %w", err)
		}
	}

	privKey, err := node.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}
	// Rebuild the key through go-ethereum's crypto package so its Curve is
	// the instance crypto.Sign expects; btcec's ToECDSA uses a different
	// curve value and geth rejects it under CGO_ENABLED=0.
	key, err := crypto.ToECDSA(privKey.Serialize())
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}
	return key, nil
}

// AddressAt returns the Ethereum address of the key at the given index.
func AddressAt(mnemonic string, index uint32) (common.Address, error) {
	key, err := DerivePrivateKey(mnemonic, index)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
