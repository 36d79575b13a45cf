package hdkey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// The standard BIP-39 test mnemonic; its address at m/44'/60'/0'/0/0 is a
// widely published vector.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewMnemonic(t *testing.T) {
	t.Parallel()

	mnemonic, err := NewMnemonic()
	require.NoError(t, err)
	require.Len(t, strings.Fields(mnemonic), 12)
	require.NoError(t, Validate(mnemonic))

	// Entropy source must not repeat.
	other, err := NewMnemonic()
	require.NoError(t, err)
	require.NotEqual(t, mnemonic, other)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(testMnemonic))
	require.Error(t, Validate("not a mnemonic"))
	// Valid words, broken checksum.
	require.Error(t, Validate("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon"))
}

func TestDerivationIsDeterministic(t *testing.T) {
	t.Parallel()

	addr, err := AddressAt(testMnemonic, 0)
	require.NoError(t, err)
	require.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr.Hex())

	again, err := AddressAt(testMnemonic, 0)
	require.NoError(t, err)
	require.Equal(t, addr, again)

	// Different indexes yield different keys.
	next, err := AddressAt(testMnemonic, 1)
	require.NoError(t, err)
	require.NotEqual(t, addr, next)
}

func TestDeriveRejectsInvalidMnemonic(t *testing.T) {
	t.Parallel()

	_, err := DerivePrivateKey("garbage words here", 0)
	require.Error(t, err)
}
