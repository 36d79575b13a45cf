package vault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberwallet/ember/internal/errcode"
)

// testKDFParams keeps scrypt cheap in tests.
func testKDFParams() KDFParams {
	return KDFParams{N: 16, R: 8, P: 1, KeyLen: 32}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	params := testKDFParams()
	salt, err := newSalt()
	require.NoError(t, err)
	key, err := deriveKey([]byte("p@ss"), salt, params)
	require.NoError(t, err)

	state := &WalletState{
		Mnemonic:     "legal winner thank year wave sausage worth useful legal winner thank yellow",
		Accounts:     []SeedAccount{{Address: "0xabc", DerivationIndex: 0, Name: "Account 1"}},
		AccountCount: 1,
		CustomAccounts: []ImportedAccount{
			{Address: "0xdef", Name: "Imported 1", RawPrivateKey: "00ff"},
		},
	}

	blob, err := encryptState(state, key, salt, params)
	require.NoError(t, err)
	require.Equal(t, blobVersion, blob.Version)

	decrypted, err := decryptState(blob, key)
	require.NoError(t, err)
	require.Equal(t, state, decrypted)
}

func TestDecryptWrongPassword(t *testing.T) {
	t.Parallel()

	params := testKDFParams()
	salt, err := newSalt()
	require.NoError(t, err)
	key, err := deriveKey([]byte("p@ss"), salt, params)
	require.NoError(t, err)

	blob, err := encryptState(&WalletState{Mnemonic: "m"}, key, salt, params)
	require.NoError(t, err)

	wrongKey, err := deriveKey([]byte("not-p@ss"), salt, params)
	require.NoError(t, err)

	_, err = decryptState(blob, wrongKey)
	require.Error(t, err)
	require.True(t, errcode.Has(err, errcode.IncorrectPassword))
}

func TestDecodeBlobRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := decodeBlob([]byte("not json"))
	require.True(t, errcode.Has(err, errcode.Corrupted))

	_, err = decodeBlob([]byte(`{"version":99}`))
	require.True(t, errcode.Has(err, errcode.Corrupted))
}

func TestStateRepair(t *testing.T) {
	t.Parallel()

	state := &WalletState{Mnemonic: "m"}
	require.True(t, state.repair())
	require.NotNil(t, state.Accounts)
	require.NotNil(t, state.CustomAccounts)

	// Already sound state is untouched.
	require.False(t, state.repair())

	// Counter behind the account list is advanced.
	state.Accounts = []SeedAccount{{Address: "0x1"}, {Address: "0x2"}}
	require.True(t, state.repair())
	require.Equal(t, uint32(2), state.AccountCount)
}
