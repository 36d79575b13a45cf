package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/emberwallet/ember/internal/errcode"
	"golang.org/x/crypto/scrypt"
)

const (
	blobVersion = 1
	saltLen     = 32
	nonceLen    = 12
)

// KDFParams are the scrypt parameters stored alongside the blob so that old
// blobs stay decryptable if defaults change.
type KDFParams struct {
	N      int `json:"n"`
	R      int `json:"r"`
	P      int `json:"p"`
	KeyLen int `json:"keyLen"`
}

// DefaultKDFParams returns the production scrypt parameters.
//
// N=2^18 (~256MB RAM, 0.5-2s) balances brute-force cost against memory
// limits on low-end machines; N=2^20 offers more margin but fails where the
// per-process memory budget is tight.
func DefaultKDFParams() KDFParams {
	return KDFParams{N: 1 << 18, R: 8, P: 1, KeyLen: 32}
}

// Blob is the encrypted-at-rest envelope for the wallet state. Salt is
// generated once at initialize/import and reused across re-encrypts (with a
// fresh nonce each time) so the key derived at unlock stays valid for the
// life of the blob.
type Blob struct {
	Version    int       `json:"version"`
	KDF        KDFParams `json:"kdf"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	CipherText string    `json:"cipherText"`
}

// deriveKey derives the AES key for a blob salt from the password.
func deriveKey(password, salt []byte, params KDFParams) ([]byte, error) {
	key, err := scrypt.Key(password, salt, params.N, params.R, params.P, params.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// newSalt generates a fresh random salt.
func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// encryptState serializes and encrypts the wallet state under the given key,
// producing a blob that records the salt the key was derived with.
func encryptState(state *WalletState, key, salt []byte, params KDFParams) (*Blob, error) {
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wallet state: %w", err)
	}
	defer clear(plaintext) // wipe plaintext bytes from memory

	ciphertext := aesGCM.Seal(nil, nonce, plaintext, nil)

	return &Blob{
		Version:    blobVersion,
		KDF:        params,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		CipherText: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// decryptState decrypts and deserializes a blob with the given key. A GCM
// authentication failure surfaces as IncorrectPassword: the key either came
// from the wrong password or does not belong to this blob.
func decryptState(blob *Blob, key []byte) (*WalletState, error) {
	nonce, err := base64.StdEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return nil, errcode.Wrap(errcode.Corrupted, "failed to decode nonce", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.CipherText)
	if err != nil {
		return nil, errcode.Wrap(errcode.Corrupted, "failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errcode.New(errcode.IncorrectPassword, "incorrect password")
	}
	defer clear(plaintext) // wipe decrypted bytes from memory

	var state WalletState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, errcode.Wrap(errcode.Corrupted, "failed to unmarshal wallet state", err)
	}
	return &state, nil
}

// decodeBlob parses a persisted blob envelope.
func decodeBlob(raw []byte) (*Blob, error) {
	var blob Blob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, errcode.Wrap(errcode.Corrupted, "failed to unmarshal vault blob", err)
	}
	if blob.Version != blobVersion {
		return nil, errcode.Newf(errcode.Corrupted, "unsupported vault blob version %d", blob.Version)
	}
	return &blob, nil
}

// blobSalt decodes the salt stored in a blob.
func blobSalt(blob *Blob) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil {
		return nil, errcode.Wrap(errcode.Corrupted, "failed to decode salt", err)
	}
	return salt, nil
}
