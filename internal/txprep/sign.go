package txprep

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	gethaccounts "github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/emberwallet/ember/internal/approval"
	"github.com/emberwallet/ember/internal/errcode"
)

// messageApproval is the consent payload for personal_sign requests.
type messageApproval struct {
	Address string        `json:"address"`
	Message hexutil.Bytes `json:"message"`
	Preview string        `json:"preview,omitempty"`
}

// typedDataApproval is the consent payload for EIP-712 requests.
type typedDataApproval struct {
	Address     string             `json:"address"`
	PrimaryType string             `json:"primaryType"`
	Domain      string             `json:"domain"`
	TypedData   apitypes.TypedData `json:"typedData"`
}

// SignMessage signs message with the active account using the EIP-191
// personal-message scheme, after obtaining user approval. skipApproval is
// honored only for OriginInternal callers: the first-party surface has
// already passed its own consent gate, the provider path never bypasses.
func (p *Pipeline) SignMessage(ctx context.Context, origin Origin, message hexutil.Bytes,
	skipApproval bool) (hexutil.Bytes, error) {

	active, err := p.accounts.GetActive(ctx, "")
	if err != nil {
		return nil, err
	}

	if !skipApproval || origin != OriginInternal {
		if skipApproval {
			return nil, fmt.Errorf("approval bypass is not permitted for origin %d", origin)
		}
		payload, err := json.Marshal(messageApproval{
			Address: active.Address,
			Message: message,
			Preview: preview(message),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal approval payload: %w", err)
		}
		if err := p.awaitConsent(ctx, approval.KindMessage, payload); err != nil {
			return nil, err
		}
	}

	key, err := p.signingKeyFor(ctx, active.Address)
	if err != nil {
		return nil, err
	}
	return signDigest(gethaccounts.TextHash(message), key)
}

// SignTypedData signs EIP-712 typed data with the active account after
// obtaining user approval, with the same skipApproval gating as SignMessage.
func (p *Pipeline) SignTypedData(ctx context.Context, origin Origin, typedData apitypes.TypedData,
	skipApproval bool) (hexutil.Bytes, error) {

	active, err := p.accounts.GetActive(ctx, "")
	if err != nil {
		return nil, err
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	if !skipApproval || origin != OriginInternal {
		if skipApproval {
			return nil, fmt.Errorf("approval bypass is not permitted for origin %d", origin)
		}
		payload, err := json.Marshal(typedDataApproval{
			Address:     active.Address,
			PrimaryType: typedData.PrimaryType,
			Domain:      typedData.Domain.Name,
			TypedData:   typedData,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal approval payload: %w", err)
		}
		if err := p.awaitConsent(ctx, approval.KindTypedData, payload); err != nil {
			return nil, err
		}
	}

	key, err := p.signingKeyFor(ctx, active.Address)
	if err != nil {
		return nil, err
	}
	return signDigest(digest, key)
}

// signingKeyFor resolves the active signing key and verifies it still belongs
// to the address the consent surface showed. A SetActive racing the pending
// approval must fail the request rather than sign from the wrong account.
func (p *Pipeline) signingKeyFor(ctx context.Context, address string) (*ecdsa.PrivateKey, error) {
	key, signer, err := p.accounts.ActiveSigningKey(ctx, "")
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(signer.Address, address) {
		return nil, fmt.Errorf("active account changed to %s while approval for %s was pending", signer.Address, address)
	}
	return key, nil
}

// awaitConsent runs the create-request, await, cleanup cycle shared by the
// signing flows.
func (p *Pipeline) awaitConsent(ctx context.Context, kind approval.Kind, payload json.RawMessage) error {
	id, err := p.broker.Create(ctx, kind, payload)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.broker.Remove(ctx, id); err != nil {
			p.log.Warnw("failed to clean up approval", "id", id, "err", err)
		}
	}()

	result, err := p.broker.Await(ctx, id)
	if err != nil {
		return err
	}
	if !result.Approved {
		return errcode.New(errcode.UserRejected, "signature rejected by user")
	}
	return nil
}

// signDigest produces a 65-byte [R || S || V] signature with the legacy
// V offset of 27 expected by on-chain verifiers.
func signDigest(digest []byte, key *ecdsa.PrivateKey) (hexutil.Bytes, error) {
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// preview renders a human-readable form of the message when it is valid
// UTF-8 text.
func preview(message []byte) string {
	if utf8.Valid(message) {
		return string(message)
	}
	return ""
}
