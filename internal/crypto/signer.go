package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/johndpope/erc20bet/internal/domain"
)

// Signer signs legacy typed-data bet messages with a local secp256k1 key.
// Bettors normally sign in their wallet; this signer serves the matcher's
// own house bets and tests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignOffer signs the typed-data form of an offer.
func (s *Signer) SignOffer(o domain.BetOffer) (domain.Signature, error) {
	fields, err := TypedData(o)
	if err != nil {
		return domain.Signature{}, err
	}
	return s.SignFields(fields)
}

// SignFields signs an arbitrary legacy typed-data message.
func (s *Signer) SignFields(fields []TypedField) (domain.Signature, error) {
	digest, err := TypedDataHash(fields)
	if err != nil {
		return domain.Signature{}, err
	}
	return s.signDigest(digest.Bytes())
}

// SignTypedData lets a Signer act as a signature source for the owners it
// holds a key for.
func (s *Signer) SignTypedData(_ context.Context, owner common.Address, fields []TypedField) (domain.Signature, error) {
	if owner != s.address {
		return domain.Signature{}, fmt.Errorf("crypto/signer: no key for %s: %w", owner.Hex(), domain.ErrUnauthorized)
	}
	return s.SignFields(fields)
}

// signDigest signs a 32-byte digest and returns v in {27,28} as the ledger
// expects.
func (s *Signer) signDigest(digest []byte) (domain.Signature, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	out, _ := domain.SignatureFromBytes(sig)
	return out, nil
}

// RecoverOwner returns the address that signed the offer.
func RecoverOwner(o domain.BetOffer, sig domain.Signature) (common.Address, error) {
	fields, err := TypedData(o)
	if err != nil {
		return common.Address{}, err
	}
	digest, err := TypedDataHash(fields)
	if err != nil {
		return common.Address{}, err
	}
	return recoverDigest(digest, sig)
}

func recoverDigest(digest common.Hash, sig domain.Signature) (common.Address, error) {
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, fmt.Errorf("crypto/signer: recovery id %d: %w", sig.V, domain.ErrInvalidSignature)
	}
	raw := sig.Bytes()
	raw[64] -= 27
	pub, err := ethcrypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %v: %w", err, domain.ErrInvalidSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyOffer checks that sig over o was produced by owner.
func VerifyOffer(owner common.Address, o domain.BetOffer, sig domain.Signature) error {
	got, err := RecoverOwner(o, sig)
	if err != nil {
		return err
	}
	if got != owner {
		return fmt.Errorf("crypto/signer: signed by %s, not %s: %w", got.Hex(), owner.Hex(), domain.ErrInvalidSignature)
	}
	return nil
}
