package crypto

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndpope/erc20bet/internal/domain"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return NewSignerFromKey(pk)
}

func testFields(t *testing.T) []TypedField {
	t.Helper()
	fields, err := TypedData(testOffer())
	require.NoError(t, err)
	return fields
}

func TestTypedDataFields(t *testing.T) {
	fields := testFields(t)
	require.Len(t, fields, 7)

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"token", "stake", "payout", "prob", "expiry", "nonce", "betContract"}, names)
	assert.Equal(t, "uint32", fields[3].Type)
	assert.Equal(t, "1073741824", fields[3].Value)
	assert.Equal(t, testToken.Hex(), fields[0].Value)
}

func TestTypedDataHashMatchesBetHash(t *testing.T) {
	fields := testFields(t)
	betHash, err := DefaultIDs().BetHash(testOffer())
	require.NoError(t, err)

	var schema Packer
	for _, f := range fields {
		schema.AppendString(f.Type + " " + f.Name)
	}
	s, err := schema.Bytes()
	require.NoError(t, err)

	want := ethcrypto.Keccak256Hash(ethcrypto.Keccak256(s), betHash.Bytes())
	got, err := TypedDataHash(fields)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTypedDataHashVectors(t *testing.T) {
	// Single-field message whose digest eth-sig-util's typedSignatureHash
	// also produces.
	got, err := TypedDataHash([]TypedField{{Name: "message", Type: "string", Value: "Hi, Alice!"}})
	require.NoError(t, err)
	assert.Equal(t, "0x14b9f24872e28cc49e72dc104d7380d8e0ba84a3fe2e712704bcac66a5702bd5", got.Hex())

	got, err = TypedDataHash(testFields(t))
	require.NoError(t, err)
	assert.Equal(t, "0x20fa1dd2627d923142d38e88151e6b53e9b3969fd1cb612f53f8df8bee5f6399", got.Hex())
}

func TestTypedDataRejectsUnencodableOffer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *domain.BetOffer)
	}{
		{"nil stake", func(o *domain.BetOffer) { o.Stake = nil }},
		{"nil payout", func(o *domain.BetOffer) { o.Payout = nil }},
		{"nil expiry", func(o *domain.BetOffer) { o.Expiry = nil }},
		{"nil nonce", func(o *domain.BetOffer) { o.Nonce = nil }},
		{"prob too wide", func(o *domain.BetOffer) { o.Prob = 1 << 32 }},
	}
	s := newTestSigner(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOffer()
			tt.mutate(&o)

			_, err := TypedData(o)
			require.ErrorIs(t, err, domain.ErrEncoding)
			_, err = s.SignOffer(o)
			require.ErrorIs(t, err, domain.ErrEncoding)
		})
	}
}

func TestTypedDataHashRejectsBadValues(t *testing.T) {
	tests := []TypedField{
		{Name: "prob", Type: "uint32", Value: "4294967296"},
		{Name: "stake", Type: "uint256", Value: "-5"},
		{Name: "stake", Type: "uint256", Value: "twelve"},
		{Name: "token", Type: "address", Value: "0x12"},
		{Name: "x", Type: "bool", Value: "true"},
	}
	for _, f := range tests {
		t.Run(f.Name+"/"+f.Value, func(t *testing.T) {
			_, err := TypedDataHash([]TypedField{f})
			require.ErrorIs(t, err, domain.ErrEncoding)
		})
	}
}

func TestSignAndRecover(t *testing.T) {
	s := newTestSigner(t)
	o := testOffer()

	sig, err := s.SignOffer(o)
	require.NoError(t, err)
	assert.Contains(t, []uint8{27, 28}, sig.V)

	owner, err := RecoverOwner(o, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), owner)
	require.NoError(t, VerifyOffer(s.Address(), o, sig))

	tampered := o
	tampered.Prob++
	err = VerifyOffer(s.Address(), tampered, sig)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	badV := sig
	badV.V = 5
	_, err = RecoverOwner(o, badV)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestSignTypedDataOnlyForOwnKey(t *testing.T) {
	s := newTestSigner(t)
	fields := testFields(t)

	_, err := s.SignTypedData(context.Background(), s.Address(), fields)
	require.NoError(t, err)

	_, err = s.SignTypedData(context.Background(), common.HexToAddress("0x01"), fields)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestKeyFileRoundTrip(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	raw := hex.EncodeToString(ethcrypto.FromECDSA(pk))

	blob, err := EncryptKey("0x"+raw, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	signer, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(pk.PublicKey), signer.Address())

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
