package crypto

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/johndpope/erc20bet/internal/domain"
)

// TypedField is one entry of a legacy (v1) eth_signTypedData message.
// Integers are base-10 strings and addresses 0x-prefixed hex.
type TypedField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// TypedData lists the seven offer fields in the order the ledger hashes
// them. The owner is not among them; it is recovered from the signature.
// Offers EncodeBetOffer rejects fail here too.
func TypedData(o domain.BetOffer) ([]TypedField, error) {
	if _, err := EncodeBetOffer(o); err != nil {
		return nil, fmt.Errorf("crypto: typed data: %w", err)
	}
	return []TypedField{
		{Name: "token", Type: "address", Value: o.Token.Hex()},
		{Name: "stake", Type: "uint256", Value: o.Stake.String()},
		{Name: "payout", Type: "uint256", Value: o.Payout.String()},
		{Name: "prob", Type: "uint32", Value: new(big.Int).SetUint64(o.Prob).String()},
		{Name: "expiry", Type: "uint256", Value: o.Expiry.String()},
		{Name: "nonce", Type: "uint256", Value: o.Nonce.String()},
		{Name: "betContract", Type: "address", Value: o.BetContract.Hex()},
	}, nil
}

// TypedDataHash computes the legacy typed-data digest:
//
//	keccak256(keccak256(packed "type name" strings) || keccak256(packed values))
//
// The values hash equals the bet hash for fields produced by TypedData.
func TypedDataHash(fields []TypedField) (common.Hash, error) {
	var schema, values Packer
	for _, f := range fields {
		schema.AppendString(f.Type + " " + f.Name)
		if err := appendTypedValue(&values, f); err != nil {
			return common.Hash{}, err
		}
	}
	s, err := schema.Bytes()
	if err != nil {
		return common.Hash{}, err
	}
	v, err := values.Bytes()
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(concatBytes(
		ethcrypto.Keccak256(s),
		ethcrypto.Keccak256(v),
	)), nil
}

func appendTypedValue(p *Packer, f TypedField) error {
	switch f.Type {
	case "address":
		if !common.IsHexAddress(f.Value) {
			return fmt.Errorf("crypto: typed field %s: invalid address %q: %w", f.Name, f.Value, domain.ErrEncoding)
		}
		p.AppendAddress(common.HexToAddress(f.Value))
	case "uint256", "uint32":
		n, ok := parseInteger(f.Value)
		if !ok {
			return fmt.Errorf("crypto: typed field %s: invalid integer %q: %w", f.Name, f.Value, domain.ErrEncoding)
		}
		if f.Type == "uint32" {
			if !n.IsUint64() {
				return fmt.Errorf("crypto: typed field %s: %s does not fit in 4 bytes: %w", f.Name, n, domain.ErrEncoding)
			}
			p.AppendUint32(f.Name, n.Uint64())
		} else {
			p.AppendUint256(f.Name, n)
		}
	case "bytes32":
		b := common.FromHex(f.Value)
		if len(b) != 32 {
			return fmt.Errorf("crypto: typed field %s: want 32 bytes, got %d: %w", f.Name, len(b), domain.ErrEncoding)
		}
		p.AppendBytes32(common.BytesToHash(b))
	case "string":
		p.AppendString(f.Value)
	default:
		return fmt.Errorf("crypto: typed field %s: unsupported type %q: %w", f.Name, f.Type, domain.ErrEncoding)
	}
	_, err := p.Bytes()
	return err
}

// parseInteger accepts base-10 or 0x-prefixed hex.
func parseInteger(s string) (*big.Int, bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}

// ParseInteger is the integer syntax shared by typed data and event logs.
func ParseInteger(s string) (*big.Int, bool) {
	return parseInteger(strings.TrimSpace(s))
}
