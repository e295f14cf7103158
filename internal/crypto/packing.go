package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/domain"
)

// Packer builds a solidity tightly packed byte string (abi.encodePacked).
// The first failing Append* call is remembered and reported by Bytes, so a
// chain of appends needs a single error check.
type Packer struct {
	buf []byte
	err error
}

// AppendAddress appends the 20 raw address bytes.
func (p *Packer) AppendAddress(a common.Address) *Packer {
	p.buf = append(p.buf, a.Bytes()...)
	return p
}

// AppendUint256 appends n as 32 big-endian bytes.
func (p *Packer) AppendUint256(field string, n *big.Int) *Packer {
	return p.appendUint(field, n, 32)
}

// AppendUint32 appends n as 4 big-endian bytes.
func (p *Packer) AppendUint32(field string, n uint64) *Packer {
	return p.appendUint(field, new(big.Int).SetUint64(n), 4)
}

// AppendBytes32 appends h unchanged.
func (p *Packer) AppendBytes32(h common.Hash) *Packer {
	p.buf = append(p.buf, h.Bytes()...)
	return p
}

// AppendString appends the raw UTF-8 bytes of s, without length prefix.
func (p *Packer) AppendString(s string) *Packer {
	p.buf = append(p.buf, s...)
	return p
}

func (p *Packer) appendUint(field string, n *big.Int, width int) *Packer {
	if p.err != nil {
		return p
	}
	if n == nil {
		p.err = fmt.Errorf("crypto: pack %s: missing value: %w", field, domain.ErrEncoding)
		return p
	}
	if n.Sign() < 0 || n.BitLen() > width*8 {
		p.err = fmt.Errorf("crypto: pack %s: %s does not fit in %d bytes: %w", field, n, width, domain.ErrEncoding)
		return p
	}
	p.buf = append(p.buf, common.LeftPadBytes(n.Bytes(), width)...)
	return p
}

// Bytes returns the packed bytes or the first encoding error.
func (p *Packer) Bytes() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.buf, nil
}

// EncodeBetOffer returns the canonical preimage of a bet hash:
// token, stake, payout, prob (uint32), expiry, nonce, betContract.
func EncodeBetOffer(o domain.BetOffer) ([]byte, error) {
	var p Packer
	return p.AppendAddress(o.Token).
		AppendUint256("stake", o.Stake).
		AppendUint256("payout", o.Payout).
		AppendUint32("prob", o.Prob).
		AppendUint256("expiry", o.Expiry).
		AppendUint256("nonce", o.Nonce).
		AppendAddress(o.BetContract).
		Bytes()
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
