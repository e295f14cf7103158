package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
)

// ErrAbandoned is returned by a SignatureSource when the bettor walked away
// from a signing request.
var ErrAbandoned = errors.New("signature request abandoned")

// SignatureSource asks a bettor's wallet to sign typed data.
type SignatureSource interface {
	SignTypedData(ctx context.Context, owner common.Address, fields []crypto.TypedField) (domain.Signature, error)
}

// CollectSignatures requests the missing signatures concurrently. Offers
// whose request is abandoned or cancelled are dropped from the result; any
// other failure, including a signature by the wrong key, aborts the batch.
// The relative order of the remaining offers is kept.
func CollectSignatures(ctx context.Context, src SignatureSource, bets []domain.SignedBet) ([]domain.SignedBet, error) {
	signed := make([]domain.SignedBet, len(bets))
	dropped := make([]bool, len(bets))
	copy(signed, bets)

	g, gctx := errgroup.WithContext(ctx)
	for i := range signed {
		if !signed[i].Signature.IsZero() {
			continue
		}
		g.Go(func() error {
			b := &signed[i]
			fields, err := crypto.TypedData(b.Offer)
			if err != nil {
				return fmt.Errorf("matching: bet of %s: %w", b.Owner.Hex(), err)
			}
			sig, err := src.SignTypedData(gctx, b.Owner, fields)
			if abandoned(gctx, err) {
				dropped[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("matching: sign bet of %s: %w", b.Owner.Hex(), err)
			}
			if err := crypto.VerifyOffer(b.Owner, b.Offer, sig); err != nil {
				return fmt.Errorf("matching: sign bet of %s: %w", b.Owner.Hex(), err)
			}
			b.Signature = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.SignedBet, 0, len(signed))
	for i, b := range signed {
		if !dropped[i] {
			out = append(out, b)
		}
	}
	return out, nil
}

// abandoned reports a request the bettor gave up on. A cancellation of the
// batch itself is not one.
func abandoned(ctx context.Context, err error) bool {
	if errors.Is(err, ErrAbandoned) {
		return true
	}
	return errors.Is(err, context.Canceled) && ctx.Err() == nil
}
