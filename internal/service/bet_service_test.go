package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/domain"
)

func newBetService(bets *memBets, limiter domain.RateLimiter, ledger BetInfoReader) *BetService {
	s := NewBetService(bets, limiter, ledger, BetLimits{PerOwner: 2, Window: time.Minute}, quietLogger())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestPlaceStoresVerifiedBet(t *testing.T) {
	bets := newMemBets()
	s := newBetService(bets, nil, nil)
	b := signedBet(t, newSigner(t), 0x40000000, 3)

	got, err := s.Place(context.Background(), b.ID, b)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, domain.BetStatePlacedNotMatched, got.State)

	_, err = s.Place(context.Background(), b.ID, b)
	require.NoError(t, err, "placing the same bet again is a no-op")
}

func TestPlaceRejects(t *testing.T) {
	signer := newSigner(t)
	other := newSigner(t)

	tests := []struct {
		name    string
		mutate  func(id *common.Hash, b *domain.SignedBet)
		wantErr error
	}{
		{
			name:    "id of other terms",
			mutate:  func(id *common.Hash, _ *domain.SignedBet) { id[0] ^= 1 },
			wantErr: domain.ErrInvalidSignature,
		},
		{
			name: "expired",
			mutate: func(id *common.Hash, b *domain.SignedBet) {
				b.Offer.Expiry = big.NewInt(fixedNow.Unix())
				*id = mustBetID(t, *b)
			},
			wantErr: domain.ErrBetExpired,
		},
		{
			name: "signed by someone else",
			mutate: func(_ *common.Hash, b *domain.SignedBet) {
				sig, err := other.SignOffer(b.Offer)
				require.NoError(t, err)
				b.Signature = sig
			},
			wantErr: domain.ErrInvalidSignature,
		},
		{
			name: "prob out of range",
			mutate: func(_ *common.Hash, b *domain.SignedBet) {
				b.Offer.Prob = 1 << 32
			},
			wantErr: domain.ErrEncoding,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := signedBet(t, signer, 0x40000000, 3)
			id := b.ID
			tt.mutate(&id, &b)

			_, err := newBetService(newMemBets(), nil, nil).Place(context.Background(), id, b)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPlaceRateLimited(t *testing.T) {
	signer := newSigner(t)
	s := newBetService(newMemBets(), &countingLimiter{}, nil)

	for i, prob := range []uint64{1, 2, 3} {
		b := signedBet(t, signer, prob, 1)
		_, err := s.Place(context.Background(), b.ID, b)
		if i < 2 {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, domain.ErrRateLimited)
		}
	}
}

func TestPlaceLimiterDownFailsOpen(t *testing.T) {
	s := newBetService(newMemBets(), &countingLimiter{err: errors.New("redis down")}, nil)
	b := signedBet(t, newSigner(t), 1, 1)
	_, err := s.Place(context.Background(), b.ID, b)
	require.NoError(t, err)
}

func TestWithdraw(t *testing.T) {
	signer := newSigner(t)
	b := signedBet(t, signer, 0x40000000, 3)
	bets := newMemBets(b)
	s := newBetService(bets, nil, nil)

	err := s.Withdraw(context.Background(), b.ID, common.HexToAddress("0x01"))
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, s.Withdraw(context.Background(), b.ID, signer.Address()))
	_, err = s.Get(context.Background(), b.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithdrawMatched(t *testing.T) {
	signer := newSigner(t)
	b := signedBet(t, signer, 0x40000000, 3)
	bets := newMemBets(b)
	require.NoError(t, bets.MarkMatched(context.Background(), []common.Hash{b.ID}, common.Hash{}))

	err := newBetService(bets, nil, nil).Withdraw(context.Background(), b.ID, signer.Address())
	require.ErrorIs(t, err, domain.ErrBetMatched)
}

func TestListOpenSkipsExpired(t *testing.T) {
	signer := newSigner(t)
	live := signedBet(t, signer, 1, 1)
	stale := signedBet(t, signer, 2, 1)
	stale.Offer.Expiry = big.NewInt(fixedNow.Unix() - 1)

	open, err := newBetService(newMemBets(live, stale), nil, nil).ListOpen(context.Background(), token, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, live.ID, open[0].ID)
}

func TestLedgerState(t *testing.T) {
	b := signedBet(t, newSigner(t), 1, 1)
	gameID := common.BigToHash(big.NewInt(7))
	ledger := &fakeLedger{info: chain.BetInfo{State: domain.BetStateMatched, MatchedGameID: gameID}}

	info, err := newBetService(newMemBets(b), nil, ledger).LedgerState(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetStateMatched, info.State)
	assert.Equal(t, gameID, info.MatchedGameID)

	_, err = newBetService(newMemBets(b), nil, nil).LedgerState(context.Background(), b.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func mustBetID(t *testing.T, b domain.SignedBet) common.Hash {
	t.Helper()
	s := newBetService(newMemBets(), nil, nil)
	id, err := s.ids.BetID(b.Owner, b.Offer)
	require.NoError(t, err)
	return id
}

func TestPlaceUnsignedHouseOffer(t *testing.T) {
	house := newSigner(t)
	b := signedBet(t, house, 0x40000000, 3)
	b.Signature = domain.Signature{}

	_, err := newBetService(newMemBets(), nil, nil).Place(context.Background(), b.ID, b)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature, "unsigned offers need a house wallet")

	s := newBetService(newMemBets(), nil, nil).WithHouse(house.Address())
	got, err := s.Place(context.Background(), b.ID, b)
	require.NoError(t, err)
	assert.True(t, got.Signature.IsZero())

	stranger := signedBet(t, newSigner(t), 0x40000000, 3)
	stranger.Signature = domain.Signature{}
	_, err = s.Place(context.Background(), stranger.ID, stranger)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}
