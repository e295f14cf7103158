package matching

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/gamelog"
)

var (
	token       = common.HexToAddress("0x7070707070707070707070707070707070707070")
	betContract = common.HexToAddress("0xbebebebebebebebebebebebebebebebebebebebe")
	ether       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func tokens(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), ether) }

// wallets signs for every owner it holds a key for.
type wallets map[common.Address]*crypto.Signer

func (w wallets) SignTypedData(ctx context.Context, owner common.Address, fields []crypto.TypedField) (domain.Signature, error) {
	s, ok := w[owner]
	if !ok {
		return domain.Signature{}, errors.New("no wallet")
	}
	return s.SignTypedData(ctx, owner, fields)
}

func newWallet(t *testing.T, w wallets) *crypto.Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := crypto.NewSignerFromKey(pk)
	w[s.Address()] = s
	return s
}

func offer(prob uint64, stake int64) domain.BetOffer {
	return domain.BetOffer{
		Token:       token,
		Stake:       tokens(stake),
		Payout:      tokens(12),
		Prob:        prob,
		Expiry:      big.NewInt(2_000_000_000),
		Nonce:       big.NewInt(int64(prob) + stake),
		BetContract: betContract,
	}
}

func twoPartyBets(t *testing.T) (wallets, []domain.SignedBet) {
	w := wallets{}
	p1, p2 := newWallet(t, w), newWallet(t, w)
	return w, []domain.SignedBet{
		{Owner: p1.Address(), Offer: offer(0x40000000, 3)},
		{Owner: p2.Address(), Offer: offer(0xC0000000, 9)},
	}
}

func TestPackOutcomeSubscripts(t *testing.T) {
	got, err := PackOutcomeSubscripts([]uint8{1})
	require.NoError(t, err)
	assert.Equal(t, "0x0101000000000000000000000000000000000000000000000000000000000000", common.Hash(got).Hex())

	got, err = PackOutcomeSubscripts([]uint8{0})
	require.NoError(t, err)
	assert.Equal(t, "0x0100000000000000000000000000000000000000000000000000000000000000", common.Hash(got).Hex())

	subs, err := UnpackOutcomeSubscripts(got)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0}, subs)

	_, err = PackOutcomeSubscripts(make([]uint8, 32))
	require.ErrorIs(t, err, domain.ErrEncoding)
}

func TestTwoPartySettlement(t *testing.T) {
	w, bets := twoPartyBets(t)

	signed, err := CollectSignatures(context.Background(), w, bets)
	require.NoError(t, err)
	require.Len(t, signed, 2)

	call, err := BuildSettlement(signed, token, big.NewInt(1_900_000_000))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x40000000, 0xC0000000}, call.OutcomeProbs)
	require.Len(t, call.Bets, 2)
	assert.Equal(t, bets[0].Owner, call.Bets[0].Owner)
	assert.Equal(t, uint8(1), call.Bets[1].OutcomeSubscripts[0])
	assert.Equal(t, uint8(1), call.Bets[1].OutcomeSubscripts[1])

	x, err := chain.LoadExchange()
	require.NoError(t, err)
	data, err := x.PackStartGame(call)
	require.NoError(t, err)
	assert.Equal(t, x.ABI().Methods["startGame"].ID, data[:4])

	// Replay what the ledger emits for this call and settle it.
	ids := crypto.DefaultIDs()
	var events []gamelog.Event
	for i, b := range call.Bets {
		betID, err := ids.BetID(b.Owner, signed[i].Offer)
		require.NoError(t, err)
		subs, err := UnpackOutcomeSubscripts(b.OutcomeSubscripts)
		require.NoError(t, err)
		events = append(events, gamelog.BetMatched{BetOwner: b.Owner, BetID: betID, Payout: b.Payout, OutcomeSubscripts: subs})
	}
	gameID := common.BigToHash(big.NewInt(1))
	events = append(events, gamelog.GameOpened{Name: chain.EventGameStarted, GameID: gameID, OutcomeProbs: call.OutcomeProbs})

	game, err := gamelog.Reconstruct(events, ids)
	require.NoError(t, err)
	require.NoError(t, gamelog.ApplyResult(game, big.NewInt(0x7fffffff)))

	require.Empty(t, gamelog.Claims(game, bets[0].Owner))
	claims := gamelog.Claims(game, bets[1].Owner)
	require.Len(t, claims, 1)
	require.NoError(t, gamelog.VerifyClaim(game.TicketsRoot, game.RandomNumber, claims[0], ids))

	calldata, err := x.PackClaimBet(claims[0])
	require.NoError(t, err)
	assert.Equal(t, x.ABI().Methods["claimBet"].ID, calldata[:4])

	loser := domain.ClaimFor(game.ID, game.Tickets[0])
	require.ErrorIs(t, gamelog.VerifyClaim(game.TicketsRoot, game.RandomNumber, loser, ids), domain.ErrInvalidClaim)
}

func TestBuildSettlementRejects(t *testing.T) {
	w, bets := twoPartyBets(t)
	signed, err := CollectSignatures(context.Background(), w, bets)
	require.NoError(t, err)

	clone := func() []domain.SignedBet {
		return append([]domain.SignedBet(nil), signed...)
	}
	expiry := big.NewInt(1_900_000_000)

	tests := []struct {
		name   string
		bets   func() []domain.SignedBet
		want   error
		expiry *big.Int
	}{
		{name: "empty", bets: func() []domain.SignedBet { return nil }, want: domain.ErrIncompatibleBatch},
		{name: "other token", bets: func() []domain.SignedBet {
			b := clone()
			b[1].Offer.Token = betContract
			return b
		}, want: domain.ErrIncompatibleBatch},
		{name: "other contract", bets: func() []domain.SignedBet {
			b := clone()
			b[1].Offer.BetContract = token
			return b
		}, want: domain.ErrIncompatibleBatch},
		{name: "unsigned", bets: func() []domain.SignedBet {
			b := clone()
			b[0].Signature = domain.Signature{}
			return b
		}, want: domain.ErrInvalidSignature},
		{name: "tampered terms", bets: func() []domain.SignedBet {
			b := clone()
			b[0].Offer.Payout = tokens(13)
			return b
		}, want: domain.ErrInvalidSignature},
		{name: "swapped owner", bets: func() []domain.SignedBet {
			b := clone()
			b[0].Owner, b[1].Owner = b[1].Owner, b[0].Owner
			return b
		}, want: domain.ErrInvalidSignature},
		{name: "probabilities short of 2^32", bets: func() []domain.SignedBet {
			return clone()[:1]
		}, want: domain.ErrInvalidProbability},
		{name: "same bet twice", bets: func() []domain.SignedBet {
			b := clone()
			return []domain.SignedBet{b[0], b[0]}
		}, want: domain.ErrIncompatibleBatch},
		{name: "no expiry", bets: clone, expiry: big.NewInt(0), want: domain.ErrIncompatibleBatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := expiry
			if tt.expiry != nil {
				e = tt.expiry
			}
			_, err := BuildSettlement(tt.bets(), token, e)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

type scriptedSource struct {
	wallets
	errs map[common.Address]error
}

func (s scriptedSource) SignTypedData(ctx context.Context, owner common.Address, fields []crypto.TypedField) (domain.Signature, error) {
	if err, ok := s.errs[owner]; ok {
		return domain.Signature{}, err
	}
	return s.wallets.SignTypedData(ctx, owner, fields)
}

func TestCollectSignaturesDropsAbandoned(t *testing.T) {
	w := wallets{}
	a, b, c := newWallet(t, w), newWallet(t, w), newWallet(t, w)
	bets := []domain.SignedBet{
		{Owner: a.Address(), Offer: offer(1, 1)},
		{Owner: b.Address(), Offer: offer(2, 1)},
		{Owner: c.Address(), Offer: offer(3, 1)},
	}
	src := scriptedSource{wallets: w, errs: map[common.Address]error{
		a.Address(): ErrAbandoned,
		c.Address(): context.Canceled,
	}}

	got, err := CollectSignatures(context.Background(), src, bets)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.Address(), got[0].Owner)
	require.NoError(t, crypto.VerifyOffer(got[0].Owner, got[0].Offer, got[0].Signature))
}

func TestCollectSignaturesAbortsOnFailure(t *testing.T) {
	w := wallets{}
	a, b := newWallet(t, w), newWallet(t, w)
	bets := []domain.SignedBet{
		{Owner: a.Address(), Offer: offer(1, 1)},
		{Owner: b.Address(), Offer: offer(2, 1)},
	}
	boom := errors.New("wallet offline")
	src := scriptedSource{wallets: w, errs: map[common.Address]error{b.Address(): boom}}

	_, err := CollectSignatures(context.Background(), src, bets)
	require.ErrorIs(t, err, boom)
}

func TestCollectSignaturesRejectsWrongKey(t *testing.T) {
	w := wallets{}
	a, b := newWallet(t, w), newWallet(t, w)
	// a's wallet answers for b.
	w[b.Address()] = a
	bets := []domain.SignedBet{{Owner: b.Address(), Offer: offer(1, 1)}}

	_, err := CollectSignatures(context.Background(), wrongKey{w}, bets)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

type wrongKey struct{ wallets }

func (s wrongKey) SignTypedData(_ context.Context, owner common.Address, fields []crypto.TypedField) (domain.Signature, error) {
	return s.wallets[owner].SignFields(fields)
}

func TestCollectSignaturesCancelledBatch(t *testing.T) {
	w, bets := twoPartyBets(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := scriptedSource{wallets: w, errs: map[common.Address]error{bets[0].Owner: context.Canceled}}
	_, err := CollectSignatures(ctx, src, bets)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCollectSignaturesKeepsExisting(t *testing.T) {
	w, bets := twoPartyBets(t)
	sig, err := w[bets[0].Owner].SignOffer(bets[0].Offer)
	require.NoError(t, err)
	bets[0].Signature = sig

	src := scriptedSource{wallets: w, errs: map[common.Address]error{bets[0].Owner: errors.New("must not be asked")}}
	got, err := CollectSignatures(context.Background(), src, bets)
	require.NoError(t, err)
	assert.Equal(t, sig, got[0].Signature)
}
