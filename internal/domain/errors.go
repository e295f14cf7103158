package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Construction failures. They describe a bad input, never a transient
	// condition, so callers must not retry them.
	ErrEncoding           = errors.New("value does not fit its declared width")
	ErrOverflow           = errors.New("outcome weights overflow the sample space")
	ErrInvalidProbability = errors.New("invalid outcome probabilities")
	ErrEmptyTree          = errors.New("merkle tree needs at least one leaf")
	ErrDuplicateLeaf      = errors.New("merkle leaves are not unique")
	ErrMalformedLog       = errors.New("malformed game log")

	ErrInvalidSignature  = errors.New("invalid bet signature")
	ErrIncompatibleBatch = errors.New("bets cannot be matched together")
	ErrBetExpired        = errors.New("bet expired")
	ErrBetMatched        = errors.New("bet already matched")
	ErrInvalidClaim      = errors.New("claim rejected")
)
