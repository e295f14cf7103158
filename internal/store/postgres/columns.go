package postgres

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/johndpope/erc20bet/internal/domain"
)

// Addresses and hashes are stored as lower-case 0x hex so equality in SQL
// matches equality in Go.

func addrCol(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func hashCol(h common.Hash) string {
	return h.Hex()
}

func parseAddr(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("postgres: bad address column %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	if len(s) != 66 {
		return common.Hash{}, fmt.Errorf("postgres: bad hash column %q", s)
	}
	return common.HexToHash(s), nil
}

// numCol converts a uint256 to a NUMERIC parameter.
func numCol(n *big.Int) (decimal.Decimal, error) {
	if n == nil || n.Sign() < 0 {
		return decimal.Decimal{}, fmt.Errorf("postgres: amount %v: %w", n, domain.ErrEncoding)
	}
	return decimal.NewFromBigInt(n, 0), nil
}

// parseNum converts a scanned NUMERIC(78,0) back to a big.Int.
func parseNum(d decimal.Decimal) *big.Int {
	return d.BigInt()
}

// pageClause appends the ListOpts time window, ordering and paging to a
// query whose WHERE clause already has argIdx-1 parameters.
func pageClause(query string, args []any, opts domain.ListOpts, timeCol string) (string, []any) {
	argIdx := len(args) + 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
