package chain

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/johndpope/erc20bet/internal/domain"
)

// ClientConfig holds the connection settings for the ledger node.
type ClientConfig struct {
	RPCURL          string
	ExchangeAddress common.Address
}

// Client reads receipts, logs and views of the exchange contract.
type Client struct {
	eth      *ethclient.Client
	exchange *Exchange
	address  common.Address
	logger   *slog.Logger
}

// Dial connects to the node at cfg.RPCURL.
func Dial(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("chain: rpc url is required")
	}
	x, err := LoadExchange()
	if err != nil {
		return nil, err
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	return &Client{
		eth:      eth,
		exchange: x,
		address:  cfg.ExchangeAddress,
		logger:   logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Health checks the node answers.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.eth.BlockNumber(ctx); err != nil {
		return fmt.Errorf("chain: health: %w", err)
	}
	return nil
}

// Exchange returns the ABI the client decodes with.
func (c *Client) Exchange() *Exchange {
	return c.exchange
}

// ReceiptLogs returns the exchange contract's logs of one transaction in
// log-index order, with the block number the transaction was mined in.
func (c *Client) ReceiptLogs(ctx context.Context, txHash common.Hash) ([]types.Log, *big.Int, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil, fmt.Errorf("chain: receipt %s: %w", txHash.Hex(), domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("chain: receipt %s: %w", txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil, fmt.Errorf("chain: tx %s reverted: %w", txHash.Hex(), domain.ErrMalformedLog)
	}
	logs := c.ownLogs(receipt.Logs)
	c.logger.DebugContext(ctx, "receipt logs",
		slog.String("tx", txHash.Hex()),
		slog.Int("total", len(receipt.Logs)),
		slog.Int("exchange", len(logs)),
	)
	return logs, receipt.BlockNumber, nil
}

// ResultLogs finds the oracle callback logs for a game mined at or after
// fromBlock.
func (c *Client) ResultLogs(ctx context.Context, gameID common.Hash, fromBlock *big.Int) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: fromBlock,
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{c.exchange.ResultTopics(), {gameID}},
	}
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("chain: filter result logs %s: %w", gameID.Hex(), err)
	}
	ptrs := make([]*types.Log, len(logs))
	for i := range logs {
		ptrs[i] = &logs[i]
	}
	return c.ownLogs(ptrs), nil
}

// LatestBlock returns the node's head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// SettlementTxs lists the transactions that opened a game in blocks
// [from, to], in ledger order.
func (c *Client) SettlementTxs(ctx context.Context, from, to uint64) ([]common.Hash, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{c.exchange.OpenTopics()},
	}
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("chain: filter settlement logs %d-%d: %w", from, to, err)
	}
	ptrs := make([]*types.Log, len(logs))
	for i := range logs {
		ptrs[i] = &logs[i]
	}
	var txs []common.Hash
	seen := make(map[common.Hash]bool)
	for _, l := range c.ownLogs(ptrs) {
		if !seen[l.TxHash] {
			seen[l.TxHash] = true
			txs = append(txs, l.TxHash)
		}
	}
	return txs, nil
}

// StoredGame reads the ledger's record of a game.
func (c *Client) StoredGame(ctx context.Context, gameID common.Hash) (StoredGame, error) {
	data, err := c.exchange.PackStoredGames(gameID)
	if err != nil {
		return StoredGame{}, fmt.Errorf("chain: pack storedGames: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return StoredGame{}, fmt.Errorf("chain: call storedGames: %w", err)
	}
	return c.exchange.UnpackStoredGame(out)
}

// BetInfo reads the ledger state of a bet. The contract keys bets by
// caller, so the call is made from the owner's address.
func (c *Client) BetInfo(ctx context.Context, owner common.Address, betID common.Hash) (BetInfo, error) {
	data, err := c.exchange.PackGetBetInfo(betID)
	if err != nil {
		return BetInfo{}, fmt.Errorf("chain: pack getBetInfo: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: owner, To: &c.address, Data: data}, nil)
	if err != nil {
		return BetInfo{}, fmt.Errorf("chain: call getBetInfo: %w", err)
	}
	return c.exchange.UnpackBetInfo(out)
}

// ownLogs keeps the exchange contract's logs, sorted by log index.
func (c *Client) ownLogs(all []*types.Log) []types.Log {
	out := make([]types.Log, 0, len(all))
	for _, l := range all {
		if l != nil && l.Address == c.address && !l.Removed {
			out = append(out, *l)
		}
	}
	slices.SortFunc(out, func(a, b types.Log) int {
		if a.BlockNumber != b.BlockNumber {
			return cmp.Compare(a.BlockNumber, b.BlockNumber)
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return out
}
