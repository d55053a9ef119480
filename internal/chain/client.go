// Package chain adapts a go-ethereum node connection to the domain's
// pending-source, lookup and contract interfaces.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// Client wraps a streaming (WebSocket or IPC) RPC connection.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	geth    *gethclient.Client
	chainID *big.Int
	signer  types.Signer
	logger  *slog.Logger
}

// Dial connects to url and reads the chain ID. When wantChainID is non-zero
// and differs from the node's, Dial fails.
func Dial(ctx context.Context, url string, wantChainID int64, logger *slog.Logger) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	eth := ethclient.NewClient(rc)

	id, err := eth.ChainID(ctx)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if wantChainID != 0 && id.Cmp(big.NewInt(wantChainID)) != 0 {
		rc.Close()
		return nil, fmt.Errorf("chain: %w: node reports chain id %s, configured %d", domain.ErrInvalidConfig, id, wantChainID)
	}

	logger = logger.With(slog.String("component", "chain"))
	logger.Info("connected to node", slog.String("chain_id", id.String()))

	return &Client{
		rpc:     rc,
		eth:     eth,
		geth:    gethclient.New(rc),
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
		logger:  logger,
	}, nil
}

// ChainID returns a copy of the connected chain's ID.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Backend exposes the ethclient for contract submission.
func (c *Client) Backend() *ethclient.Client { return c.eth }

// Close releases the connection.
func (c *Client) Close() { c.rpc.Close() }

// Subscribe implements domain.PendingSource.
func (c *Client) Subscribe(ctx context.Context, ch chan<- common.Hash) (domain.Subscription, error) {
	sub, err := c.geth.SubscribePendingTransactions(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("chain: subscribe pending: %w", err)
	}
	return sub, nil
}

// PendingTx implements domain.TxLookup.
func (c *Client) PendingTx(ctx context.Context, hash common.Hash) (domain.PendingTx, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return domain.PendingTx{}, domain.ErrNotFound
		}
		return domain.PendingTx{}, fmt.Errorf("chain: transaction %s: %w", hash.Hex(), err)
	}
	return FromTransaction(tx, c.signer), nil
}

var (
	_ domain.PendingSource = (*Client)(nil)
	_ domain.TxLookup      = (*Client)(nil)
)
