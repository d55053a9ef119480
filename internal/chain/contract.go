package chain

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/cascadebot/internal/crypto"
	"github.com/alanyoungcy/cascadebot/internal/domain"
)

//go:embed abi/cascade.json
var cascadeABI []byte

const (
	defaultGasMarginPct = 20
	defaultPollInterval = time.Second
)

// LoadABI parses the ABI at path, or the built-in emitCascade/claimYield ABI
// when path is empty.
func LoadABI(path string) (abi.ABI, error) {
	data := cascadeABI
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("chain: reading abi: %w", err)
		}
		data = b
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("chain: parsing abi: %w", err)
	}
	return parsed, nil
}

// Backend is the subset of ethclient.Client used to submit calls.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ContractOption configures a Contract.
type ContractOption func(*Contract)

// WithGasMargin pads estimated gas by pct percent.
func WithGasMargin(pct uint64) ContractOption {
	return func(c *Contract) { c.gasMarginPct = pct }
}

// WithPollInterval sets how often Wait polls for a receipt.
func WithPollInterval(d time.Duration) ContractOption {
	return func(c *Contract) { c.pollInterval = d }
}

// Contract submits legacy (fixed gas price) transactions to the
// notification contract. Nonces are assigned locally under a mutex so that
// concurrent units never reuse one.
type Contract struct {
	address common.Address
	abi     abi.ABI
	backend Backend
	signer  *crypto.TxSigner

	gasMarginPct uint64
	pollInterval time.Duration

	mu         sync.Mutex
	nonce      uint64
	nonceKnown bool

	logger *slog.Logger
}

// NewContract binds address with the given ABI.
func NewContract(address common.Address, parsed abi.ABI, backend Backend, signer *crypto.TxSigner, logger *slog.Logger, opts ...ContractOption) *Contract {
	c := &Contract{
		address:      address,
		abi:          parsed,
		backend:      backend,
		signer:       signer,
		gasMarginPct: defaultGasMarginPct,
		pollInterval: defaultPollInterval,
		logger:       logger.With(slog.String("component", "contract")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Address returns the contract address.
func (c *Contract) Address() common.Address { return c.address }

// Invoke packs method(args...), signs it at gasPrice and broadcasts it.
func (c *Contract) Invoke(ctx context.Context, method string, gasPrice *big.Int, args ...any) (domain.Submission, error) {
	if gasPrice == nil {
		return nil, fmt.Errorf("chain: %s: gas price is required", method)
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	from := c.signer.From()
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &c.address,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: %w: estimate %s: %v", domain.ErrCallFailed, method, err)
	}
	gas += gas * c.gasMarginPct / 100

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.nonceKnown {
		n, err := c.backend.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("chain: pending nonce: %w", err)
		}
		c.nonce, c.nonceKnown = n, true
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    c.nonce,
		GasPrice: new(big.Int).Set(gasPrice),
		Gas:      gas,
		To:       &c.address,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := c.signer.Sign(tx)
	if err != nil {
		return nil, fmt.Errorf("chain: sign %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		// The node's view of our nonce may have moved; resync next time.
		c.nonceKnown = false
		return nil, fmt.Errorf("chain: %w: send %s: %v", domain.ErrCallFailed, method, err)
	}
	c.nonce++

	c.logger.DebugContext(ctx, "contract call submitted",
		slog.String("method", method),
		slog.String("call_tx", signed.Hash().Hex()),
		slog.Uint64("nonce", signed.Nonce()),
		slog.Uint64("gas", gas),
	)
	return &submission{
		hash:    signed.Hash(),
		method:  method,
		backend: c.backend,
		poll:    c.pollInterval,
	}, nil
}

type submission struct {
	hash    common.Hash
	method  string
	backend Backend
	poll    time.Duration
}

func (s *submission) TxHash() common.Hash { return s.hash }

// Wait polls for the receipt. A receipt with failed status is reported as
// domain.ErrCallReverted.
func (s *submission) Wait(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, s.hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("chain: %s %s: %w", s.method, s.hash.Hex(), domain.ErrCallReverted)
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: waiting for %s %s: %w", s.method, s.hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.ContractInvoker = (*Contract)(nil)
