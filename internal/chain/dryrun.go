package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// DryRunContract validates and logs calls without sending anything. Each
// call's pseudo transaction hash is the Keccak-256 of its calldata.
type DryRunContract struct {
	address common.Address
	abi     abi.ABI
	logger  *slog.Logger
}

// NewDryRunContract creates a DryRunContract.
func NewDryRunContract(address common.Address, parsed abi.ABI, logger *slog.Logger) *DryRunContract {
	return &DryRunContract{
		address: address,
		abi:     parsed,
		logger:  logger.With(slog.String("component", "contract"), slog.Bool("dry_run", true)),
	}
}

// Invoke implements domain.ContractInvoker.
func (c *DryRunContract) Invoke(ctx context.Context, method string, gasPrice *big.Int, args ...any) (domain.Submission, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	h := crypto.Keccak256Hash(data)
	c.logger.InfoContext(ctx, "dry run: contract call not sent",
		slog.String("contract", c.address.Hex()),
		slog.String("method", method),
		slog.String("gas_price", gasPrice.String()),
		slog.String("call_tx", h.Hex()),
	)
	return dryRunSubmission(h), nil
}

type dryRunSubmission common.Hash

func (s dryRunSubmission) TxHash() common.Hash      { return common.Hash(s) }
func (dryRunSubmission) Wait(context.Context) error { return nil }

var _ domain.ContractInvoker = (*DryRunContract)(nil)
