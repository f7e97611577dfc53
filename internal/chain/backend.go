package chain

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the JSON-RPC surface the bindings need. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// TxSigner signs transactions for the wallet address it reports.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// gasHeadroom pads estimates by 20%.
const (
	gasHeadroomNum = 12
	gasHeadroomDen = 10
)

// paddedTransactor is the transactor handed to bound contracts. Estimates
// carry gasHeadroom.
type paddedTransactor struct {
	Backend
}

func (p paddedTransactor) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := p.Backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, err
	}
	return gas * gasHeadroomNum / gasHeadroomDen, nil
}

// receiptSource logs failed receipt lookups that bind.WaitMined retries
// silently.
type receiptSource struct {
	Backend
	logger *slog.Logger
}

func (r receiptSource) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := r.Backend.TransactionReceipt(ctx, hash)
	if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
		r.logger.WarnContext(ctx, "receipt lookup failed",
			slog.String("tx", hash.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return receipt, err
}

var _ Backend = (*ethclient.Client)(nil)
