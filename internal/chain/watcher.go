package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// WaitMined waits for the receipt of hash until it is mined or ctx ends.
// A reverted receipt is returned together with domain.ErrTxReverted.
func (c *Contract) WaitMined(ctx context.Context, hash common.Hash) (domain.TxReceipt, error) {
	receipt, err := bind.WaitMinedHash(ctx, receiptSource{Backend: c.backend, logger: c.logger}, hash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.TxReceipt{Hash: hash}, fmt.Errorf("chain: tx %s: %w", hash.Hex(), domain.ErrTxTimeout)
		}
		return domain.TxReceipt{Hash: hash}, fmt.Errorf("chain: tx %s: %w", hash.Hex(), err)
	}

	out := domain.TxReceipt{
		Hash:        hash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}
	if !out.Success {
		return out, fmt.Errorf("chain: tx %s: %w", hash.Hex(), domain.ErrTxReverted)
	}
	return out, nil
}
