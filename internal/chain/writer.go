package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// CreateMarket submits createMarket. Duration is sent in whole seconds.
func (c *Contract) CreateMarket(ctx context.Context, p domain.CreateMarketParams) (common.Hash, error) {
	return c.transact(ctx, c.market, "createMarket",
		p.Question,
		p.TargetPrice,
		big.NewInt(int64(p.Duration.Seconds())),
		p.PriceOracle,
		p.Token,
	)
}

// PlaceBet submits placeBet. The token allowance must already cover amount.
func (c *Contract) PlaceBet(ctx context.Context, id uint64, prediction bool, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.market, "placeBet", new(big.Int).SetUint64(id), prediction, amount)
}

// ResolveMarket submits resolveMarket.
func (c *Contract) ResolveMarket(ctx context.Context, id uint64) (common.Hash, error) {
	return c.transact(ctx, c.market, "resolveMarket", new(big.Int).SetUint64(id))
}

// ClaimReward submits claimReward.
func (c *Contract) ClaimReward(ctx context.Context, id uint64) (common.Hash, error) {
	return c.transact(ctx, c.market, "claimReward", new(big.Int).SetUint64(id))
}

// ApproveToken lets the market contract pull amount of token from the wallet.
func (c *Contract) ApproveToken(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.boundAt(token, tokenABI), "approve", c.address, amount)
}

// transact signs and broadcasts method under the signer lock. Gas estimation
// runs the call first, so most reverts surface here before anything is sent.
func (c *Contract) transact(ctx context.Context, bound *bind.BoundContract, method string, args ...any) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, fmt.Errorf("chain: %s: %w", method, domain.ErrReadOnly)
	}

	release, err := c.acquireSigner(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	defer release()

	opts := &bind.TransactOpts{
		From:     c.signer.Address(),
		Signer:   c.signTx,
		GasLimit: c.gas,
		Context:  ctx,
	}
	tx, err := bound.Transact(opts, method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s: %w", method, err)
	}

	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
		slog.Uint64("gas", tx.Gas()),
	)
	return tx.Hash(), nil
}

// signTx is the bind.SignerFn over the configured TxSigner.
func (c *Contract) signTx(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	if from != c.signer.Address() {
		return nil, bind.ErrNotAuthorized
	}
	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	return signed, nil
}
