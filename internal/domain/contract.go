package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MarketReader is the read surface of the prediction-market contract and its tokens.
type MarketReader interface {
	MarketCounter(ctx context.Context) (uint64, error)
	MarketInfo(ctx context.Context, id uint64) (Market, error)
	UserBet(ctx context.Context, id uint64, account common.Address) (Bet, error)
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
	TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// MarketWriter submits transactions. Each call returns once the tx is broadcast.
type MarketWriter interface {
	CreateMarket(ctx context.Context, p CreateMarketParams) (common.Hash, error)
	PlaceBet(ctx context.Context, id uint64, prediction bool, amount *big.Int) (common.Hash, error)
	ResolveMarket(ctx context.Context, id uint64) (common.Hash, error)
	ClaimReward(ctx context.Context, id uint64) (common.Hash, error)
	ApproveToken(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error)
}

// TxWatcher blocks until a transaction is mined.
type TxWatcher interface {
	WaitMined(ctx context.Context, hash common.Hash) (TxReceipt, error)
}

// MarketContract is a binding to one deployed prediction-market contract.
type MarketContract interface {
	MarketReader
	MarketWriter
	TxWatcher
	Address() common.Address
	// Signer is the zero address when the binding is read-only.
	Signer() common.Address
}

// ContractProvider resolves the contract binding for a chain.
type ContractProvider interface {
	ForChain(ctx context.Context, chainID uint64) (MarketContract, error)
}
