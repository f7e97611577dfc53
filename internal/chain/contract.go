package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// Options configures a Contract binding.
type Options struct {
	ChainID uint64
	// Signer is nil for a read-only binding.
	Signer TxSigner
	// Locks serializes signing across replicas when set.
	Locks   domain.LockManager
	LockTTL time.Duration
	// GasLimit overrides gas estimation when non-zero.
	GasLimit uint64
	Logger   *slog.Logger
}

// Contract binds one deployed prediction-market contract. It implements
// domain.MarketContract.
type Contract struct {
	address common.Address
	chainID *big.Int
	backend Backend
	signer  TxSigner
	market  *bind.BoundContract
	locks   domain.LockManager
	lockTTL time.Duration
	gas     uint64
	logger  *slog.Logger

	// mu serializes nonce selection and broadcast for the local signer.
	mu sync.Mutex

	decMu    sync.RWMutex
	decimals map[common.Address]uint8
}

// NewContract creates a binding for the contract at address.
func NewContract(address common.Address, backend Backend, opts Options) *Contract {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	c := &Contract{
		address:  address,
		chainID:  new(big.Int).SetUint64(opts.ChainID),
		backend:  backend,
		signer:   opts.Signer,
		locks:    opts.Locks,
		lockTTL:  lockTTL,
		gas:      opts.GasLimit,
		logger:   logger.With(slog.String("component", "chain"), slog.Uint64("chain_id", opts.ChainID)),
		decimals: make(map[common.Address]uint8),
	}
	c.market = c.boundAt(address, marketABI)
	return c
}

// boundAt wraps the contract at address for transactions.
func (c *Contract) boundAt(address common.Address, parsed abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(address, parsed, c.backend, paddedTransactor{c.backend}, c.backend)
}

// Address returns the contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// Signer returns the wallet address, or the zero address when read-only.
func (c *Contract) Signer() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// acquireSigner takes the local mutex and, when configured, the distributed
// signer lock. The returned func releases both.
func (c *Contract) acquireSigner(ctx context.Context) (func(), error) {
	c.mu.Lock()
	if c.locks == nil {
		return c.mu.Unlock, nil
	}

	key := "signer:" + c.signer.Address().Hex()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		unlock, err := c.locks.Acquire(ctx, key, c.lockTTL)
		if err == nil {
			return func() {
				unlock()
				c.mu.Unlock()
			}, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			c.mu.Unlock()
			return nil, fmt.Errorf("chain: signer lock: %w", err)
		}
		select {
		case <-ctx.Done():
			c.mu.Unlock()
			return nil, fmt.Errorf("chain: signer lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.MarketContract = (*Contract)(nil)
