package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/network"
)

// DialFunc opens a backend for a network.
type DialFunc func(ctx context.Context, n network.Network) (Backend, func(), error)

// Provider hands out one cached Contract per chain and implements
// domain.ContractProvider.
type Provider struct {
	registry *network.Registry
	opts     Options
	dial     DialFunc
	logger   *slog.Logger

	mu        sync.Mutex
	backends  map[uint64]Backend
	contracts map[uint64]*Contract
	closers   []func()
}

// NewProvider creates a Provider that dials networks from reg over JSON-RPC.
// opts.ChainID is ignored; each binding gets its network's chain id.
func NewProvider(reg *network.Registry, opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		registry:  reg,
		opts:      opts,
		dial:      DialRPC,
		logger:    logger.With(slog.String("component", "chain-provider")),
		backends:  make(map[uint64]Backend),
		contracts: make(map[uint64]*Contract),
	}
}

// WithDialer replaces the JSON-RPC dialer.
func (p *Provider) WithDialer(d DialFunc) *Provider {
	p.dial = d
	return p
}

// DialRPC dials n.RPCURL and checks that the endpoint serves n.ChainID.
func DialRPC(ctx context.Context, n network.Network) (Backend, func(), error) {
	client, err := ethclient.DialContext(ctx, n.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial %s: %w", n.Name, err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("chain: %s chain id: %w", n.Name, err)
	}
	if id.Uint64() != n.ChainID {
		client.Close()
		return nil, nil, fmt.Errorf("chain: %s rpc serves chain %s, want %d", n.Name, id, n.ChainID)
	}
	return client, client.Close, nil
}

// Backend returns the RPC backend for any configured network, deployed or not.
func (p *Provider) Backend(ctx context.Context, chainID uint64) (Backend, error) {
	n, ok := p.registry.Lookup(chainID)
	if !ok {
		return nil, fmt.Errorf("%w (chain %d)", domain.ErrUnsupportedNetwork, chainID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backendLocked(ctx, n)
}

func (p *Provider) backendLocked(ctx context.Context, n network.Network) (Backend, error) {
	if b, ok := p.backends[n.ChainID]; ok {
		return b, nil
	}
	b, closer, err := p.dial(ctx, n)
	if err != nil {
		return nil, err
	}
	p.backends[n.ChainID] = b
	if closer != nil {
		p.closers = append(p.closers, closer)
	}
	p.logger.InfoContext(ctx, "connected to network",
		slog.String("network", n.Name),
		slog.Uint64("chain_id", n.ChainID),
	)
	return b, nil
}

// ForChain returns the contract binding for chainID. Networks without a
// deployed contract yield domain.ErrUnsupportedNetwork.
func (p *Provider) ForChain(ctx context.Context, chainID uint64) (domain.MarketContract, error) {
	n, err := p.registry.Resolve(chainID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.contracts[chainID]; ok {
		return c, nil
	}
	b, err := p.backendLocked(ctx, n)
	if err != nil {
		return nil, err
	}
	opts := p.opts
	opts.ChainID = chainID
	c := NewContract(n.Contract, b, opts)
	p.contracts[chainID] = c
	return c, nil
}

// Close releases every dialed backend.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
	p.backends = make(map[uint64]Backend)
	p.contracts = make(map[uint64]*Contract)
}

var _ domain.ContractProvider = (*Provider)(nil)
