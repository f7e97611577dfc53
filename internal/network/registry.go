// Package network resolves per-chain contract, oracle and token descriptors.
package network

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/chainbet/internal/config"
	"github.com/alanyoungcy/chainbet/internal/domain"
)

// Token describes a settlement token on one network.
type Token struct {
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// Network is the binding configuration for one chain.
type Network struct {
	Key        string                    `json:"key"`
	Name       string                    `json:"name"`
	ChainID    uint64                    `json:"chain_id"`
	RPCURL     string                    `json:"-"`
	Explorer   string                    `json:"explorer"`
	Contract   common.Address            `json:"contract"`
	PriceFeeds map[string]common.Address `json:"price_feeds"`
	Tokens     map[string]Token          `json:"tokens"`
}

// Deployed reports whether a contract address is configured.
func (n Network) Deployed() bool {
	return n.Contract != (common.Address{})
}

// PriceFeed resolves an oracle symbol such as "BTC".
func (n Network) PriceFeed(symbol string) (common.Address, error) {
	addr, ok := n.PriceFeeds[strings.ToUpper(symbol)]
	if !ok || addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s on %s", domain.ErrUnknownOracle, symbol, n.Name)
	}
	return addr, nil
}

// OracleSymbol is the reverse lookup of PriceFeed. It returns "" when unknown.
func (n Network) OracleSymbol(addr common.Address) string {
	for sym, a := range n.PriceFeeds {
		if a == addr {
			return sym
		}
	}
	return ""
}

// Token resolves a token symbol such as "USDC".
func (n Network) Token(symbol string) (Token, error) {
	t, ok := n.Tokens[strings.ToUpper(symbol)]
	if !ok || t.Address == (common.Address{}) {
		return Token{}, fmt.Errorf("%w: %s on %s", domain.ErrUnknownToken, symbol, n.Name)
	}
	return t, nil
}

// TokenByAddress finds a configured token by its address.
func (n Network) TokenByAddress(addr common.Address) (Token, bool) {
	for _, t := range n.Tokens {
		if t.Address == addr {
			return t, true
		}
	}
	return Token{}, false
}

// TxURL returns the explorer link for a transaction hash.
func (n Network) TxURL(hash string) string {
	if n.Explorer == "" || hash == "" {
		return ""
	}
	return strings.TrimRight(n.Explorer, "/") + "/tx/" + hash
}

// AddressURL returns the explorer link for an address.
func (n Network) AddressURL(addr common.Address) string {
	if n.Explorer == "" {
		return ""
	}
	return strings.TrimRight(n.Explorer, "/") + "/address/" + addr.Hex()
}

// Registry is an immutable lookup of networks by chain id.
type Registry struct {
	byChain map[uint64]Network
}

// NewRegistry builds a registry from the given networks.
func NewRegistry(networks ...Network) *Registry {
	r := &Registry{byChain: make(map[uint64]Network, len(networks))}
	for _, n := range networks {
		r.byChain[n.ChainID] = n
	}
	return r
}

// FromConfig converts the TOML network tables into a Registry.
func FromConfig(cfgs map[string]config.NetworkConfig) (*Registry, error) {
	networks := make([]Network, 0, len(cfgs))
	for key, nc := range cfgs {
		n := Network{
			Key:        key,
			Name:       nc.Name,
			ChainID:    nc.ChainID,
			RPCURL:     nc.RPCURL,
			Explorer:   nc.Explorer,
			PriceFeeds: make(map[string]common.Address, len(nc.PriceFeeds)),
			Tokens:     make(map[string]Token, len(nc.Tokens)),
		}
		if n.Name == "" {
			n.Name = key
		}
		if nc.Contract != "" {
			if !common.IsHexAddress(nc.Contract) {
				return nil, fmt.Errorf("network: %s: invalid contract address %q", key, nc.Contract)
			}
			n.Contract = common.HexToAddress(nc.Contract)
		}
		for sym, addr := range nc.PriceFeeds {
			if !common.IsHexAddress(addr) {
				return nil, fmt.Errorf("network: %s: invalid price feed %s %q", key, sym, addr)
			}
			n.PriceFeeds[strings.ToUpper(sym)] = common.HexToAddress(addr)
		}
		for sym, tc := range nc.Tokens {
			if !common.IsHexAddress(tc.Address) {
				return nil, fmt.Errorf("network: %s: invalid token %s %q", key, sym, tc.Address)
			}
			sym = strings.ToUpper(sym)
			n.Tokens[sym] = Token{
				Symbol:   sym,
				Name:     tc.Name,
				Address:  common.HexToAddress(tc.Address),
				Decimals: uint8(tc.Decimals),
			}
		}
		networks = append(networks, n)
	}
	return NewRegistry(networks...), nil
}

// Lookup returns the network for chainID regardless of deployment status.
func (r *Registry) Lookup(chainID uint64) (Network, bool) {
	n, ok := r.byChain[chainID]
	return n, ok
}

// Resolve returns the network for chainID only when it has a deployed
// contract. Anything else is reported as an unsupported network.
func (r *Registry) Resolve(chainID uint64) (Network, error) {
	n, ok := r.byChain[chainID]
	if !ok || !n.Deployed() {
		return Network{}, fmt.Errorf("%w (chain %d)", domain.ErrUnsupportedNetwork, chainID)
	}
	return n, nil
}

// All returns every configured network ordered by chain id.
func (r *Registry) All() []Network {
	out := make([]Network, 0, len(r.byChain))
	for _, n := range r.byChain {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}
