package network

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbet/internal/config"
	"github.com/alanyoungcy/chainbet/internal/domain"
)

func TestFromConfigDefaultsAreUndeployed(t *testing.T) {
	reg, err := FromConfig(config.DefaultNetworks())
	require.NoError(t, err)

	n, ok := reg.Lookup(11155111)
	require.True(t, ok)
	assert.Equal(t, "Sepolia", n.Name)
	assert.False(t, n.Deployed())

	_, err = reg.Resolve(11155111)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedNetwork))

	_, err = reg.Resolve(1)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedNetwork))
}

func TestNetworkLookups(t *testing.T) {
	cfgs := config.DefaultNetworks()
	sep := cfgs["sepolia"]
	sep.Contract = "0x00000000000000000000000000000000000000aa"
	cfgs["sepolia"] = sep

	reg, err := FromConfig(cfgs)
	require.NoError(t, err)

	n, err := reg.Resolve(11155111)
	require.NoError(t, err)

	feed, err := n.PriceFeed("btc")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1b44F3514812d835EB1BDB0acB33d3fA3351Ee43"), feed)
	assert.Equal(t, "BTC", n.OracleSymbol(feed))

	_, err = n.PriceFeed("DOGE")
	assert.True(t, errors.Is(err, domain.ErrUnknownOracle))

	usdc, err := n.Token("USDC")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), usdc.Decimals)
	byAddr, ok := n.TokenByAddress(usdc.Address)
	require.True(t, ok)
	assert.Equal(t, "USDC", byAddr.Symbol)

	_, err = n.Token("DAI")
	assert.True(t, errors.Is(err, domain.ErrUnknownToken))

	assert.Equal(t, "https://sepolia.etherscan.io/tx/0xabc", n.TxURL("0xabc"))
	assert.Len(t, reg.All(), 2)
	assert.Equal(t, uint64(80001), reg.All()[0].ChainID)
}

func TestFromConfigRejectsBadAddress(t *testing.T) {
	_, err := FromConfig(map[string]config.NetworkConfig{
		"bad": {ChainID: 5, Contract: "0x123"},
	})
	assert.Error(t, err)
}
