// Package chain binds the prediction-market contract and its settlement
// tokens over JSON-RPC.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// predictionMarketABI is the subset of the ChainBetPredictionMarket ABI the
// service calls.
const predictionMarketABI = `[
	{"name":"marketCounter","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"getMarketInfo","type":"function","stateMutability":"view",
	 "inputs":[{"name":"marketId","type":"uint256"}],
	 "outputs":[
		{"name":"question","type":"string"},
		{"name":"targetPrice","type":"uint256"},
		{"name":"deadline","type":"uint256"},
		{"name":"priceOracle","type":"address"},
		{"name":"resolved","type":"bool"},
		{"name":"outcome","type":"bool"},
		{"name":"totalYesBets","type":"uint256"},
		{"name":"totalNoBets","type":"uint256"},
		{"name":"totalBettors","type":"uint256"},
		{"name":"tokenAddress","type":"address"}
	 ]},
	{"name":"getUserBet","type":"function","stateMutability":"view",
	 "inputs":[{"name":"marketId","type":"uint256"},{"name":"user","type":"address"}],
	 "outputs":[
		{"name":"bettor","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"prediction","type":"bool"},
		{"name":"claimed","type":"bool"}
	 ]},
	{"name":"createMarket","type":"function","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"question","type":"string"},
		{"name":"targetPrice","type":"uint256"},
		{"name":"duration","type":"uint256"},
		{"name":"priceOracle","type":"address"},
		{"name":"tokenAddress","type":"address"}
	 ],"outputs":[]},
	{"name":"placeBet","type":"function","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"marketId","type":"uint256"},
		{"name":"prediction","type":"bool"},
		{"name":"amount","type":"uint256"}
	 ],"outputs":[]},
	{"name":"resolveMarket","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
	{"name":"claimReward","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
	{"name":"MarketCreated","type":"event","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"question","type":"string","indexed":false},
		{"name":"targetPrice","type":"uint256","indexed":false},
		{"name":"deadline","type":"uint256","indexed":false},
		{"name":"priceOracle","type":"address","indexed":false},
		{"name":"tokenAddress","type":"address","indexed":false}
	]},
	{"name":"BetPlaced","type":"event","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"bettor","type":"address","indexed":true},
		{"name":"prediction","type":"bool","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"name":"MarketResolved","type":"event","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"outcome","type":"bool","indexed":false},
		{"name":"finalPrice","type":"int256","indexed":false}
	]},
	{"name":"RewardClaimed","type":"event","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"bettor","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]}
]`

// erc20ABI covers the token calls used for balances and approvals.
const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint8"}]}
]`

var (
	marketABI = mustParseABI(predictionMarketABI)
	tokenABI  = mustParseABI(erc20ABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
