package domain

import "time"

// BetStatus is the display status of a user's bet.
type BetStatus string

const (
	BetStatusActive BetStatus = "active"
	BetStatusWon    BetStatus = "won"
	BetStatusLost   BetStatus = "lost"
)

// MarketView is the display-ready projection of a Market.
type MarketView struct {
	ID           uint64    `json:"id"`
	Question     string    `json:"question"`
	TargetPrice  string    `json:"target_price"`
	Deadline     time.Time `json:"deadline"`
	Expired      bool      `json:"expired"`
	TimeLeft     string    `json:"time_left"`
	Resolved     bool      `json:"resolved"`
	Outcome      *bool     `json:"outcome,omitempty"`
	TotalYes     string    `json:"total_yes"`
	TotalNo      string    `json:"total_no"`
	TotalPool    string    `json:"total_pool"`
	YesPercent   string    `json:"yes_percent"`
	YesOdds      string    `json:"yes_odds"`
	NoOdds       string    `json:"no_odds"`
	TotalBettors uint64    `json:"total_bettors"`
	Token        string    `json:"token"`
	TokenSymbol  string    `json:"token_symbol"`
	Oracle       string    `json:"oracle"`
	OracleSymbol string    `json:"oracle_symbol,omitempty"`
	// Stale is set when the view was served from a cached read.
	Stale bool `json:"stale,omitempty"`
}

// BetView is the display-ready projection of a Bet joined with its market.
type BetView struct {
	MarketID    uint64    `json:"market_id"`
	Question    string    `json:"question"`
	Amount      string    `json:"amount"`
	Prediction  string    `json:"prediction"`
	Claimed     bool      `json:"claimed"`
	Status      BetStatus `json:"status"`
	Claimable   bool      `json:"claimable"`
	TokenSymbol string    `json:"token_symbol"`
	Deadline    time.Time `json:"deadline"`
}

// Quote is the payout preview for a prospective bet.
type Quote struct {
	MarketID     uint64 `json:"market_id"`
	Prediction   string `json:"prediction"`
	Amount       string `json:"amount"`
	Odds         string `json:"odds"`
	PotentialWin string `json:"potential_win"`
	TokenSymbol  string `json:"token_symbol"`
}

// Controls tells a client which actions are currently allowed on a market.
type Controls struct {
	MarketID   uint64 `json:"market_id"`
	CanBet     bool   `json:"can_bet"`
	CanResolve bool   `json:"can_resolve"`
	CanClaim   bool   `json:"can_claim"`
	Busy       bool   `json:"busy"`
	Reason     string `json:"reason,omitempty"`
}

// DashboardState is the reconciled snapshot published to clients.
type DashboardState struct {
	Session     Session      `json:"session"`
	Network     string       `json:"network,omitempty"`
	Markets     []MarketView `json:"markets"`
	UserBets    []BetView    `json:"user_bets"`
	Busy        []string     `json:"busy"`
	CanWrite    bool         `json:"can_write"`
	Loading     bool         `json:"loading"`
	ConfigError string       `json:"config_error,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
	// Stale is set while the markets come from a snapshot restored at startup.
	Stale bool `json:"stale,omitempty"`
}

// Balance is an account's holding of one settlement token.
type Balance struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	Token   string `json:"token"`
	Raw     string `json:"raw"`
	Amount  string `json:"amount"`
}
