package service

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/network"
	"github.com/alanyoungcy/chainbet/internal/units"
)

// tokenMeta is what the views need to know about a market's settlement token.
type tokenMeta struct {
	Symbol   string
	Decimals uint8
}

func marketView(m domain.Market, net network.Network, tok tokenMeta, now time.Time) domain.MarketView {
	v := domain.MarketView{
		ID:           m.ID,
		Question:     m.Question,
		TargetPrice:  units.FormatFixed(m.TargetPrice, domain.TargetPriceDecimals, 2),
		Deadline:     m.Deadline,
		Expired:      m.Expired(now),
		TimeLeft:     timeLeft(m.Deadline, now),
		Resolved:     m.Resolved,
		TotalYes:     units.FormatUnits(m.TotalYes, tok.Decimals),
		TotalNo:      units.FormatUnits(m.TotalNo, tok.Decimals),
		TotalPool:    units.FormatUnits(m.Pool(), tok.Decimals),
		YesPercent:   YesPercent(m.TotalYes, m.TotalNo).StringFixed(2),
		YesOdds:      Odds(m.TotalYes, m.TotalNo, true).StringFixed(2),
		NoOdds:       Odds(m.TotalYes, m.TotalNo, false).StringFixed(2),
		TotalBettors: m.TotalBettors,
		Token:        m.Token.Hex(),
		TokenSymbol:  tok.Symbol,
		Oracle:       m.PriceOracle.Hex(),
		OracleSymbol: net.OracleSymbol(m.PriceOracle),
	}
	if m.Resolved {
		outcome := m.Outcome
		v.Outcome = &outcome
	}
	return v
}

func betView(b domain.Bet, m domain.Market, tok tokenMeta) domain.BetView {
	v := domain.BetView{
		MarketID:    b.MarketID,
		Question:    m.Question,
		Amount:      units.FormatUnits(b.Amount, tok.Decimals),
		Prediction:  predictionLabel(b.Prediction),
		Claimed:     b.Claimed,
		Status:      betStatus(b, m),
		TokenSymbol: tok.Symbol,
		Deadline:    m.Deadline,
	}
	v.Claimable = v.Status == domain.BetStatusWon && !b.Claimed
	return v
}

func betStatus(b domain.Bet, m domain.Market) domain.BetStatus {
	switch {
	case !m.Resolved:
		return domain.BetStatusActive
	case b.Won(m):
		return domain.BetStatusWon
	default:
		return domain.BetStatusLost
	}
}

func predictionLabel(yes bool) string {
	if yes {
		return "YES"
	}
	return "NO"
}

// timeLeft renders the distance to the deadline at the coarsest useful unit,
// e.g. "in 3 days" or "2 hours ago".
func timeLeft(deadline, now time.Time) string {
	d := deadline.Sub(now)
	past := d < 0
	if past {
		d = -d
	}
	var s string
	switch {
	case d < time.Minute:
		s = "less than a minute"
	case d < time.Hour:
		s = plural(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		s = plural(int(d/time.Hour), "hour")
	default:
		s = plural(int(d/(24*time.Hour)), "day")
	}
	if past {
		return s + " ago"
	}
	return "in " + s
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
