package kalshi

import (
	"encoding/json"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// Market is a single Kalshi contract as returned by the REST API. Prices
// are integer cents of the 100¢ payout.
type Market struct {
	Ticker      string   `json:"ticker"`
	EventTicker string   `json:"event_ticker"`
	Status      string   `json:"status"`
	StrikeType  string   `json:"strike_type"`
	FloorStrike *float64 `json:"floor_strike"`
	CapStrike   *float64 `json:"cap_strike"`
	YesBid      int64    `json:"yes_bid"`
	YesAsk      int64    `json:"yes_ask"`
	LastPrice   int64    `json:"last_price"`
	Volume      int64    `json:"volume"`
	Result      string   `json:"result"` // "", "yes", "no" or "void"
}

// Event is one city/date bucket with its nested strike-ladder markets.
type Event struct {
	EventTicker  string   `json:"event_ticker"`
	SeriesTicker string   `json:"series_ticker"`
	Title        string   `json:"title"`
	Markets      []Market `json:"markets"`
}

// Order is the venue's view of a submitted order.
type Order struct {
	OrderID   string `json:"order_id"`
	Ticker    string `json:"ticker"`
	Status    string `json:"status"`
	Side      string `json:"side"`
	Count     int64  `json:"taker_fill_count"`
	YesPrice  int64  `json:"yes_price"`
	NoPrice   int64  `json:"no_price"`
	CreatedAt string `json:"created_time"`
}

// OrderParams describes a limit buy for one side of a market.
type OrderParams struct {
	Ticker     string
	Side       domain.Side
	Contracts  int64
	PriceCents int64
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

type wsSubscribeCmd struct {
	ID     int64             `json:"id"`
	Cmd    string            `json:"cmd"`
	Params wsSubscribeParams `json:"params"`
}

type wsSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}

// wsTicker is the payload of the "ticker" channel: top-of-book and last
// trade for one market.
type wsTicker struct {
	Ticker    string `json:"market_ticker"`
	YesBid    int64  `json:"yes_bid"`
	YesAsk    int64  `json:"yes_ask"`
	LastPrice int64  `json:"price"`
	Volume    int64  `json:"volume"`
	Timestamp int64  `json:"ts"`
}

// Quote converts a REST market row into the internal quote shape.
func (m Market) Quote(location string, settlementDate time.Time, fetchedAt time.Time) domain.MarketQuote {
	return domain.MarketQuote{
		MarketID:       m.Ticker,
		EventID:        m.EventTicker,
		Location:       location,
		SettlementDate: settlementDate,
		StrikeType:     domain.StrikeType(m.StrikeType),
		FloorStrike:    m.FloorStrike,
		CapStrike:      m.CapStrike,
		YesBid:         m.YesBid,
		YesAsk:         m.YesAsk,
		LastPrice:      m.LastPrice,
		Volume:         m.Volume,
		FetchedAt:      fetchedAt,
	}
}
