package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each market's
// quote is stored at key "quote:{ticker}" with per-field values and a key
// TTL, so stale quotes expire on their own between scan cycles.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache with the given entry TTL. A TTL of zero
// keeps entries until overwritten.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(marketID string) string {
	return "quote:" + marketID
}

// Set stores the latest quote for a market.
func (qc *QuoteCache) Set(ctx context.Context, q domain.MarketQuote) error {
	key := quoteKey(q.MarketID)
	fields := map[string]interface{}{
		"event_id":        q.EventID,
		"location":        q.Location,
		"settlement_date": q.SettlementDate.UTC().Format("2006-01-02"),
		"strike_type":     string(q.StrikeType),
		"yes_bid":         strconv.FormatInt(q.YesBid, 10),
		"yes_ask":         strconv.FormatInt(q.YesAsk, 10),
		"last_price":      strconv.FormatInt(q.LastPrice, 10),
		"volume":          strconv.FormatInt(q.Volume, 10),
		"fetched_at":      strconv.FormatInt(q.FetchedAt.UnixNano(), 10),
	}
	if q.FloorStrike != nil {
		fields["floor_strike"] = strconv.FormatFloat(*q.FloorStrike, 'f', -1, 64)
	}
	if q.CapStrike != nil {
		fields["cap_strike"] = strconv.FormatFloat(*q.CapStrike, 'f', -1, 64)
	}

	pipe := qc.rdb.Pipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.MarketID, err)
	}
	return nil
}

// Get retrieves the latest quote for a market. It returns domain.ErrNotFound
// when the key does not exist or has expired.
func (qc *QuoteCache) Get(ctx context.Context, marketID string) (domain.MarketQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(marketID)).Result()
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: get quote %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.MarketQuote{}, domain.ErrNotFound
	}

	q := domain.MarketQuote{
		MarketID:   marketID,
		EventID:    vals["event_id"],
		Location:   vals["location"],
		StrikeType: domain.StrikeType(vals["strike_type"]),
	}
	if q.SettlementDate, err = time.Parse("2006-01-02", vals["settlement_date"]); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: parse settlement date for %s: %w", marketID, err)
	}
	if q.YesBid, err = strconv.ParseInt(vals["yes_bid"], 10, 64); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: parse yes_bid for %s: %w", marketID, err)
	}
	if q.YesAsk, err = strconv.ParseInt(vals["yes_ask"], 10, 64); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: parse yes_ask for %s: %w", marketID, err)
	}
	if q.LastPrice, err = strconv.ParseInt(vals["last_price"], 10, 64); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: parse last_price for %s: %w", marketID, err)
	}
	if q.Volume, err = strconv.ParseInt(vals["volume"], 10, 64); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: parse volume for %s: %w", marketID, err)
	}
	tsNano, err := strconv.ParseInt(vals["fetched_at"], 10, 64)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: parse fetched_at for %s: %w", marketID, err)
	}
	q.FetchedAt = time.Unix(0, tsNano).UTC()

	if s, ok := vals["floor_strike"]; ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.MarketQuote{}, fmt.Errorf("redis: parse floor_strike for %s: %w", marketID, err)
		}
		q.FloorStrike = &f
	}
	if s, ok := vals["cap_strike"]; ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.MarketQuote{}, fmt.Errorf("redis: parse cap_strike for %s: %w", marketID, err)
		}
		q.CapStrike = &f
	}
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
