package edge

import (
	"math"
	"testing"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// testConfig mirrors the paper-mode thresholds.
func testConfig() Config {
	return Config{
		ModelWeight:          0.3,
		MinVolume:            10,
		MaxSpreadCents:       30,
		StrikeProximityF:     0.2,
		MinYesPriceCents:     5,
		MinNoPriceCents:      5,
		MaxProviderSpreadF:   6.0,
		MaxDisagreementCents: 40,
		MaxFairMarketRatio:   3.5,
		MinEdgeCents:         10,
		MaxEdgeCents:         60,
		MinConfidence:        0.5,
	}
}

func strike(v float64) *float64 { return &v }

// quoteAbove builds a greater-than contract whose floor strike sits below
// the forecast mean by meanMinusFloor °F.
func quoteAbove(mean, sigma, meanMinusFloor float64, yesBid, yesAsk int64) (domain.AggregatedForecast, domain.MarketQuote) {
	date := time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC)
	f := domain.AggregatedForecast{
		Location:       "PHX",
		SettlementDate: date,
		Mean:           mean,
		StdDev:         sigma,
		Confidence:     0.9,
		ProviderSpread: 2.0,
		ProviderCount:  3,
	}
	q := domain.MarketQuote{
		MarketID:       "KXHIGHTPHX-26JUL16-T105",
		Location:       "PHX",
		SettlementDate: date,
		StrikeType:     domain.StrikeGreater,
		FloorStrike:    strike(mean - meanMinusFloor),
		YesBid:         yesBid,
		YesAsk:         yesAsk,
		Volume:         500,
	}
	return f, q
}

func rejectedWith(t *testing.T, err error, filter string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected rejection %q, got a signal", filter)
	}
	fr, ok := domain.AsFilterRejection(err)
	if !ok {
		t.Fatalf("expected a filter rejection, got %v", err)
	}
	if fr.Filter != filter {
		t.Fatalf("rejected by %q (%s), want %q", fr.Filter, fr.Detail, filter)
	}
}

func TestEvaluateAcceptsYesSignal(t *testing.T) {
	cfg := testConfig()
	cfg.MinEdgeCents = 4
	calc := NewCalculator(cfg)

	// Model is near-certain (P≈0.999) while the market asks 70¢. The blend
	// clamps the model at 0.98: 0.3×0.98 + 0.7×0.70 = 0.784 → 78¢ fair.
	f, q := quoteAbove(106.0, 2.0, 6.0, 65, 70)

	sig, err := calc.Evaluate(f, q)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if sig.Side != domain.SideYes {
		t.Errorf("side = %s, want yes", sig.Side)
	}
	if sig.PriceCents != 70 {
		t.Errorf("price = %d¢, want 70¢", sig.PriceCents)
	}
	if sig.BlendedFairCents != 78 {
		t.Errorf("blended fair = %d¢, want 78¢", sig.BlendedFairCents)
	}
	// Raw edge 78−70 minus half the 5¢ spread, scaled by confidence 0.9.
	approx := func(name string, got, want float64) {
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s = %.4f, want %.4f", name, got, want)
		}
	}
	approx("raw edge", sig.RawEdgeCents, 5.5)
	approx("adjusted edge", sig.AdjustedEdgeCents, 4.95)
}

func TestEvaluateAcceptsNoSignal(t *testing.T) {
	cfg := testConfig()
	cfg.MinEdgeCents = 4
	calc := NewCalculator(cfg)

	// Forecast sits 5σ below the strike, so YES is nearly worthless. The
	// market still bids 30¢ for YES; buying NO at 70¢ carries the edge.
	f, q := quoteAbove(90.0, 2.0, -10.0, 30, 35)

	sig, err := calc.Evaluate(f, q)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if sig.Side != domain.SideNo {
		t.Errorf("side = %s, want no", sig.Side)
	}
	if sig.PriceCents != 70 {
		t.Errorf("no price = %d¢, want 100−bid = 70¢", sig.PriceCents)
	}
	if sig.AdjustedEdgeCents < cfg.MinEdgeCents {
		t.Errorf("adjusted edge = %.2f¢, want >= %.2f¢", sig.AdjustedEdgeCents, cfg.MinEdgeCents)
	}
}

func TestEvaluateSmallEdgeIsRejected(t *testing.T) {
	calc := NewCalculator(testConfig())

	// Model fair ≈ 0.70 against a 55¢ ask: blended fair lands near 60¢, so
	// the spread-adjusted, confidence-scaled edge is about 2¢, far below
	// the 10¢ minimum. z for P=0.70 is 0.5244.
	f, q := quoteAbove(85.0, 2.0, 2*0.5244005, 50, 55)

	_, err := calc.Evaluate(f, q)
	rejectedWith(t, err, ReasonEdgeTooSmall)
}

func TestEvaluateMarketLevelFilters(t *testing.T) {
	calc := NewCalculator(testConfig())

	tests := []struct {
		name   string
		mutate func(f *domain.AggregatedForecast, q *domain.MarketQuote)
		filter string
	}{
		{
			"thin volume",
			func(_ *domain.AggregatedForecast, q *domain.MarketQuote) { q.Volume = 5 },
			ReasonVolumeFloor,
		},
		{
			"unquoted market",
			func(_ *domain.AggregatedForecast, q *domain.MarketQuote) { q.YesBid, q.YesAsk = 0, 0 },
			ReasonVolumeFloor,
		},
		{
			"wide spread",
			func(_ *domain.AggregatedForecast, q *domain.MarketQuote) { q.YesBid, q.YesAsk = 10, 45 },
			ReasonSpreadCap,
		},
		{
			"forecast on the strike",
			func(f *domain.AggregatedForecast, q *domain.MarketQuote) { q.FloorStrike = strike(f.Mean + 0.1) },
			ReasonStrikeProximity,
		},
		{
			"ensemble disagreement",
			func(f *domain.AggregatedForecast, _ *domain.MarketQuote) { f.ProviderSpread = 8.0 },
			ReasonProviderDisagreement,
		},
		{
			"low confidence",
			func(f *domain.AggregatedForecast, _ *domain.MarketQuote) { f.Confidence = 0.3 },
			ReasonLowConfidence,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, q := quoteAbove(106.0, 2.0, 6.0, 65, 70)
			tc.mutate(&f, &q)
			_, err := calc.Evaluate(f, q)
			rejectedWith(t, err, tc.filter)
		})
	}
}

func TestEvaluatePriceFloor(t *testing.T) {
	calc := NewCalculator(testConfig())

	// Ask below the YES floor and bid too low for the NO side; the YES-side
	// reason surfaces when both sides reject.
	f, q := quoteAbove(106.0, 2.0, 6.0, 1, 3)
	_, err := calc.Evaluate(f, q)
	rejectedWith(t, err, ReasonPriceFloor)

	// Near-certain ask is uninvestable even with a confident model.
	f, q = quoteAbove(106.0, 2.0, 6.0, 95, 96)
	_, err = calc.Evaluate(f, q)
	rejectedWith(t, err, ReasonPriceFloor)
}

func TestEvaluateModelMarketDisagreement(t *testing.T) {
	calc := NewCalculator(testConfig())

	// Model says ~100¢, market asks 40¢: a 60¢ gap reads as a data problem,
	// not an opportunity.
	f, q := quoteAbove(106.0, 2.0, 6.0, 35, 40)
	_, err := calc.Evaluate(f, q)
	rejectedWith(t, err, ReasonModelDisagreement)
}

func TestEvaluateFairMarketRatio(t *testing.T) {
	cfg := testConfig()
	cfg.ModelWeight = 0.9
	calc := NewCalculator(cfg)

	// Model P≈0.35 against a 6¢ ask: the gap passes (29¢ ≤ 40¢) but the
	// blended fair of 32¢ is over 5× the price, which trips the ratio cap.
	f, q := quoteAbove(80.0, 2.0, -2*0.3853205, 6, 6)
	_, err := calc.Evaluate(f, q)
	rejectedWith(t, err, ReasonFairMarketRatio)
}

func TestEvaluateEdgeCap(t *testing.T) {
	cfg := testConfig()
	cfg.ModelWeight = 0.9
	cfg.MaxDisagreementCents = 100
	cfg.MaxFairMarketRatio = 100
	calc := NewCalculator(cfg)

	// A near-certain model against a 5¢ ask produces an implausible 75¢+
	// edge; the sanity cap rejects it rather than sizing into bad data.
	f, q := quoteAbove(106.0, 2.0, 6.0, 5, 5)
	_, err := calc.Evaluate(f, q)
	rejectedWith(t, err, ReasonEdgeCap)
}

func TestBlendClampsInputs(t *testing.T) {
	calc := NewCalculator(testConfig())

	got := calc.Blend(1.5, -0.2)
	want := 0.3*0.98 + 0.7*0.02
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("blend = %.4f, want %.4f with clamped inputs", got, want)
	}
}
