package signal

import (
	"math"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/logging"
)

// Input is everything the fusion engine scores on. EntryPrice is nil when no
// position is open; a held position switches the engine to its more
// conservative parameter arm.
type Input struct {
	Symbol       string
	CurrentPrice float64
	// Forecast holds predicted closes for steps 1..H.
	Forecast []float64
	VWAP     float64
	BBUpper  float64
	BBLower  float64
	RSI      float64
	// PriceSeries and OBVSeries are the most recent aligned values, oldest
	// first, used for divergence regression.
	PriceSeries []float64
	OBVSeries   []float64
	EntryPrice  *float64
}

// Components itemizes every sub-score so a decision can be reconstructed from
// the logs alone.
type Components struct {
	DecayedForecast float64 `json:"decayed_forecast"`
	ForecastDiffPct float64 `json:"forecast_diff_pct"`
	VWAP            float64 `json:"vwap"`
	Bollinger       float64 `json:"bollinger"`
	RSI             float64 `json:"rsi"`
	OBVDivergence   float64 `json:"obv_divergence"`
	ProfitBias      float64 `json:"profit_bias"`
}

// Scores is the fused decision score and its parts.
type Scores struct {
	AIScore    float64    `json:"ai_score"`
	TAScore    float64    `json:"ta_score"`
	TotalScore float64    `json:"total_score"`
	Components Components `json:"components"`
}

// Engine computes the fused decision score. Pure: no side effects beyond
// logging.
type Engine struct {
	cfg    config.StrategyConfig
	logger logging.Logger
}

// NewEngine creates a fusion engine with the given strategy parameters.
func NewEngine(cfg config.StrategyConfig, logger logging.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.WithComponent("signal_fusion"),
	}
}

// Score fuses the AI forecast signal with the technical-analysis signal.
func (e *Engine) Score(in Input) Scores {
	held := in.EntryPrice != nil

	alpha := e.cfg.DecayAlphaFlat
	multiplier := e.cfg.AIMultiplierFlat
	if held {
		// Exits tolerate weaker conviction than entries.
		alpha = e.cfg.DecayAlphaHeld
		multiplier = e.cfg.AIMultiplierHeld
	}

	decayed := decayedAverage(in.Forecast, e.cfg.ForecastSteps, alpha)
	var diffPct float64
	if in.CurrentPrice != 0 && decayed != 0 {
		diffPct = (decayed - in.CurrentPrice) / in.CurrentPrice
	}
	aiScore := diffPct * multiplier

	components := Components{
		DecayedForecast: decayed,
		ForecastDiffPct: diffPct,
		VWAP:            e.vwapScore(in.CurrentPrice, in.VWAP),
		Bollinger:       e.bollingerScore(in.CurrentPrice, in.BBUpper, in.BBLower),
		RSI:             e.rsiScore(in.RSI),
		OBVDivergence:   e.obvDivergenceScore(in.PriceSeries, in.OBVSeries),
		ProfitBias:      e.profitBias(in.CurrentPrice, in.EntryPrice),
	}

	taScore := components.VWAP + components.Bollinger + components.RSI +
		components.OBVDivergence + components.ProfitBias

	scores := Scores{
		AIScore:    aiScore,
		TAScore:    taScore,
		TotalScore: aiScore + taScore,
		Components: components,
	}

	e.logger.WithSymbol(in.Symbol).Debug("Fused score",
		"ai", scores.AIScore, "ta", scores.TAScore, "total", scores.TotalScore,
		"vwap", components.VWAP, "bollinger", components.Bollinger,
		"rsi", components.RSI, "obv_divergence", components.OBVDivergence,
		"profit_bias", components.ProfitBias, "held", held)

	return scores
}

// decayedAverage weights forecast step i (0-based) with alpha^i, so a smaller
// alpha pulls the average toward near-term steps.
func decayedAverage(forecast []float64, steps int, alpha float64) float64 {
	if len(forecast) < steps {
		steps = len(forecast)
	}
	if steps == 0 {
		return 0
	}

	var weighted, weights float64
	weight := 1.0
	for i := 0; i < steps; i++ {
		weighted += forecast[i] * weight
		weights += weight
		weight *= alpha
	}
	return weighted / weights
}

// vwapScore is zero inside the dead band and then grows in discrete VWAPStep
// increments per additional 1% of deviation. VWAP above price is bullish.
func (e *Engine) vwapScore(price, vwap float64) float64 {
	if price == 0 {
		return 0
	}
	devPct := (vwap - price) / price * 100
	abs := math.Abs(devPct)
	if abs <= e.cfg.VWAPDeadBandPct {
		return 0
	}
	magnitude := e.cfg.VWAPStep * math.Ceil(abs-e.cfg.VWAPDeadBandPct)
	if devPct < 0 {
		return -magnitude
	}
	return magnitude
}

// bollingerScore maps the price position inside the bands to [-mult, +mult]:
// near the upper band bearish, near the lower band bullish.
func (e *Engine) bollingerScore(price, upper, lower float64) float64 {
	halfRange := (upper - lower) / 2
	if halfRange <= 0 {
		return 0
	}
	middle := (upper + lower) / 2
	return -((price - middle) / halfRange) * e.cfg.BBMultiplier
}

// rsiScore centers RSI at 50, normalizes to [-1,1] and squares the magnitude
// so extremes dominate. Overbought readings reduce the running score.
func (e *Engine) rsiScore(rsi float64) float64 {
	norm := (rsi - 50) / 50
	return -(norm * math.Abs(norm)) * e.cfg.RSIMultiplier
}

// obvDivergenceScore detects price/volume divergence: price trending one way
// while OBV trends the other. Slopes are normalized against the largest value
// in their own window (x1000) to make the two series comparable.
func (e *Engine) obvDivergenceScore(prices, obv []float64) float64 {
	w := e.cfg.OBVWindow
	if len(prices) < w || len(obv) < w {
		return 0
	}

	priceSlope := normalizedSlope(prices[len(prices)-w:])
	obvSlope := normalizedSlope(obv[len(obv)-w:])

	absPrice := math.Abs(priceSlope)
	if absPrice < e.cfg.OBVSlopeThreshold {
		return 0
	}

	maxSlope := math.Max(absPrice, math.Abs(obvSlope))
	if maxSlope == 0 {
		return 0
	}
	divergence := (priceSlope * -obvSlope) / maxSlope

	// Fade in as the price slope clears the threshold so the score does not
	// jump at the cutoff.
	scale := math.Min(1, (absPrice-e.cfg.OBVSlopeThreshold)/e.cfg.OBVSlopeThreshold)

	return divergence * scale * e.cfg.OBVWeight
}

// normalizedSlope is the least-squares slope of the window, normalized by the
// window's largest absolute value and scaled by 1000.
func normalizedSlope(window []float64) float64 {
	n := float64(len(window))
	var sumX, sumY, sumXY, sumXX float64
	var maxAbs float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
		if a := math.Abs(y); a > maxAbs {
			maxAbs = a
		}
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 || maxAbs == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	return slope / maxAbs * 1000
}

// profitBias nudges a profitable position toward the exit: never positive,
// zero when flat or under water.
func (e *Engine) profitBias(price float64, entry *float64) float64 {
	if entry == nil || *entry == 0 {
		return 0
	}
	gainPct := (price - *entry) / *entry * 100
	if gainPct <= 0 {
		return 0
	}
	return -gainPct * e.cfg.ProfitBiasFactor
}
