package market

import (
	"math"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// Indicator helpers. Scalar helpers return the value at the last element of
// the input; they return 0 when the lookback is not satisfied.

func closes(c []models.Candle) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		out[i] = c[i].Close
	}
	return out
}

func volumes(c []models.Candle) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		out[i] = c[i].Volume
	}
	return out
}

// SMA returns the simple average of the last n values.
func SMA(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// EMA returns the n-period exponential moving average seeded with the SMA of
// the first n values.
func EMA(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return 0
	}
	k := 2.0 / float64(n+1)
	ema := SMA(values[:n], n)
	for _, v := range values[n:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// RSISeries returns Wilder's RSI aligned to values. Indices before the first
// full window are NaN.
func RSISeries(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(values) <= n {
		return out
	}

	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(n)
	loss /= float64(n)
	out[n] = rsiValue(gain, loss)

	for i := n + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		gain = (gain*float64(n-1) + up) / float64(n)
		loss = (loss*float64(n-1) + down) / float64(n)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// RSI returns the last value of RSISeries, or 0.
func RSI(values []float64, n int) float64 {
	s := RSISeries(values, n)
	if len(s) == 0 || math.IsNaN(s[len(s)-1]) {
		return 0
	}
	return s[len(s)-1]
}

func trueRange(c models.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR returns Wilder's average true range.
func ATR(c []models.Candle, n int) float64 {
	if n <= 0 || len(c) <= n {
		return 0
	}
	var atr float64
	for i := 1; i <= n; i++ {
		atr += trueRange(c[i], c[i-1].Close)
	}
	atr /= float64(n)
	for i := n + 1; i < len(c); i++ {
		atr = (atr*float64(n-1) + trueRange(c[i], c[i-1].Close)) / float64(n)
	}
	return atr
}

// ADX returns Wilder's average directional index together with +DI and -DI.
// It needs at least 2n+1 candles.
func ADX(c []models.Candle, n int) (adx, plusDI, minusDI float64) {
	if n <= 0 || len(c) < 2*n+1 {
		return 0, 0, 0
	}

	var trS, plusS, minusS float64
	dx := make([]float64, 0, len(c))
	nf := float64(n)

	for i := 1; i < len(c); i++ {
		up := c[i].High - c[i-1].High
		down := c[i-1].Low - c[i].Low
		var plusDM, minusDM float64
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}
		tr := trueRange(c[i], c[i-1].Close)

		if i <= n {
			trS += tr
			plusS += plusDM
			minusS += minusDM
			if i < n {
				continue
			}
		} else {
			trS = trS - trS/nf + tr
			plusS = plusS - plusS/nf + plusDM
			minusS = minusS - minusS/nf + minusDM
		}

		if trS == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI = 100 * plusS / trS
		minusDI = 100 * minusS / trS
		if sum := plusDI + minusDI; sum > 0 {
			dx = append(dx, 100*math.Abs(plusDI-minusDI)/sum)
		} else {
			dx = append(dx, 0)
		}
	}

	if len(dx) < n {
		return 0, plusDI, minusDI
	}
	adx = SMA(dx[:n], n)
	for _, d := range dx[n:] {
		adx = (adx*(nf-1) + d) / nf
	}
	return adx, plusDI, minusDI
}

// Bollinger returns the n-period bands at k population standard deviations.
func Bollinger(values []float64, n int, k float64) (upper, middle, lower float64) {
	if n <= 0 || len(values) < n {
		return 0, 0, 0
	}
	window := values[len(values)-n:]
	middle = SMA(window, n)
	var variance float64
	for _, v := range window {
		variance += (v - middle) * (v - middle)
	}
	std := math.Sqrt(variance / float64(n))
	return middle + k*std, middle, middle - k*std
}

// StochRSI returns the smoothed %K and %D of the stochastic oscillator
// applied to RSI.
func StochRSI(values []float64, rsiN, stochN, kN, dN int) (k, d float64) {
	rsi := RSISeries(values, rsiN)

	var stoch []float64
	for i := range rsi {
		if i < rsiN+stochN-1 {
			continue
		}
		window := rsi[i-stochN+1 : i+1]
		lo, hi := window[0], window[0]
		for _, v := range window {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi-lo == 0 {
			stoch = append(stoch, 0)
			continue
		}
		stoch = append(stoch, (rsi[i]-lo)/(hi-lo)*100)
	}
	if len(stoch) < kN+dN-1 {
		return 0, 0
	}

	kSeries := make([]float64, 0, len(stoch))
	for i := kN; i <= len(stoch); i++ {
		kSeries = append(kSeries, SMA(stoch[:i], kN))
	}
	return kSeries[len(kSeries)-1], SMA(kSeries, dN)
}

// PivotPoints derives classic floor pivots from one closed bar.
func PivotPoints(c models.Candle) models.Pivots {
	p := (c.High + c.Low + c.Close) / 3
	rng := c.High - c.Low
	return models.Pivots{
		P:  p,
		R1: 2*p - c.Low,
		S1: 2*p - c.High,
		R2: p + rng,
		S2: p - rng,
	}
}

// Pearson returns the correlation coefficient of x and y. ok is false when
// the inputs differ in length, are empty or have zero variance.
func Pearson(x, y []float64) (r float64, ok bool) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}
	n := float64(len(x))
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	r = cov / math.Sqrt(vx*vy)
	if math.IsNaN(r) {
		return 0, false
	}
	return r, true
}
