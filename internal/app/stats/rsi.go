package stats

import (
	"math/big"

	"github.com/R3E-Network/basket_oracle/internal/app/fixedpoint"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

var hundred = big.NewInt(100)

// RSI returns the relative strength index over the n price changes contained
// in prices[0:n+1], as an integer in [0, 100].
//
// prices[i] is newer than prices[i+1], so each change is prices[i]-prices[i+1].
// avgGain and avgLoss are the floored per-period sums and
// RSI = 100 - 100/(1+avgGain/avgLoss), every division flooring. An averaged
// loss of zero yields 100.
func RSI(prices []*big.Int, n int) (*big.Int, error) {
	return RSIScaled(prices, n, 0)
}

// RSIScaled is RSI in fixed point with decimals digits. With s = 10^decimals,
// RS is carried as avgGain*s/avgLoss and the result is 100*s - 100*s*s/(s+RS).
func RSIScaled(prices []*big.Int, n int, decimals uint32) (*big.Int, error) {
	gains, losses, err := gainsAndLosses(prices, n)
	if err != nil {
		return nil, err
	}
	periods := big.NewInt(int64(n))
	avgGain := fixedpoint.FloorDiv(gains, periods)
	avgLoss := fixedpoint.FloorDiv(losses, periods)

	scale := fixedpoint.Pow10(decimals)
	full := fixedpoint.Mul(hundred, scale)
	if avgLoss.Sign() == 0 {
		return full, nil
	}
	rs := fixedpoint.MulDiv(avgGain, scale, avgLoss)
	return fixedpoint.Sub(full, fixedpoint.MulDiv(full, scale, fixedpoint.Add(scale, rs)))
}

func gainsAndLosses(prices []*big.Int, n int) (*big.Int, *big.Int, error) {
	if n <= 0 {
		return nil, nil, errors.InvalidArgument("rsi period must be positive, got %d", n)
	}
	if len(prices) < n+1 {
		return nil, nil, errors.InsufficientData(n+1, len(prices))
	}
	gains, losses := new(big.Int), new(big.Int)
	delta := new(big.Int)
	for i := 0; i < n; i++ {
		newer, older := prices[i], prices[i+1]
		switch newer.Cmp(older) {
		case 1:
			gains.Add(gains, delta.Sub(newer, older))
		case -1:
			losses.Add(losses, delta.Sub(older, newer))
		}
	}
	return gains, losses, nil
}
