package aggregate

import (
	"math/big"
	"time"
)

const (
	ratioScale = 18

	// amountDecimals is the fixed-point scale of engine amounts.
	amountDecimals = 18
)

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(abs, denom)
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

func formatAmounts(values map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(values))
	for asset, v := range values {
		out[asset] = formatTokenAmount(v, amountDecimals)
	}
	return out
}

func computeRateFromInt(fee *big.Int, tvl *big.Int) *string {
	if fee == nil || fee.Sign() == 0 || tvl == nil || tvl.Sign() == 0 {
		return nil
	}
	rat := new(big.Rat).SetFrac(fee, tvl)
	val := rat.FloatString(ratioScale)
	return &val
}

func computeAPR(feeRate *string, windowSeconds uint64) *string {
	if windowSeconds == 0 || feeRate == nil {
		return nil
	}

	rat, ok := new(big.Rat).SetString(*feeRate)
	if !ok {
		return nil
	}
	yearSeconds := big.NewRat(int64(365*24*time.Hour/time.Second), 1)
	window := big.NewRat(int64(windowSeconds), 1)
	apr := new(big.Rat).Mul(rat, yearSeconds)
	apr.Quo(apr, window)
	val := apr.FloatString(ratioScale)
	return &val
}
