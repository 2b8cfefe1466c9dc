package aggregate

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	weiDecimals  = 18
	gweiDecimals = 9
)

var (
	weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(weiDecimals), nil)
	weiPerGwei  = new(big.Int).Exp(big.NewInt(10), big.NewInt(gweiDecimals), nil)
)

// formatUnits renders value / 10^decimals as an exact decimal string.
func formatUnits(value *big.Int, decimals uint8) string {
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

// ratToFloat converts value / unit into a float64 for display.
func ratToFloat(value *big.Rat, unit *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Rat).Quo(value, new(big.Rat).SetInt(unit)).Float64()
	return f
}

func weiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return ratToFloat(new(big.Rat).SetInt(wei), weiPerEther)
}

func weiToGwei(wei *big.Rat) float64 {
	return ratToFloat(wei, weiPerGwei)
}

// ratFloor returns the integer part of a non-negative rational.
func ratFloor(value *big.Rat) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return new(big.Int).Quo(value.Num(), value.Denom())
}

func toBig(value *uint256.Int) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return value.ToBig()
}
