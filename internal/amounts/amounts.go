package amounts

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Amounts are held in shannons, the smallest indivisible unit of the native
// token. 1 AI3 = 10^18 shannons. Stored and transmitted as integers only.

const Decimals = 18

var (
	ErrInvalidAmount  = errors.New("invalid AI3 amount")
	ErrNegativeAmount = errors.New("amount must not be negative")

	shannonsPerAI3 = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
	ai3Pattern     = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// ParseAI3 converts a decimal AI3 string such as "1.5" into shannons.
// At most 18 fractional digits are accepted.
func ParseAI3(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !ai3Pattern.MatchString(s) {
		return nil, errors.Join(ErrInvalidAmount, fmt.Errorf("amount: %q", s))
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > Decimals {
		return nil, errors.Join(ErrInvalidAmount, fmt.Errorf("more than %d fractional digits: %q", Decimals, s))
	}

	wholePart, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, errors.Join(ErrInvalidAmount, fmt.Errorf("amount: %q", s))
	}
	wholePart.Mul(wholePart, shannonsPerAI3)

	if frac != "" {
		fracPart, ok := new(big.Int).SetString(frac+strings.Repeat("0", Decimals-len(frac)), 10)
		if !ok {
			return nil, errors.Join(ErrInvalidAmount, fmt.Errorf("amount: %q", s))
		}
		wholePart.Add(wholePart, fracPart)
	}

	return wholePart, nil
}

// FormatAI3 renders shannons as a decimal AI3 string with trailing zeros
// trimmed, e.g. 1500000000000000000 -> "1.5".
func FormatAI3(shannons *big.Int) string {
	if shannons == nil {
		return "0"
	}

	quo, rem := new(big.Int).QuoRem(shannons, shannonsPerAI3, new(big.Int))
	if rem.Sign() == 0 {
		return quo.String()
	}

	frac := strings.TrimRight(fmt.Sprintf("%018s", rem.String()), "0")
	return quo.String() + "." + frac
}

// ParseShannons parses a non-negative decimal integer string of shannons.
func ParseShannons(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, errors.Join(ErrInvalidAmount, fmt.Errorf("shannons: %q", s))
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeAmount
	}

	return v, nil
}
