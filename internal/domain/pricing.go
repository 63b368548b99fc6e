package domain

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"golang.org/x/text/currency"
)

var (
	// ErrUnsupportedCurrency is returned for currencies outside SupportedCurrencies.
	ErrUnsupportedCurrency = errors.New("pricing: unsupported currency")
	// ErrInvalidRate is returned for missing, zero or negative FX rates.
	ErrInvalidRate = errors.New("pricing: invalid fx rate")
	// ErrInvalidAmount is returned for non-finite or out-of-range amounts.
	ErrInvalidAmount = errors.New("pricing: invalid amount")
)

// ParseCurrency normalises a currency code and checks it is supported.
func ParseCurrency(code string) (Currency, error) {
	normalized := Currency(strings.ToUpper(strings.TrimSpace(code)))
	for _, supported := range SupportedCurrencies {
		if normalized == supported {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
}

// MinorUnitExponent returns the number of minor-unit digits for the currency (2 for EUR, USD and UAH).
func MinorUnitExponent(cur Currency) (int, error) {
	if _, err := ParseCurrency(string(cur)); err != nil {
		return 0, err
	}
	unit, err := currency.ParseISO(string(cur))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedCurrency, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

func minorFactor(cur Currency) (int64, error) {
	exp, err := MinorUnitExponent(cur)
	if err != nil {
		return 0, err
	}
	return pow10(exp), nil
}

// ToMinorUnits converts a whole-unit amount into minor units.
func ToMinorUnits(amount int64, cur Currency) (int64, error) {
	factor, err := minorFactor(cur)
	if err != nil {
		return 0, err
	}
	if amount > math.MaxInt64/factor || amount < math.MinInt64/factor {
		return 0, fmt.Errorf("%w: %d overflows minor units", ErrInvalidAmount, amount)
	}
	return amount * factor, nil
}

// ConvertFromEur converts a whole-euro amount to minor units of cur using an EUR based rate.
// The product is computed exactly and rounded half away from zero.
func ConvertFromEur(amountEur int64, rate *big.Rat, cur Currency) (int64, error) {
	if rate == nil || rate.Sign() <= 0 {
		return 0, ErrInvalidRate
	}
	factor, err := minorFactor(cur)
	if err != nil {
		return 0, err
	}
	product := new(big.Rat).SetInt64(amountEur)
	product.Mul(product, new(big.Rat).SetInt64(factor))
	product.Mul(product, rate)
	return roundHalfAwayFromZero(product)
}

// MinorFromMajor converts a decimal major-unit amount to minor units, rounding to the nearest unit.
func MinorFromMajor(amount float64, cur Currency) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("%w: not finite", ErrInvalidAmount)
	}
	factor, err := minorFactor(cur)
	if err != nil {
		return 0, err
	}
	scaled := math.Round(amount * float64(factor))
	if scaled > math.MaxInt64 || scaled < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v out of range", ErrInvalidAmount, amount)
	}
	return int64(scaled), nil
}

// FormatMinor renders minor units as a fixed-point major amount, e.g. 5000 EUR -> "50.00".
func FormatMinor(amountMinor int64, cur Currency) string {
	exp, err := MinorUnitExponent(cur)
	if err != nil || exp == 0 {
		return fmt.Sprintf("%d", amountMinor)
	}
	return new(big.Rat).SetFrac64(amountMinor, pow10(exp)).FloatString(exp)
}

// ParseRate parses a decimal FX rate such as "41.2345".
func ParseRate(value string) (*big.Rat, error) {
	rate, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok || rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRate, value)
	}
	return rate, nil
}

// ResolveBackorderPolicy applies the variant, product, collection precedence and defaults to DISALLOW.
func ResolveBackorderPolicy(variant, product, collection *BackorderPolicy) BackorderPolicy {
	for _, candidate := range []*BackorderPolicy{variant, product, collection} {
		if candidate != nil && *candidate != "" {
			return *candidate
		}
	}
	return BackorderDisallow
}

// BackorderPolicy resolves the effective policy for the line.
func (l CatalogLine) BackorderPolicy() BackorderPolicy {
	var collection *BackorderPolicy
	if l.Collection != nil {
		collection = l.Collection.BackorderPolicy
	}
	return ResolveBackorderPolicy(l.Variant.BackorderPolicy, l.Product.BackorderPolicy, collection)
}

// UnitPriceEur returns the variant price override or the product base price.
func (l CatalogLine) UnitPriceEur() int64 {
	if l.Variant.PriceEur != nil {
		return *l.Variant.PriceEur
	}
	return l.Product.BasePriceEur
}

// SubtotalEur sums the captured unit prices of the cart lines.
func (c Cart) SubtotalEur() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPriceEur * item.Quantity
	}
	return total
}

func roundHalfAwayFromZero(value *big.Rat) (int64, error) {
	num := new(big.Int).Set(value.Num())
	den := value.Denom()
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	rem.Abs(rem).Lsh(rem, 1)
	if rem.Cmp(den) >= 0 {
		if value.Sign() < 0 {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}
	if !quo.IsInt64() {
		return 0, fmt.Errorf("%w: result overflows", ErrInvalidAmount)
	}
	return quo.Int64(), nil
}

func pow10(exp int) int64 {
	out := int64(1)
	for i := 0; i < exp; i++ {
		out *= 10
	}
	return out
}
