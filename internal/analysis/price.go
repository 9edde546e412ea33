package analysis

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidPrice is returned for strings without a leading amount.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrCurrencyMismatch is returned when adding prices in different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// maxWholeDigits keeps whole*100 inside int64.
const maxWholeDigits = 16

// Price is an amount in the currency's fractional unit, e.g. cents.
// An empty Currency matches any currency.
type Price struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency,omitempty"`
}

// ParsePrice reads "12.34" or the extraction form "12.34:EUR". Trailing
// characters after the number are ignored, so "12.34bloop" is 1234. Amounts
// with more than two decimals are rounded half away from zero.
func ParsePrice(s string) (Price, error) {
	amount, currency, _ := strings.Cut(strings.TrimSpace(s), ":")
	value, ok := parseFractional(amount)
	if !ok {
		return Price{}, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return Price{Value: value, Currency: strings.ToLower(strings.TrimSpace(currency))}, nil
}

func parseFractional(s string) (int64, bool) {
	i := 0
	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}

	var whole int64
	wholeDigits := 0
	for ; i < len(s) && isDigit(s[i]); i++ {
		whole = whole*10 + int64(s[i]-'0')
		wholeDigits++
	}
	if wholeDigits > maxWholeDigits {
		return 0, false
	}

	var frac int64
	fracDigits := 0
	roundUp := false
	if i < len(s) && s[i] == '.' {
		for i++; i < len(s) && isDigit(s[i]); i++ {
			switch {
			case fracDigits < 2:
				frac = frac*10 + int64(s[i]-'0')
			case fracDigits == 2:
				roundUp = s[i] >= '5'
			}
			fracDigits++
		}
	}
	if wholeDigits == 0 && fracDigits == 0 {
		return 0, false
	}
	if fracDigits == 1 {
		frac *= 10
	}

	v := whole*100 + frac
	if roundUp {
		v++
	}
	if neg {
		v = -v
	}
	return v, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Mul returns the price of n units.
func (p Price) Mul(n int) Price {
	return Price{Value: p.Value * int64(n), Currency: p.Currency}
}

// Add sums two prices. It fails when both carry different currencies.
func (p Price) Add(o Price) (Price, error) {
	currency := p.Currency
	switch {
	case currency == "":
		currency = o.Currency
	case o.Currency != "" && !strings.EqualFold(currency, o.Currency):
		return Price{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, p.Currency, o.Currency)
	}
	return Price{Value: p.Value + o.Value, Currency: currency}, nil
}

// String formats the amount in main units with two decimals, e.g. "-0.02".
func (p Price) String() string {
	v := p.Value
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ExtractionString formats the price the way extractions carry it, e.g. "12.34:EUR".
func (p Price) ExtractionString() string {
	if p.Currency == "" {
		return p.String()
	}
	return p.String() + ":" + strings.ToUpper(p.Currency)
}

// MainUnit is the signed whole part, e.g. "12" for 12.34 and "0" for -0.02.
func (p Price) MainUnit() string {
	return strconv.FormatInt(p.Value/100, 10)
}

// FractionalUnit is the unsigned fractional part with its separator, e.g. ".34".
func (p Price) FractionalUnit() string {
	cents := p.Value % 100
	if cents < 0 {
		cents = -cents
	}
	return fmt.Sprintf(".%02d", cents)
}
