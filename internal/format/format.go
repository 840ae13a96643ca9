// Package format renders pool statistics for display.
package format

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// ToFixed truncates v to at most places decimal digits. Trailing zeros are
// not padded. Non-finite values render as NaN, +Inf or -Inf.
func ToFixed(v float64, places int32) string {
	if s, ok := nonFinite(v); ok {
		return s
	}
	return decimal.NewFromFloat(v).Truncate(places).String()
}

// Percent renders v truncated to 4 decimals with a percent sign.
func Percent(v float64) string {
	return ToFixed(v, 4) + "%"
}

// ToDollar renders v as US dollars with two decimals and thousands
// separators. Infinite values render as $∞ or -$∞ and NaN as $NaN, the way
// browser currency formatters show them.
func ToDollar(v float64) string {
	switch {
	case math.IsNaN(v):
		return "$NaN"
	case math.IsInf(v, 1):
		return "$∞"
	case math.IsInf(v, -1):
		return "-$∞"
	}

	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	return sign + "$" + printer.Sprintf("%.2f", d.InexactFloat64())
}

func nonFinite(v float64) (string, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}
