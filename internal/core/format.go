// Package core provides display formatting for dashboard values.
//
// This file contains the helpers the dashboard uses when rendering amounts,
// counterparty addresses and time-series labels.
package core

import (
	"math"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// UnknownAddress is shown in place of a missing address.
const UnknownAddress = "Unknown"

const dateLabelLayout = "Jan 2, 15:04"

var usPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatCurrency renders v as US dollars with thousands separators and
// exactly two decimals.
//
// Examples:
//
//	FormatCurrency(1234.5) -> "$1,234.50"
//	FormatCurrency(-3)     -> "-$3.00"
func FormatCurrency(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	s := usPrinter.Sprintf("%.2f", math.Abs(v))
	if v < 0 && s != "0.00" {
		return "-$" + s
	}
	return "$" + s
}

// ShortenAddress keeps the first 6 and last 4 characters of an address.
// Empty addresses render as "Unknown"; addresses too short to shorten are
// returned unchanged.
func ShortenAddress(addr string) string {
	if addr == "" {
		return UnknownAddress
	}
	if utf8.RuneCountInString(addr) <= 10 {
		return addr
	}
	r := []rune(addr)
	return string(r[:6]) + "..." + string(r[len(r)-4:])
}

// FormatDateLabel turns a time-series label such as "2024-01-01 10:00" into
// "Jan 1, 10:00". Labels that do not parse are returned as-is.
func FormatDateLabel(label string) string {
	t, ok := ParseTimestamp(label, time.Local)
	if !ok {
		return label
	}
	return t.Format(dateLabelLayout)
}

// FormatTime renders an instant with the same layout used for labels.
func FormatTime(t time.Time) string {
	return t.Format(dateLabelLayout)
}
