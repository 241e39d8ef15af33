package domain

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote_Segments(t *testing.T) {
	p := NewPricingPolicy(160, decimal.RequireFromString("0.01"), nil)

	tests := []struct {
		name     string
		body     string
		segments int
		cost     string
	}{
		{"one char", "a", 1, "0.01"},
		{"exactly one segment", strings.Repeat("a", 160), 1, "0.01"},
		{"one over", strings.Repeat("a", 161), 2, "0.02"},
		{"320 chars", strings.Repeat("a", 320), 2, "0.02"},
		{"multibyte counted as runes", strings.Repeat("é", 160), 1, "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := p.Quote("+15550001111", tt.body)
			assert.Equal(t, tt.segments, q.Segments)
			assert.True(t, q.Cost.Equal(decimal.RequireFromString(tt.cost)), "cost %s", q.Cost)
		})
	}
}

func TestQuote_LongestPrefixWins(t *testing.T) {
	prices, err := ParsePrefixPrices("+44=0.04, +447=0.05,+1=0.01")
	require.NoError(t, err)
	p := NewPricingPolicy(160, decimal.RequireFromString("0.02"), prices)

	assert.True(t, p.UnitPrice("+447700900123").Equal(decimal.RequireFromString("0.05")))
	assert.True(t, p.UnitPrice("+442071234567").Equal(decimal.RequireFromString("0.04")))
	assert.True(t, p.UnitPrice("+15550001111").Equal(decimal.RequireFromString("0.01")))
	assert.True(t, p.UnitPrice("+33612345678").Equal(decimal.RequireFromString("0.02")))
}

func TestQuote_RoundsUpToCents(t *testing.T) {
	p := NewPricingPolicy(160, decimal.RequireFromString("0.0075"), nil)
	q := p.Quote("+15550001111", strings.Repeat("a", 300))
	assert.True(t, q.Cost.Equal(decimal.RequireFromString("0.02")), "cost %s", q.Cost)
}

func TestParsePrefixPrices_Invalid(t *testing.T) {
	for _, s := range []string{"+44", "+44=abc", "=0.1", "+1=-0.01", "+44=0", "+1=0.01,+44=0.00"} {
		_, err := ParsePrefixPrices(s)
		assert.Error(t, err, s)
	}
	got, err := ParsePrefixPrices("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestValidatePrice(t *testing.T) {
	assert.NoError(t, ValidatePrice(decimal.RequireFromString("0.0075")))
	assert.Error(t, ValidatePrice(decimal.Zero))
	assert.Error(t, ValidatePrice(decimal.RequireFromString("-0.01")))
}
