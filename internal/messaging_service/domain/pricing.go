package domain

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const DefaultSegmentLength = 160

type Quote struct {
	Segments  int             `json:"segments"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Cost      decimal.Decimal `json:"cost"`
}

type prefixPrice struct {
	prefix string
	price  decimal.Decimal
}

// PricingPolicy prices outbound SMS per segment. The unit price is taken from the
// longest configured destination prefix, or the default price.
type PricingPolicy struct {
	segmentLength int
	defaultPrice  decimal.Decimal
	prefixes      []prefixPrice
}

// ValidatePrice rejects a per-segment price that is not positive.
func ValidatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price %s must be positive", price)
	}
	return nil
}

func NewPricingPolicy(segmentLength int, defaultPrice decimal.Decimal, prefixes map[string]decimal.Decimal) *PricingPolicy {
	if segmentLength <= 0 {
		segmentLength = DefaultSegmentLength
	}
	p := &PricingPolicy{segmentLength: segmentLength, defaultPrice: defaultPrice}
	for prefix, price := range prefixes {
		p.prefixes = append(p.prefixes, prefixPrice{prefix: prefix, price: price})
	}
	sort.Slice(p.prefixes, func(i, j int) bool {
		if len(p.prefixes[i].prefix) != len(p.prefixes[j].prefix) {
			return len(p.prefixes[i].prefix) > len(p.prefixes[j].prefix)
		}
		return p.prefixes[i].prefix < p.prefixes[j].prefix
	})
	return p
}

// Segments is ceil(runes/segmentLength), at least 1.
func (p *PricingPolicy) Segments(body string) int {
	n := utf8.RuneCountInString(body)
	if n == 0 {
		return 1
	}
	return (n + p.segmentLength - 1) / p.segmentLength
}

func (p *PricingPolicy) UnitPrice(to string) decimal.Decimal {
	for _, pp := range p.prefixes {
		if strings.HasPrefix(to, pp.prefix) {
			return pp.price
		}
	}
	return p.defaultPrice
}

// Quote returns the cost of sending body to to, rounded up to cents.
func (p *PricingPolicy) Quote(to, body string) Quote {
	segments := p.Segments(body)
	unit := p.UnitPrice(to)
	return Quote{
		Segments:  segments,
		UnitPrice: unit,
		Cost:      unit.Mul(decimal.NewFromInt(int64(segments))).RoundCeil(2),
	}
}

// ParsePrefixPrices parses "+44=0.04,+1=0.01". Every price must be positive,
// since a zero cost cannot be debited from a wallet.
func ParsePrefixPrices(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, price, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(prefix) == "" {
			return nil, fmt.Errorf("invalid prefix price %q", part)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil {
			return nil, fmt.Errorf("invalid price for prefix %q: %w", prefix, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("price for prefix %q must be positive", prefix)
		}
		out[strings.TrimSpace(prefix)] = d
	}
	return out, nil
}
