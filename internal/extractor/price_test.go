package extractor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseBRL(t *testing.T) {
	cases := map[string]string{
		"R$ 1.234,56":        "1234.56",
		"R$ 99,90":           "99.9",
		"por apenas R$ 1234": "1234",
		"12.345.678,00":      "12345678",
		"R$1,5":              "1.5",
	}

	for in, want := range cases {
		got := ParseBRL(in)
		assert.True(t, decimal.RequireFromString(want).Equal(got), "%s -> %s", in, got)
	}
}

func TestParseBRLFailsClosed(t *testing.T) {
	assert.True(t, ParseBRL("indisponível").IsZero())
	assert.True(t, ParseBRL("").IsZero())
}

func TestParseStructured(t *testing.T) {
	assert.True(t, decimal.RequireFromString("1234.56").Equal(parseStructured("1234.56")))
	assert.True(t, decimal.RequireFromString("1234.56").Equal(parseStructured("1.234,56")))
	assert.True(t, parseStructured("abc").IsZero())
	assert.True(t, parseStructured("-3").IsZero())
}
