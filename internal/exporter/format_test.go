package exporter

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "13.40", formatDecimal(decimal.NewFromFloat(13.4)))
	assert.Equal(t, "0.00", formatDecimal(decimal.Zero))
	assert.Equal(t, "1991980.00", formatDecimal(decimal.NewFromInt(1991980)))
}

func TestFormatDecimalPtr(t *testing.T) {
	assert.Equal(t, "", formatDecimalPtr(nil))

	d := decimal.NewFromFloat(99.599)
	assert.Equal(t, "99.599", formatDecimalPtr(&d))
}

func TestFormatFloatPtr(t *testing.T) {
	assert.Equal(t, "", formatFloatPtr(nil))

	f := 0.9998
	assert.Equal(t, "0.9998", formatFloatPtr(&f))
}

func TestFormatBool(t *testing.T) {
	assert.Equal(t, "true", formatBool(true))
	assert.Equal(t, "false", formatBool(false))
}

func TestFormatInt(t *testing.T) {
	assert.Equal(t, "0", formatInt(0))
	assert.Equal(t, "-5", formatInt(-5))
	assert.Equal(t, "1250", formatInt(1250))
}
