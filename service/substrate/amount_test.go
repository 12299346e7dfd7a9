package substrate

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		decimals int
		want     string
	}{
		{"whole token", 1, 10, "10000000000"},
		{"fraction", 0.5, 10, "5000000000"},
		{"extra precision is truncated", 1.23456789012, 10, "12345678901"},
		{"smallest unit", 0.0000000001, 10, "1"},
		{"zero decimals", 42, 0, "42"},
		{"large amount", 123456789.5, 10, "1234567895000000000"},
		{"twelve decimals", 0.001, 12, "1000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScaleAmount(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestScaleAmount_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		decimals int
	}{
		{"zero", 0, 10},
		{"negative", -1, 10},
		{"nan", math.NaN(), 10},
		{"infinity", math.Inf(1), 10},
		{"below smallest unit", 0.00000000001, 10},
		{"negative decimals", 1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScaleAmount(tt.amount, tt.decimals)
			require.ErrorIs(t, err, ErrInvalidAmount)
			assert.Nil(t, got)
		})
	}
}

func TestFormatPlanck(t *testing.T) {
	assert.Equal(t, "1.2345678901", FormatPlanck(big.NewInt(12345678901), 10))
	assert.Equal(t, "1", FormatPlanck(big.NewInt(10000000000), 10))
	assert.Equal(t, "0.0000000001", FormatPlanck(big.NewInt(1), 10))
	assert.Equal(t, "0", FormatPlanck(big.NewInt(0), 10))
	assert.Equal(t, "0", FormatPlanck(nil, 10))
	assert.Equal(t, "-0.5", FormatPlanck(big.NewInt(-5000000000), 10))
}
