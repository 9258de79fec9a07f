package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0.0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]any{}))
}

func TestRunJQ_UsesJSONFieldNames(t *testing.T) {
	type row struct {
		PaymentID string `json:"paymentId"`
		Lamports  int64  `json:"lamports"`
	}

	code, err := compileJQ(".paymentId, .lamports")
	require.NoError(t, err)

	out, err := runJQ(code, row{PaymentID: "p1", Lamports: 25_666_667})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "p1", out[0])
	assert.EqualValues(t, 25_666_667, out[1])
}

func TestRunJQ_RuntimeError(t *testing.T) {
	code, err := compileJQ(".foo | error(\"boom\")")
	require.NoError(t, err)

	_, err = runJQ(code, map[string]any{"foo": 1})
	assert.Error(t, err)
}

func TestCompileJQ_InvalidFilter(t *testing.T) {
	_, err := compileJQ(".[")
	assert.Error(t, err)
}

func TestMatchesJQ(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   bool
	}{
		{"true comparison", ".lamports > 100", true},
		{"false comparison", ".lamports < 100", false},
		{"null field", ".missing", false},
		{"empty result", "empty", false},
		{"error result", "error(\"x\")", false},
		{"zero is truthy", ".zero", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := compileJQ(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, matchesJQ(code, map[string]any{"lamports": 1000, "zero": 0}))
		})
	}
}
