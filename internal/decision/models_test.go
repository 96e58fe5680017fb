package decision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"nan collapses to zero", math.NaN(), 0},
		{"positive infinity collapses to zero", math.Inf(1), 0},
		{"negative infinity collapses to zero", math.Inf(-1), 0},
		{"negative clamps to zero", -0.5, 0},
		{"above one clamps to one", 1.5, 1},
		{"zero passes through", 0, 0},
		{"one passes through", 1, 1},
		{"interior value passes through", 0.42, 0.42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampConfidence(tt.in))
		})
	}
}
