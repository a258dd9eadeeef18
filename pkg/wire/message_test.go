package wire

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTTL(t *testing.T) {
	for _, testCase := range []struct {
		name     string
		raw      any
		expected time.Duration
		wantErr  bool
	}{
		{name: "nil", raw: nil, expected: 0},
		{name: "minutes", raw: 5.0, expected: 5 * time.Minute},
		{name: "fractional_minutes", raw: 0.5, expected: 30 * time.Second},
		{name: "int_minutes", raw: 2, expected: 2 * time.Minute},
		{name: "minutes_string", raw: " 10 ", expected: 10 * time.Minute},
		{name: "duration_string", raw: "90s", expected: 90 * time.Second},
		{name: "duration", raw: time.Hour, expected: time.Hour},
		{name: "zero", raw: 0.0, wantErr: true},
		{name: "negative", raw: -1.0, wantErr: true},
		{name: "negative_duration", raw: "-5s", wantErr: true},
		{name: "nan", raw: math.NaN(), wantErr: true},
		{name: "huge", raw: 1e300, wantErr: true},
		{name: "tiny", raw: 1e-15, wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
		{name: "bool", raw: true, wantErr: true},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			ttl, err := ParseTTL(testCase.raw)
			if testCase.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTTL)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, testCase.expected, ttl)
		})
	}
}

func TestFormatTTL(t *testing.T) {
	assert.Nil(t, FormatTTL(0))
	ttl, err := ParseTTL(FormatTTL(90 * time.Second))
	assert.NoError(t, err)
	assert.Equal(t, 90*time.Second, ttl)
}
