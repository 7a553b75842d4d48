package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalScalars(t *testing.T) {
	require.Nil(t, OptionalString("   "))
	require.Equal(t, "0xabc", *OptionalString(" 0xabc "))

	require.Nil(t, OptionalInt(""))
	require.Nil(t, OptionalInt("12x"))
	require.Equal(t, int64(-42), *OptionalInt("-42"))

	require.Nil(t, OptionalFloat("NaN"))
	require.Nil(t, OptionalFloat("+Inf"))
	require.Equal(t, 1.5, *OptionalFloat("1.5"))

	require.True(t, *OptionalBool("T"))
	require.True(t, *OptionalBool("true"))
	require.False(t, *OptionalBool("f"))
	require.Nil(t, OptionalBool("yes"))
}

func TestConvertToInt(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{in: int64(3), want: 3},
		{in: float64(4), want: 4},
		{in: 4.5, wantErr: true},
		{in: "7", want: 7},
		{in: " 8.0 ", want: 8},
		{in: "abc", wantErr: true},
		{in: true, wantErr: true},
		{in: json.Number("9"), want: 9},
		{in: json.Number("18446744073709551617"), wantErr: true},
	}
	for _, tt := range tests {
		got, err := ConvertToInt(tt.in)
		if tt.wantErr {
			require.Error(t, err, "input %v", tt.in)
			continue
		}
		require.NoError(t, err, "input %v", tt.in)
		require.Equal(t, tt.want, got)
	}
}

func TestConvertToString(t *testing.T) {
	s, err := ConvertToString(int64(5))
	require.NoError(t, err)
	require.Equal(t, "5", s)

	s, err = ConvertToString(json.Number("18446744073709551617"))
	require.NoError(t, err)
	require.Equal(t, "18446744073709551617", s)

	_, err = ConvertToString(1.25)
	require.Error(t, err)
}
