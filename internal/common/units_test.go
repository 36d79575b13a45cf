package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	t.Parallel()

	wei := func(s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		return v
	}

	cases := []struct {
		value    *big.Int
		decimals uint8
		want     string
	}{
		{nil, 18, "0"},
		{big.NewInt(0), 18, "0"},
		{wei("1000000000000000000"), 18, "1"},
		{wei("1500000000000000000"), 18, "1.5"},
		{wei("1"), 18, "0.000000000000000001"},
		{wei("123456"), 0, "123456"},
		{wei("-2500000000000000000"), 18, "-2.5"},
		{wei("1000000"), 6, "1"},
		{wei("1234567"), 6, "1.234567"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, FormatUnits(tc.value, tc.decimals))
	}
}

func TestParseUnits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"1.5", 18, "1500000000000000000"},
		{"0.000000000000000001", 18, "1"},
		{" 2 ", 18, "2000000000000000000"},
		{"-1.5", 18, "-1500000000000000000"},
		{"1.234567", 6, "1234567"},
		{"0", 18, "0"},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, tc.decimals)
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got.String(), "input %q", tc.in)
	}
}

func TestParseUnitsRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		decimals uint8
	}{
		{"", 18},
		{"1.2.3", 18},
		{"abc", 18},
		{"1,5", 18},
		{"1.1234567", 6},
	}
	for _, tc := range cases {
		_, err := ParseUnits(tc.in, tc.decimals)
		require.Error(t, err, "input %q", tc.in)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"0", "1", "999", "1000000000000000000", "123456789123456789123"} {
		v, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		parsed, err := ParseUnits(FormatUnits(v, EtherDecimals), EtherDecimals)
		require.NoError(t, err)
		require.Zero(t, v.Cmp(parsed))
	}
}
