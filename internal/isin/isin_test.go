package isin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"US0378331005", true},  // Apple
		{"IE00B4L5Y983", true},  // iShares Core MSCI World
		{"US037833100", false},  // too short
		{"us0378331005", false}, // lowercase rejected
		{"", false},
		{"UNRESOLVED:XYZ:abcdef1234", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Valid(tc.in), tc.in)
	}
}

func TestGroupKeyDeterministic(t *testing.T) {
	k1 := GroupKey("XYZ", "XYZ Corp")
	k2 := GroupKey("XYZ", "XYZ Corp")
	require.Equal(t, k1, k2)
	assert.Regexp(t, `^UNRESOLVED:XYZ:[0-9a-f]{10}$`, k1)

	k3 := GroupKey("XYZ", "Something Else")
	assert.NotEqual(t, k1, k3)
}

func TestCashKey(t *testing.T) {
	assert.Equal(t, "CASH_USD", CashKey("usd"))
	assert.Equal(t, "CASH_EUR", CashKey(" eur "))
	assert.Equal(t, "CASH_USD", CashKey(""))
}
