package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRound(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"1.23456789", "1.2345679"},
		{"1.23456784", "1.2345678"},
		{"-1.23456785", "-1.2345679"},
		{"100", "100"},
	}
	for _, c := range cases {
		got := Round(decimal.RequireFromString(c.in))
		if !got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("Round(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestFromPercent(t *testing.T) {
	got := FromPercent(decimal.NewFromInt(10))
	if !got.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("FromPercent(10) = %s, want 0.1", got)
	}
}

func TestMin(t *testing.T) {
	a := decimal.NewFromInt(3)
	b := decimal.NewFromInt(5)
	if !Min(a, b).Equal(a) {
		t.Errorf("Min(3, 5) = %s", Min(a, b))
	}
	if !Min(b, a).Equal(a) {
		t.Errorf("Min(5, 3) = %s", Min(b, a))
	}
}
