package cfa

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpr(t *testing.T) {
	tests := []struct {
		src, expected string
	}{
		{"1", "1"},
		{"-1", "-1"},
		{"x + 1", "x + 1"},
		{"(x + 1) * y", "(x + 1) * y"},
		{"x < 10 && !(y == 0)", "(x < 10) && !(y == 0)"},
		{"true", "1"},
		{"nondet()", "nondet()"},
		{"f.x - -y", "f.x - -y"},
		{"0x10", "16"},
	}

	for _, test := range tests {
		e, err := ParseExpr(test.src)
		require.NoError(t, err, test.src)
		if e.String() != test.expected {
			t.Errorf("ParseExpr(%q) = %s, expected %s", test.src, e, test.expected)
		}
	}

	for _, bad := range []string{"x +", "f(x)", `"str"`, "x << 2", "1.5", "a[0]"} {
		_, err := ParseExpr(bad)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseExpr(%q) should fail with ErrMalformed, got %v", bad, err)
		}
	}
}

func TestEval(t *testing.T) {
	env := map[string]int64{"x": 3, "y": 0}
	lookup := func(v string) (int64, bool) {
		val, ok := env[v]
		return val, ok
	}
	nondet := func() int64 { return 42 }

	tests := []struct {
		src      string
		expected int64
	}{
		{"x * 2 + 1", 7},
		{"x / 2", 1},
		{"-7 % x", -1},
		{"x < 10 && y == 0", 1},
		{"!(x == 3)", 0},
		{"y != 0 && x / y == 1", 0},
		{"x == 3 || x / y == 1", 1},
		{"nondet() - x", 39},
	}

	for _, test := range tests {
		res, err := Eval(MustParseExpr(test.src), lookup, nondet)
		require.NoError(t, err, test.src)
		if res != test.expected {
			t.Errorf("%s = %d, expected %d", test.src, res, test.expected)
		}
	}

	_, err := Eval(MustParseExpr("x / y"), lookup, nondet)
	assert.ErrorIs(t, err, ErrDivByZero)

	_, err = Eval(MustParseExpr("z"), lookup, nondet)
	assert.ErrorIs(t, err, ErrUnbound)
}

func TestNegate(t *testing.T) {
	tests := []struct {
		src, expected string
	}{
		{"x < 10", "x >= 10"},
		{"x == y", "x != y"},
		{"!(x > 0)", "x > 0"},
		{"x <= 1 && y > 2", "(x > 1) || (y <= 2)"},
		{"x", "!x"},
		{"0", "1"},
	}

	for _, test := range tests {
		res := Negate(MustParseExpr(test.src))
		if res.String() != test.expected {
			t.Errorf("¬(%s) = %s, expected %s", test.src, res, test.expected)
		}
	}
}

func TestVars(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, Vars(MustParseExpr("x + y * x")))
	assert.Empty(t, Vars(MustParseExpr("1 + nondet()")))
	assert.True(t, HasNondet(MustParseExpr("1 + nondet()")))
	assert.False(t, HasNondet(MustParseExpr("x")))
}

func TestSplitAssign(t *testing.T) {
	lhs, rhs, ok := splitAssign("x = y == 1")
	assert.True(t, ok)
	assert.Equal(t, "x", lhs)
	assert.Equal(t, "y == 1", rhs)

	_, _, ok = splitAssign("x <= 1")
	assert.False(t, ok)

	lhs, rhs, ok = splitAssign("r = f(a != b)")
	assert.True(t, ok)
	assert.Equal(t, "r", lhs)
	assert.Equal(t, "f(a != b)", rhs)
}
