package basic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicateOrdering(t *testing.T) {
	tup := IntTuple(10, 20)
	cases := []struct {
		op   Op
		v    int64
		want bool
	}{
		{Equals, 10, true},
		{Equals, 11, false},
		{NotEquals, 11, true},
		{LessThan, 11, true},
		{LessThan, 10, false},
		{LessThanOrEq, 10, true},
		{GreaterThan, 9, true},
		{GreaterThan, 10, false},
		{GreaterThanOrEq, 10, true},
	}
	for _, c := range cases {
		p := NewPredicate(0, c.op, IntCell(c.v))
		assert.Equal(t, c.want, p.Matches(tup), p.String())
	}
	assert.False(t, NewPredicate(5, Equals, IntCell(10)).Matches(tup))
}

func TestPredicateKindMismatch(t *testing.T) {
	tup := IntTuple(1)
	assert.False(t, NewPredicate(0, Equals, CharCell("1")).Matches(tup))
	assert.True(t, NewPredicate(0, NotEquals, CharCell("1")).Matches(tup))
}

func TestPredicateLike(t *testing.T) {
	cases := []struct {
		value, pattern string
		want           bool
	}{
		{"hello", "h%", true},
		{"hello", "%llo", true},
		{"hello", "h_llo", true},
		{"hello", "h_lo", false},
		{"hello", "hello", true},
		{"hello", "HELLO", false},
		{"", "%", true},
		{"a.c", "a.c", true},
		{"abc", "a.c", false},
		{"100%", `100\%`, true},
		{"1000", `100\%`, false},
		{"a_b", `a\_b`, true},
		{"axb", `a\_b`, false},
		{"line\nbreak", "line%", true},
	}
	for _, c := range cases {
		p := NewPredicate(0, Like, CharCell(c.pattern))
		assert.Equal(t, c.want, p.MatchesCell(CharCell(c.value)), "%q LIKE %q", c.value, c.pattern)
	}
	// repeated evaluation goes through the pattern cache
	for i := 0; i < 3; i++ {
		assert.True(t, NewPredicate(0, Like, CharCell("h%")).MatchesCell(CharCell("hi")))
	}
}

func TestPredicateLikeOnInt(t *testing.T) {
	tup := IntTuple(1234)
	assert.True(t, NewPredicate(0, Like, CharCell("12%")).Matches(tup))
	assert.True(t, NewPredicate(0, Like, CharCell("1_34")).Matches(tup))
	assert.False(t, NewPredicate(0, Like, CharCell("2%")).Matches(tup))
	assert.True(t, NewPredicate(0, Like, CharCell("-%")).Matches(IntTuple(-5)))
}
