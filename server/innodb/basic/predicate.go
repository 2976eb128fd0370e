package basic

import (
	"regexp"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// Op is a comparison operator used by Predicate.
type Op int

const (
	Equals Op = iota
	NotEquals
	LessThan
	LessThanOrEq
	GreaterThan
	GreaterThanOrEq
	Like
)

func (o Op) String() string {
	switch o {
	case Equals:
		return "="
	case NotEquals:
		return "<>"
	case LessThan:
		return "<"
	case LessThanOrEq:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterThanOrEq:
		return ">="
	case Like:
		return "LIKE"
	}
	return "?"
}

// Predicate compares one field of a tuple against a constant.
type Predicate struct {
	FieldIndex int
	Op         Op
	Value      Cell
}

func NewPredicate(fieldIndex int, op Op, value Cell) *Predicate {
	return &Predicate{FieldIndex: fieldIndex, Op: op, Value: value}
}

// Matches evaluates the predicate against t.
func (p *Predicate) Matches(t *Tuple) bool {
	if p.FieldIndex < 0 || p.FieldIndex >= t.Len() {
		return false
	}
	return p.MatchesCell(t.Cell(p.FieldIndex))
}

// MatchesCell evaluates the predicate against a single value.
func (p *Predicate) MatchesCell(c Cell) bool {
	if p.Op == Like {
		return likeMatch(c.Text(), p.Value.Text())
	}
	if c.Kind() != p.Value.Kind() {
		return p.Op == NotEquals
	}
	cmp := c.Compare(p.Value)
	switch p.Op {
	case Equals:
		return cmp == 0
	case NotEquals:
		return cmp != 0
	case LessThan:
		return cmp < 0
	case LessThanOrEq:
		return cmp <= 0
	case GreaterThan:
		return cmp > 0
	case GreaterThanOrEq:
		return cmp >= 0
	}
	return false
}

func (p *Predicate) String() string {
	return "f" + IntCell(int64(p.FieldIndex)).Text() + " " + p.Op.String() + " " + p.Value.String()
}

var (
	likeCacheOnce sync.Once
	likeCache     *ristretto.Cache[string, *regexp.Regexp]
)

func patternCache() *ristretto.Cache[string, *regexp.Regexp] {
	likeCacheOnce.Do(func() {
		cache, err := ristretto.NewCache(&ristretto.Config[string, *regexp.Regexp]{
			NumCounters: 10240,
			MaxCost:     1024,
			BufferItems: 64,
		})
		if err == nil {
			likeCache = cache
		}
	})
	return likeCache
}

// likeMatch implements SQL LIKE: % is any run, _ is one character, \ escapes.
func likeMatch(value, pattern string) bool {
	cache := patternCache()
	if cache != nil {
		if re, ok := cache.Get(pattern); ok {
			return re.MatchString(value)
		}
	}
	re, err := regexp.Compile(likeToRegexp(pattern))
	if err != nil {
		return false
	}
	if cache != nil {
		cache.Set(pattern, re, 1)
	}
	return re.MatchString(value)
}

func likeToRegexp(pattern string) string {
	var sb strings.Builder
	sb.WriteString("(?s)^")
	escaped := false
	for _, r := range pattern {
		if escaped {
			sb.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		sb.WriteString(regexp.QuoteMeta("\\"))
	}
	sb.WriteString("$")
	return sb.String()
}
