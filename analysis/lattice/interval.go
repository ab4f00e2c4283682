package lattice

import (
	"math"
	"strconv"

	"github.com/cs-au-dk/argus/utils"
)

// IntervalBound is implemented by all interval lattice bounds i.e.,
// any FiniteBound value, PlusInfinity and MinusInfinity.
type IntervalBound interface {
	String() string

	// IsInfinite checks whether the interval bound is infinite.
	IsInfinite() bool
	// Eq checks for interval bound equality.
	Eq(IntervalBound) bool
	// Leq computes b1 ≤ b2. The semantics is -∞ ≤ c ≤ ∞, where c ∈ ℤ.
	Leq(IntervalBound) bool
	// Lt computes b1 < b2.
	Lt(IntervalBound) bool
}

type (
	// FiniteBound is used to represent finite limits of an interval value.
	FiniteBound int64
	// PlusInfinity represents ∞.
	PlusInfinity struct{}
	// MinusInfinity represents -∞.
	MinusInfinity struct{}
)

func (FiniteBound) IsInfinite() bool   { return false }
func (PlusInfinity) IsInfinite() bool  { return true }
func (MinusInfinity) IsInfinite() bool { return true }

func (b FiniteBound) String() string { return strconv.FormatInt(int64(b), 10) }
func (PlusInfinity) String() string  { return "∞" }
func (MinusInfinity) String() string { return "-∞" }

func (b1 FiniteBound) Eq(b2 IntervalBound) bool {
	b2f, ok := b2.(FiniteBound)
	return ok && b1 == b2f
}

func (PlusInfinity) Eq(b2 IntervalBound) bool {
	_, ok := b2.(PlusInfinity)
	return ok
}

func (MinusInfinity) Eq(b2 IntervalBound) bool {
	_, ok := b2.(MinusInfinity)
	return ok
}

func (b1 FiniteBound) Leq(b2 IntervalBound) bool {
	switch b2 := b2.(type) {
	case FiniteBound:
		return b1 <= b2
	case PlusInfinity:
		return true
	}
	return false
}

func (PlusInfinity) Leq(b2 IntervalBound) bool {
	_, ok := b2.(PlusInfinity)
	return ok
}

func (MinusInfinity) Leq(IntervalBound) bool { return true }

func (b1 FiniteBound) Lt(b2 IntervalBound) bool {
	switch b2 := b2.(type) {
	case FiniteBound:
		return b1 < b2
	case PlusInfinity:
		return true
	}
	return false
}

func (PlusInfinity) Lt(IntervalBound) bool { return false }

func (MinusInfinity) Lt(b2 IntervalBound) bool {
	_, ok := b2.(MinusInfinity)
	return !ok
}

func minBound(b1, b2 IntervalBound) IntervalBound {
	if b1.Leq(b2) {
		return b1
	}
	return b2
}

func maxBound(b1, b2 IntervalBound) IntervalBound {
	if b1.Leq(b2) {
		return b2
	}
	return b1
}

// extreme maps a bound onto int64, reading -∞ and ∞ as the smallest and
// largest machine integers.
func extreme(b IntervalBound) int64 {
	switch b := b.(type) {
	case FiniteBound:
		return int64(b)
	case PlusInfinity:
		return math.MaxInt64
	}
	return math.MinInt64
}

func addOverflows(x, y int64) (int64, bool) {
	r := x + y
	return r, (x > 0 && y > 0 && r < 0) || (x < 0 && y < 0 && r >= 0)
}

func subOverflows(x, y int64) (int64, bool) {
	r := x - y
	return r, (x >= 0 && y < 0 && r < 0) || (x < 0 && y > 0 && r >= 0)
}

func mulOverflows(x, y int64) (int64, bool) {
	if x == 0 || y == 0 {
		return 0, false
	}
	r := x * y
	return r, r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64)
}

// Shift moves a bound by d, clamping to the infinite bounds.
func Shift(b IntervalBound, d int64) IntervalBound {
	f, ok := b.(FiniteBound)
	if !ok {
		return b
	}
	r, overflow := addOverflows(int64(f), d)
	switch {
	case overflow && d > 0:
		return PlusInfinity{}
	case overflow:
		return MinusInfinity{}
	}
	return FiniteBound(r)
}

// machine builds an interval from int64 bounds. The machine extremes are
// reported as infinite bounds, except that a singleton stays finite.
func machine(low, high int64) Interval {
	if low == high {
		return IntervalConst(low)
	}
	var l, h IntervalBound = FiniteBound(low), FiniteBound(high)
	if low == math.MinInt64 {
		l = MinusInfinity{}
	}
	if high == math.MaxInt64 {
		h = PlusInfinity{}
	}
	return NewInterval(l, h)
}

// Interval is a member of the interval lattice. ⊥ is represented by [∞, -∞].
type Interval struct {
	low  IntervalBound
	high IntervalBound
}

// NewInterval creates an interval with possibly infinite bounds.
// Empty ranges are normalized to ⊥.
func NewInterval(low, high IntervalBound) Interval {
	if high.Lt(low) {
		return IntervalBot()
	}
	return Interval{low: low, high: high}
}

// IntervalOf creates an interval with finite bounds.
func IntervalOf(low, high int64) Interval {
	return NewInterval(FiniteBound(low), FiniteBound(high))
}

// IntervalConst creates the singleton interval [c, c].
func IntervalConst(c int64) Interval {
	return IntervalOf(c, c)
}

func IntervalTop() Interval {
	return Interval{low: MinusInfinity{}, high: PlusInfinity{}}
}

func IntervalBot() Interval {
	return Interval{low: PlusInfinity{}, high: MinusInfinity{}}
}

func (e Interval) Low() IntervalBound  { return e.low }
func (e Interval) High() IntervalBound { return e.high }

func (e Interval) IsBot() bool {
	return e.low == nil || e.high.Lt(e.low)
}

func (e Interval) IsTop() bool {
	return !e.IsBot() && e.low.Eq(MinusInfinity{}) && e.high.Eq(PlusInfinity{})
}

// Singleton unpacks c if e = [c, c].
func (e Interval) Singleton() (int64, bool) {
	l, lok := e.low.(FiniteBound)
	h, hok := e.high.(FiniteBound)
	return int64(l), lok && hok && l == h
}

// Contains checks whether v is a member of the interval.
func (e Interval) Contains(v int64) bool {
	return !e.IsBot() && e.low.Leq(FiniteBound(v)) && FiniteBound(v).Leq(e.high)
}

// Leq computes e1 ⊑ e2.
func (e1 Interval) Leq(e2 Interval) bool {
	switch {
	case e1.IsBot():
		return true
	case e2.IsBot():
		return false
	}
	return e2.low.Leq(e1.low) && e1.high.Leq(e2.high)
}

func (e1 Interval) Eq(e2 Interval) bool {
	if e1.IsBot() || e2.IsBot() {
		return e1.IsBot() && e2.IsBot()
	}
	return e1.low.Eq(e2.low) && e1.high.Eq(e2.high)
}

// Join computes e1 ⊔ e2.
// The resulting interval takes the lowest of the lower bounds,
// and the highest of the upper bounds.
func (e1 Interval) Join(e2 Interval) Interval {
	switch {
	case e1.IsBot():
		return e2
	case e2.IsBot():
		return e1
	}
	return Interval{low: minBound(e1.low, e2.low), high: maxBound(e1.high, e2.high)}
}

// Meet computes e1 ⊓ e2.
func (e1 Interval) Meet(e2 Interval) Interval {
	if e1.IsBot() || e2.IsBot() {
		return IntervalBot()
	}
	return NewInterval(maxBound(e1.low, e2.low), minBound(e1.high, e2.high))
}

// Widen computes e1 ∇ e2. Unstable bounds are pushed to infinity.
func (e1 Interval) Widen(e2 Interval) Interval {
	switch {
	case e1.IsBot():
		return e2
	case e2.IsBot():
		return e1
	}
	low, high := e1.low, e1.high
	if e2.low.Lt(low) {
		low = MinusInfinity{}
	}
	if high.Lt(e2.high) {
		high = PlusInfinity{}
	}
	return Interval{low: low, high: high}
}

// Add computes the interval sum [l1 + l2, h1 + h2]. Arithmetic wraps
// around like int64, so any bound that overflows yields ⊤.
func (e1 Interval) Add(e2 Interval) Interval {
	if e1.IsBot() || e2.IsBot() {
		return IntervalBot()
	}
	low, lo := addOverflows(extreme(e1.low), extreme(e2.low))
	high, ho := addOverflows(extreme(e1.high), extreme(e2.high))
	if lo || ho {
		return IntervalTop()
	}
	return machine(low, high)
}

// Neg computes [-h, -l]. Negating the smallest integer overflows to ⊤.
func (e Interval) Neg() Interval {
	return IntervalConst(0).Sub(e)
}

// Sub computes [l1 - h2, h1 - l2].
func (e1 Interval) Sub(e2 Interval) Interval {
	if e1.IsBot() || e2.IsBot() {
		return IntervalBot()
	}
	low, lo := subOverflows(extreme(e1.low), extreme(e2.high))
	high, ho := subOverflows(extreme(e1.high), extreme(e2.low))
	if lo || ho {
		return IntervalTop()
	}
	return machine(low, high)
}

// Mul computes the hull of the pairwise bound products.
func (e1 Interval) Mul(e2 Interval) Interval {
	if e1.IsBot() || e2.IsBot() {
		return IntervalBot()
	}
	l1, h1 := extreme(e1.low), extreme(e1.high)
	l2, h2 := extreme(e2.low), extreme(e2.high)
	low, high := int64(math.MaxInt64), int64(math.MinInt64)
	for _, p := range [][2]int64{{l1, l2}, {l1, h2}, {h1, l2}, {h1, h2}} {
		r, overflow := mulOverflows(p[0], p[1])
		if overflow {
			return IntervalTop()
		}
		if r < low {
			low = r
		}
		if r > high {
			high = r
		}
	}
	return machine(low, high)
}

// Div computes truncated division. Only divisors that are non-zero
// constants are handled precisely.
func (e1 Interval) Div(e2 Interval) Interval {
	if e1.IsBot() || e2.IsBot() {
		return IntervalBot()
	}
	c, ok := e2.Singleton()
	if !ok || c == 0 {
		return IntervalTop()
	}
	low, high := extreme(e1.low), extreme(e1.high)
	if c == -1 && low == math.MinInt64 {
		return IntervalTop()
	}
	low, high = low/c, high/c
	if c < 0 {
		low, high = high, low
	}
	return machine(low, high)
}

// Rem computes truncated remainder.
func (e1 Interval) Rem(e2 Interval) Interval {
	if e1.IsBot() || e2.IsBot() {
		return IntervalBot()
	}
	c, ok := e2.Singleton()
	if !ok || c == 0 || c == math.MinInt64 {
		return IntervalTop()
	}
	if v, ok := e1.Singleton(); ok {
		return IntervalConst(v % c)
	}
	if c < 0 {
		c = -c
	}
	if FiniteBound(0).Leq(e1.low) {
		return IntervalOf(0, c-1)
	}
	if e1.high.Leq(FiniteBound(0)) {
		return IntervalOf(-(c - 1), 0)
	}
	return IntervalOf(-(c - 1), c-1)
}

func (e Interval) Hash() uint32 {
	if e.IsBot() {
		return 0
	}
	hb := func(b IntervalBound) uint32 {
		switch b := b.(type) {
		case FiniteBound:
			return utils.HashInt(int64(b))
		case PlusInfinity:
			return 1
		}
		return 2
	}
	return utils.HashCombine(hb(e.low), hb(e.high))
}

func (e Interval) String() string {
	if e.IsBot() {
		return colorize.Element("⊥")
	}
	return "[" + colorize.Const(e.low.String()) + ", " + colorize.Const(e.high.String()) + "]"
}

var _ Value[Interval] = Interval{}
