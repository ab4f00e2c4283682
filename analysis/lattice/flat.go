package lattice

import (
	"strconv"

	"github.com/cs-au-dk/argus/utils"
)

type flatKind uint8

const (
	flatConst flatKind = iota
	flatBot
	flatTop
)

// FlatInt is a member of the flat lattice of integers:
//
//	      ⊤
//	… -1  0  1 …
//	      ⊥
type FlatInt struct {
	kind  flatKind
	value int64
}

// FlatBot returns ⊥.
func FlatBot() FlatInt { return FlatInt{kind: flatBot} }

// FlatTop returns ⊤.
func FlatTop() FlatInt { return FlatInt{kind: flatTop} }

// FlatConst returns the flat member representing exactly v.
func FlatConst(v int64) FlatInt { return FlatInt{value: v} }

func (e FlatInt) IsBot() bool { return e.kind == flatBot }
func (e FlatInt) IsTop() bool { return e.kind == flatTop }

// Value unpacks the constant, if e is one.
func (e FlatInt) Value() (int64, bool) {
	return e.value, e.kind == flatConst
}

// Is checks whether e represents exactly v.
func (e FlatInt) Is(v int64) bool {
	return e.kind == flatConst && e.value == v
}

func (e FlatInt) Leq(o FlatInt) bool {
	switch {
	case e.kind == flatBot || o.kind == flatTop:
		return true
	case e.kind == flatTop || o.kind == flatBot:
		return false
	}
	return e.value == o.value
}

func (e FlatInt) Join(o FlatInt) FlatInt {
	switch {
	case e.Leq(o):
		return o
	case o.Leq(e):
		return e
	}
	return FlatTop()
}

func (e FlatInt) Meet(o FlatInt) FlatInt {
	switch {
	case e.Leq(o):
		return e
	case o.Leq(e):
		return o
	}
	return FlatBot()
}

func (e FlatInt) Eq(o FlatInt) bool {
	return e == o
}

func (e FlatInt) Hash() uint32 {
	if e.kind != flatConst {
		return uint32(e.kind)
	}
	return utils.HashInt(e.value)
}

func (e FlatInt) String() string {
	switch e.kind {
	case flatBot:
		return colorize.Element("⊥")
	case flatTop:
		return colorize.Element("⊤")
	}
	return colorize.Const(strconv.FormatInt(e.value, 10))
}

var _ Value[FlatInt] = FlatInt{}
