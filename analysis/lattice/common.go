// Package lattice provides the abstract domains used by the component CPAs:
// the flat lattice of integers, the interval lattice and pointwise
// environments over persistent maps.
package lattice

import "github.com/cs-au-dk/argus/utils"

var colorize = struct {
	Element func(...interface{}) string
	Const   func(...interface{}) string
	Key     func(...interface{}) string
}{
	Element: utils.Colorize.State,
	Const:   utils.Colorize.Const,
	Key:     utils.Colorize.Key,
}

// Element is implemented by members of a join semi-lattice with carrier E.
type Element[E any] interface {
	// Leq computes e ⊑ o.
	Leq(o E) bool
	// Join computes e ⊔ o.
	Join(o E) E
	// Eq computes e = o.
	Eq(o E) bool
	Hash() uint32
	String() string
}

// Value is a lattice member with distinguished ⊤ and ⊥ elements that may be
// stored in an environment.
type Value[E any] interface {
	Element[E]
	IsTop() bool
	IsBot() bool
}
