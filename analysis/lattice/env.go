package lattice

import (
	"strings"

	"github.com/benbjohnson/immutable"

	"github.com/cs-au-dk/argus/utils"
)

// Env is a pointwise lifted map lattice from variable names to values.
// Variables absent from the map are implicitly ⊤, so the map only stores
// informative bindings. Envs are persistent: updates return new envs.
type Env[V Value[V]] struct {
	mp  *immutable.SortedMap[string, V]
	top V
}

// NewEnv creates the environment mapping every variable to top.
func NewEnv[V Value[V]](top V) Env[V] {
	return Env[V]{
		mp:  utils.NewSortedMap[string, V](),
		top: top,
	}
}

// Get retrieves the value bound to x, and whether it is informative.
func (e Env[V]) Get(x string) (V, bool) {
	if v, ok := e.mp.Get(x); ok {
		return v, true
	}
	return e.top, false
}

// Lookup retrieves the value bound to x, defaulting to ⊤.
func (e Env[V]) Lookup(x string) V {
	v, _ := e.Get(x)
	return v
}

// Set binds x to v. Binding ⊤ removes x.
func (e Env[V]) Set(x string, v V) Env[V] {
	if v.IsTop() {
		return e.Forget(x)
	}
	return Env[V]{mp: e.mp.Set(x, v), top: e.top}
}

// Forget rebinds x to ⊤.
func (e Env[V]) Forget(x string) Env[V] {
	if _, ok := e.mp.Get(x); !ok {
		return e
	}
	return Env[V]{mp: e.mp.Delete(x), top: e.top}
}

// Retain drops every binding for which keep is false.
func (e Env[V]) Retain(keep func(x string) bool) Env[V] {
	res := e
	e.ForEach(func(x string, _ V) {
		if !keep(x) {
			res = res.Forget(x)
		}
	})
	return res
}

func (e Env[V]) Len() int {
	return e.mp.Len()
}

// HasBot checks whether some variable is bound to ⊥.
func (e Env[V]) HasBot() bool {
	bot := false
	e.ForEach(func(_ string, v V) {
		bot = bot || v.IsBot()
	})
	return bot
}

// ForEach visits the informative bindings in variable name order.
func (e Env[V]) ForEach(do func(x string, v V)) {
	for itr := e.mp.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		do(k, v)
	}
}

// Leq computes e ⊑ o pointwise. Only bindings of o need checking,
// since e is bounded by ⊤ everywhere else.
func (e Env[V]) Leq(o Env[V]) bool {
	if e.mp == o.mp {
		return true
	}
	for itr := o.mp.Iterator(); !itr.Done(); {
		k, ov, _ := itr.Next()
		if !e.Lookup(k).Leq(ov) {
			return false
		}
	}
	return true
}

// Join computes e ⊔ o. Only variables bound in both can stay informative.
func (e Env[V]) Join(o Env[V]) Env[V] {
	return e.combine(o, func(a, b V) V { return a.Join(b) })
}

// Widen computes e ∇ o given a widening operator on values.
func (e Env[V]) Widen(o Env[V], widen func(a, b V) V) Env[V] {
	return e.combine(o, widen)
}

func (e Env[V]) combine(o Env[V], op func(a, b V) V) Env[V] {
	if e.mp == o.mp {
		return e
	}
	res := NewEnv(e.top)
	e.ForEach(func(x string, v V) {
		if ov, ok := o.mp.Get(x); ok {
			res = res.Set(x, op(v, ov))
		}
	})
	return res
}

func (e Env[V]) Eq(o Env[V]) bool {
	if e.mp == o.mp {
		return true
	}
	if e.mp.Len() != o.mp.Len() {
		return false
	}
	eq := true
	e.ForEach(func(x string, v V) {
		if !eq {
			return
		}
		ov, ok := o.mp.Get(x)
		eq = ok && v.Eq(ov)
	})
	return eq
}

func (e Env[V]) Hash() uint32 {
	hashes := []uint32{uint32(e.mp.Len())}
	e.ForEach(func(x string, v V) {
		hashes = append(hashes, utils.HashString(x), v.Hash())
	})
	return utils.HashCombine(hashes...)
}

func (e Env[V]) String() string {
	if e.mp.Len() == 0 {
		return colorize.Element("⊤")
	}
	var parts []string
	e.ForEach(func(x string, v V) {
		parts = append(parts, colorize.Key(x)+" ↦ "+v.String())
	})
	return "{ " + strings.Join(parts, ", ") + " }"
}

var _ Element[Env[FlatInt]] = Env[FlatInt]{}
