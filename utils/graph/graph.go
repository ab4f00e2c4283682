// Package graph provides traversals and dot rendering for graphs given by a
// successor function. The control flow automaton, the abstract
// reachability graph and the partitioned CFA are all exposed this way.
package graph

type edgesOf[T comparable] func(node T) []T

// Graph is a directed graph over comparable nodes.
type Graph[T comparable] struct {
	edgesOf edgesOf[T]
	cache   map[T][]T
}

// Edges returns the successors of node. Results are memoized, so the edge
// relation must not change while the graph is in use.
func (G Graph[T]) Edges(node T) []T {
	if es, found := G.cache[node]; found {
		return es
	}

	es := G.edgesOf(node)
	G.cache[node] = es
	return es
}

// Of returns the graph whose successor relation is edgesOf.
func Of[T comparable](edgesOf edgesOf[T]) Graph[T] {
	return Graph[T]{edgesOf, map[T][]T{}}
}
