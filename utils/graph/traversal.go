package graph

import W "github.com/cs-au-dk/argus/utils/worklist"

type traversalFunc[T comparable] func(node T) (stop bool)

// Performs a breadth-first search from the provided start nodes, calling the
// provided function (f) for every reachable node, stopping early if f returns
// true.
// Returns whether the search stopped early (as a result of f returning true).
func (G Graph[T]) BFSV(f traversalFunc[T], starts ...T) bool {
	visited := make(map[T]bool, len(starts))
	for _, start := range starts {
		visited[start] = true
	}

	done := false
	W.StartV(starts, func(node T, add func(T)) {
		if done || f(node) {
			done = true
			return
		}

		for _, next := range G.Edges(node) {
			if !visited[next] {
				visited[next] = true
				add(next)
			}
		}
	})

	return done
}

// Performs a breadth-first search from the provided start node, calling the
// provided function (f) for every reachable node, stopping early if f returns
// true.
// Returns whether the search stopped early (as a result of f returning true).
func (G Graph[T]) BFS(start T, f traversalFunc[T]) bool {
	return G.BFSV(f, start)
}

// Reachable collects every node reachable from the start nodes in BFS order.
func (G Graph[T]) Reachable(starts ...T) (ret []T) {
	G.BFSV(func(node T) bool {
		ret = append(ret, node)
		return false
	}, starts...)
	return
}

// DFSResult is the outcome of a depth-first search.
type DFSResult[T any] struct {
	// Nodes in post-order.
	Postorder []T
	// Edges (from, to) where `to` was on the DFS stack when explored.
	BackEdges [][2]T
}

// ReversePostorder returns the nodes of the DFS in reverse post-order.
func (r DFSResult[T]) ReversePostorder() []T {
	n := len(r.Postorder)
	ret := make([]T, n)
	for i, node := range r.Postorder {
		ret[n-1-i] = node
	}
	return ret
}

// DFS performs an iterative depth-first search from start. Successors are
// explored in the order returned by Edges.
func (G Graph[T]) DFS(start T) DFSResult[T] {
	const (
		unseen = iota
		onStack
		done
	)

	type frame struct {
		node T
		next int
	}

	var res DFSResult[T]
	state := map[T]int{start: onStack}
	stack := []frame{{node: start}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := G.Edges(top.node)
		if top.next == len(succs) {
			state[top.node] = done
			res.Postorder = append(res.Postorder, top.node)
			stack = stack[:len(stack)-1]
			continue
		}

		succ := succs[top.next]
		top.next++
		switch state[succ] {
		case unseen:
			state[succ] = onStack
			stack = append(stack, frame{node: succ})
		case onStack:
			res.BackEdges = append(res.BackEdges, [2]T{top.node, succ})
		}
	}

	return res
}
