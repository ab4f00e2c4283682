package arg

import (
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cs-au-dk/argus/utils"
	"github.com/cs-au-dk/argus/utils/dot"
	"github.com/cs-au-dk/argus/utils/graph"
)

// ToDot renders the live states of the ARG. Derivation edges are labelled
// with their CFA operation and covering edges are dashed.
func (a *ARG) ToDot(title string) *dot.DotGraph {
	var nodes []ID
	a.ForEach(func(st *State) { nodes = append(nodes, st.ID) })

	G := graph.Of(func(id ID) []ID {
		st := a.states[id]
		if st.IsCovered() {
			return []ID{st.coveredBy}
		}
		return st.children
	})

	return G.ToDotGraph(nodes, &graph.VisualizationConfig[ID]{
		Title: title,
		NodeAttrs: func(id ID) (string, dot.DotAttrs) {
			st := a.states[id]
			attrs := dot.DotAttrs{
				"label": utils.StripColor(fmt.Sprintf("%d @ %s\n%s", id, st.Location(), st.State)),
			}
			switch {
			case st.IsTarget():
				attrs["fillcolor"] = "lightcoral"
			case st.IsCovered():
				attrs["fillcolor"] = "lightgray"
			}
			return strconv.Itoa(int(id)), attrs
		},
		EdgeAttrs: func(from, to ID) dot.DotAttrs {
			if a.states[from].coveredBy == to {
				return dot.DotAttrs{"style": "dashed", "label": "covered"}
			}
			child := a.states[to]
			for i, pid := range child.parents {
				if pid == from {
					return dot.DotAttrs{"label": utils.StripColor(child.edges[i].Op.String())}
				}
			}
			return nil
		},
		ClusterKey: func(id ID) any {
			return a.states[id].Location().Function
		},
	})
}

// Snapshot is a serializable copy of the live part of an ARG, for
// consumers outside the engine.
type Snapshot struct {
	Roots  []int           `msgpack:"roots"`
	States []SnapshotState `msgpack:"states"`
}

type SnapshotState struct {
	ID        int    `msgpack:"id"`
	Location  int    `msgpack:"location"`
	State     string `msgpack:"state"`
	Parents   []int  `msgpack:"parents"`
	Edges     []int  `msgpack:"edges"`
	Children  []int  `msgpack:"children"`
	CoveredBy int    `msgpack:"covered_by"`
	Target    bool   `msgpack:"target"`
}

func ints(ids []ID) []int {
	res := make([]int, len(ids))
	for i, id := range ids {
		res[i] = int(id)
	}
	return res
}

// Snapshot copies the live states.
func (a *ARG) Snapshot() Snapshot {
	snap := Snapshot{Roots: ints(a.roots)}
	a.ForEach(func(st *State) {
		edges := make([]int, len(st.edges))
		for i, e := range st.edges {
			edges[i] = e.ID
		}
		snap.States = append(snap.States, SnapshotState{
			ID:        int(st.ID),
			Location:  st.Location().ID,
			State:     utils.StripColor(st.State.String()),
			Parents:   ints(st.parents),
			Edges:     edges,
			Children:  ints(st.children),
			CoveredBy: int(st.coveredBy),
			Target:    st.IsTarget(),
		})
	})
	return snap
}

func (s Snapshot) Encode() ([]byte, error) {
	return msgpack.Marshal(s)
}

func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	err := msgpack.Unmarshal(data, &s)
	return s, err
}
