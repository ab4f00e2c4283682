package block

import (
	"strconv"

	"github.com/cs-au-dk/argus/analysis/cfa"
	"github.com/cs-au-dk/argus/utils"
	"github.com/cs-au-dk/argus/utils/dot"
	"github.com/cs-au-dk/argus/utils/graph"
)

// ToDot renders the CFA with one cluster per block. Edges between blocks
// are drawn bold.
func (p *Partition) ToDot(title string) *dot.DotGraph {
	return p.CFA.Graph().ToDotGraph(p.CFA.Nodes, &graph.VisualizationConfig[*cfa.Node]{
		Title: title,
		NodeAttrs: func(n *cfa.Node) (string, dot.DotAttrs) {
			attrs := dot.DotAttrs{"label": n.Name}
			switch {
			case n.Target:
				attrs["fillcolor"] = "lightcoral"
			case p.Of(n).IsEntry(n):
				attrs["fillcolor"] = "lightblue"
			}
			return strconv.Itoa(n.ID), attrs
		},
		EdgeAttrs: func(from, to *cfa.Node) dot.DotAttrs {
			attrs := dot.DotAttrs{}
			for _, e := range from.Out() {
				if e.To == to {
					attrs["label"] = utils.StripColor(e.Op.String())
					break
				}
			}
			if p.Of(from) != p.Of(to) {
				attrs["style"] = "bold"
			}
			return attrs
		},
		ClusterKey: func(n *cfa.Node) any {
			return p.Of(n).ID
		},
		ClusterAttrs: func(key any) (string, dot.DotAttrs) {
			id := strconv.Itoa(key.(int))
			return "B" + id, dot.DotAttrs{"label": "B" + id}
		},
	})
}
