package dot

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/goccy/go-graphviz"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// renderImage lays out a dot document with graphviz and writes the image
// to `outfname.format`.
func renderImage(outfname, format string, dot []byte) (img string, err error) {
	g := graphviz.New()
	defer g.Close()
	graph, err := graphviz.ParseBytes(dot)
	if err != nil {
		return "", fmt.Errorf("parsing dot: %w", err)
	}
	defer func() {
		if cerr := graph.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	img = outfname + "." + format
	if err := g.RenderFilename(graph, graphviz.Format(format), img); err != nil {
		return "", fmt.Errorf("rendering %s: %w", img, err)
	}
	return img, nil
}

const tmplCluster = `{{define "cluster" -}}
	{{printf "subgraph %q {" .}}
		{{printf "%s" .Attrs.Lines}}
		{{range .Nodes}}
		{{template "node" .}}
		{{- end}}
	{{println "}" }}
{{- end}}`

const tmplEdge = `{{define "edge" -}}
	{{printf "%q -> %q [ %s ]" .From .To .Attrs}}
{{- end}}`

const tmplNode = `{{define "node" -}}
	{{printf "%q [ %s ]" .ID .Attrs}}
{{- end}}`

const tmplGraph = `digraph Argus {
	label="{{.Title}}";
	labeljust="l";
	fontname="Arial";
	fontsize="14";
	rankdir="{{or .Options.rankdir "LR"}}";
	style="solid";
	penwidth="0.5";
	pad="0.0";
	nodesep="{{.Options.nodesep}}";

	node [shape="box" style="rounded,filled" fillcolor="{{or .Options.fillcolor "white"}}" fontname="Courier" penwidth="1.0" margin="0.05,0.0"];
	edge [minlen="{{.Options.minlen}}"]

	{{- range .Clusters}}
	{{template "cluster" .}}
	{{- end}}

	{{range .Nodes}}
	{{template "node" .}}
	{{- end}}

	{{- range .Edges}}
	{{template "edge" .}}
	{{- end}}
}
`

// DotCluster is a subgraph drawn as a box around its nodes.
type DotCluster struct {
	ID    string
	Nodes []*DotNode
	Attrs DotAttrs
}

func NewDotCluster(id string) *DotCluster {
	return &DotCluster{
		ID:    id,
		Attrs: make(DotAttrs),
	}
}

func (c *DotCluster) String() string {
	return fmt.Sprintf("cluster_%s", c.ID)
}

type DotNode struct {
	ID    string
	Attrs DotAttrs
}

func (n *DotNode) String() string {
	return n.ID
}

// DotEdge connects two nodes of the same graph.
type DotEdge struct {
	From  *DotNode
	To    *DotNode
	Attrs DotAttrs
}

// DotAttrs are the attributes of a graph element, rendered in key order.
type DotAttrs map[string]string

// List renders the attributes sorted by key.
func (p DotAttrs) List() []string {
	keys := maps.Keys(p)
	slices.Sort(keys)

	l := make([]string, 0, len(p))
	for _, k := range keys {
		l = append(l, fmt.Sprintf("%s=%q;", k, p[k]))
	}
	return l
}

func (p DotAttrs) String() string {
	return strings.Join(p.List(), " ")
}

func (p DotAttrs) Lines() string {
	return strings.Join(p.List(), "\n")
}

// DotGraph is a dot document. Options fill the graph-level settings of the
// template: rankdir, nodesep, minlen and the node fillcolor.
type DotGraph struct {
	Title    string
	Clusters []*DotCluster
	Nodes    []*DotNode
	Edges    []*DotEdge
	Options  map[string]string
}

var dotTemplate = func() *template.Template {
	t := template.New("dot").Option("missingkey=zero")
	for _, s := range []string{tmplCluster, tmplNode, tmplEdge, tmplGraph} {
		template.Must(t.Parse(s))
	}
	return t
}()

// WriteDot writes the dot source of g to w.
func (g *DotGraph) WriteDot(w io.Writer) error {
	var buf bytes.Buffer
	if err := dotTemplate.Execute(&buf, g); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// Render writes the dot document to `outfname.dot` and, unless format is
// "dot", renders it to `outfname.format`. Returns the produced file path.
func (g *DotGraph) Render(outfname, format string) (string, error) {
	var buf bytes.Buffer
	if err := g.WriteDot(&buf); err != nil {
		return "", err
	}

	if format == "" || format == "dot" {
		path := outfname + ".dot"
		return path, os.WriteFile(path, buf.Bytes(), 0o644)
	}
	return renderImage(outfname, format, buf.Bytes())
}
