package cfa

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the serialized form of a CFA produced by a front-end.
//
//	functions:
//	  - name: main
//	    targets: [err]
//	    edges:
//	      - {from: n0, to: n1, assign: "x = 0"}
//	      - {from: n1, to: n2, else: err, branch: "x == 0"}
//	      - {from: n2, to: n3, call: "y = inc(x)"}
//	  - name: inc
//	    params: [inc.a]
//	    exit: f1
//	    result: inc.a + 1
//	    edges:
//	      - {from: f0, to: f1, skip: true}
//
// The first function is the program entry function.
type Document struct {
	Functions []FunctionDoc `yaml:"functions"`
}

type FunctionDoc struct {
	Name    string    `yaml:"name"`
	Params  []string  `yaml:"params,omitempty"`
	Entry   string    `yaml:"entry,omitempty"`
	Exit    string    `yaml:"exit,omitempty"`
	Result  string    `yaml:"result,omitempty"`
	Targets []string  `yaml:"targets,omitempty"`
	Edges   []EdgeDoc `yaml:"edges"`
}

// EdgeDoc describes one edge. Exactly one operation field must be set.
type EdgeDoc struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Else   string `yaml:"else,omitempty"`
	Skip   bool   `yaml:"skip,omitempty"`
	Assign string `yaml:"assign,omitempty"`
	Assume string `yaml:"assume,omitempty"`
	Branch string `yaml:"branch,omitempty"`
	Havoc  string `yaml:"havoc,omitempty"`
	Call   string `yaml:"call,omitempty"`
}

// Load decodes and builds a CFA document.
func Load(data []byte) (*CFA, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return doc.Build()
}

// LoadFile reads and builds the CFA document at path.
func LoadFile(path string) (*CFA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Build replays the document on a Builder.
func (doc Document) Build() (*CFA, error) {
	if len(doc.Functions) == 0 {
		return nil, fmt.Errorf("%w: no functions", ErrMalformed)
	}

	b := NewBuilder()
	for _, fd := range doc.Functions {
		b.Func(fd.Name, fd.Params...)
		if fd.Entry != "" {
			b.Entry(fd.Entry)
		}
		for _, ed := range fd.Edges {
			ed.apply(b)
		}
		if fd.Exit != "" {
			b.Exit(fd.Exit, fd.Result)
		}
		b.Target(fd.Targets...)
	}
	return b.Build()
}

func (ed EdgeDoc) apply(b *Builder) {
	ops := 0
	for _, set := range []bool{ed.Skip, ed.Assign != "", ed.Assume != "", ed.Branch != "", ed.Havoc != "", ed.Call != ""} {
		if set {
			ops++
		}
	}
	if ops != 1 || ed.From == "" || ed.To == "" {
		b.errorf("%w: edge %s -> %s must have endpoints and exactly one operation", ErrMalformed, ed.From, ed.To)
		return
	}
	if ed.Else != "" && ed.Branch == "" {
		b.errorf("%w: edge %s -> %s has an else target without a branch", ErrMalformed, ed.From, ed.To)
		return
	}

	switch {
	case ed.Skip:
		b.Skip(ed.From, ed.To)
	case ed.Assign != "":
		b.Assign(ed.From, ed.To, ed.Assign)
	case ed.Assume != "":
		b.Assume(ed.From, ed.To, ed.Assume)
	case ed.Branch != "":
		if ed.Else == "" {
			b.errorf("%w: branch %s -> %s has no else target", ErrMalformed, ed.From, ed.To)
			return
		}
		b.Branch(ed.From, ed.To, ed.Else, ed.Branch)
	case ed.Havoc != "":
		b.Havoc(ed.From, ed.To, ed.Havoc)
	case ed.Call != "":
		b.Call(ed.From, ed.To, ed.Call)
	}
}
