package compiler

import (
	"fmt"
	"strings"

	"github.com/emicklei/dot"
)

// maxInstrShown limits how many instructions are listed per node to keep the
// graph readable.
const maxInstrShown = 20

// ToDot returns a Graphviz DOT representation of the reachable CFG.
func (c *CFG) ToDot() string {
	return c.Graph(nil).String()
}

// Graph renders the CFG as a dot graph. Blocks listed in highlight (for
// example selector entry points) are labelled with the given caption.
func (c *CFG) Graph(highlight map[uint64]string) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "TB")

	nodes := make(map[uint64]dot.Node, len(c.order))
	for _, block := range c.Blocks() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Block %d\nPC: %d..%d", block.blockNum, block.Start(), block.LastPC())
		if caption, ok := highlight[block.Start()]; ok {
			fmt.Fprintf(&sb, "\n[%s]", caption)
		}
		if block.unresolvedJump {
			sb.WriteString("\n(unresolved jump)")
		}
		for i, in := range block.instrs {
			if i >= maxInstrShown {
				sb.WriteString("\n...")
				break
			}
			if len(in.Immediate) > 0 {
				fmt.Fprintf(&sb, "\n%s 0x%x", in.Mnemonic(), in.Immediate)
			} else {
				fmt.Fprintf(&sb, "\n%s", in.Mnemonic())
			}
		}
		n := g.Node(fmt.Sprintf("b%d", block.Start())).Box().Label(sb.String())
		n.Attr("fontname", "Courier")
		if _, ok := highlight[block.Start()]; ok {
			n.Attr("style", "bold")
		}
		nodes[block.Start()] = n
	}

	var unknown *dot.Node
	for _, block := range c.Blocks() {
		from := nodes[block.Start()]
		for _, e := range block.succs {
			switch e.Kind {
			case EdgeUnknown:
				if unknown == nil {
					u := g.Node("unknown").Label("unresolved jump target")
					u.Attr("shape", "diamond")
					unknown = &u
				}
				g.Edge(from, *unknown).Attr("style", "dashed")
			case EdgeFallthrough:
				g.Edge(from, nodes[e.Target]).Attr("style", "dotted")
			default:
				g.Edge(from, nodes[e.Target])
			}
		}
	}
	return g
}
