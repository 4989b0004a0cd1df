// Package txgraph reassembles the server-streamed batch tree into a DAG
// keyed by TXID, grounded on the `TxTree`/`TxTreeNode` shape in
// original_source/ark-core/src/server.rs.
package txgraph

import (
	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Chunk is one unit the server streams per TreeTx event: a node's PSBT
// plus the TXIDs of its children, keyed by output index.
type Chunk struct {
	Txid     chainhash.Hash
	Psbt     *psbt.Packet
	Children map[uint32]chainhash.Hash
}

// Node is one vertex of the reassembled graph.
type Node struct {
	Txid      chainhash.Hash
	Psbt      *psbt.Packet
	Children  map[uint32]chainhash.Hash
	Signature *schnorr.Signature
}

// Graph is the level-ordered DAG of batch-tree transactions built
// incrementally from TreeTx chunks.
type Graph struct {
	nodes map[chainhash.Hash]*Node
	root  chainhash.Hash
}

// New builds a Graph from a complete set of chunks. The root is the
// unique node never referenced as another node's child; more or fewer
// than one such node is a malformed tree.
func New(chunks []Chunk) (*Graph, error) {
	nodes := make(map[chainhash.Hash]*Node, len(chunks))
	referenced := make(map[chainhash.Hash]bool, len(chunks))

	for _, c := range chunks {
		nodes[c.Txid] = &Node{Txid: c.Txid, Psbt: c.Psbt, Children: c.Children}
	}
	for _, n := range nodes {
		for _, childTxid := range n.Children {
			referenced[childTxid] = true
		}
	}

	var roots []chainhash.Hash
	for txid := range nodes {
		if !referenced[txid] {
			roots = append(roots, txid)
		}
	}
	if len(roots) != 1 {
		return nil, arkerror.AdHocf("tx graph must have exactly one root, found %d", len(roots))
	}

	return &Graph{nodes: nodes, root: roots[0]}, nil
}

// Root returns the graph's unique root node.
func (g *Graph) Root() *Node { return g.nodes[g.root] }

// NbOfNodes returns the total node count.
func (g *Graph) NbOfNodes() int { return len(g.nodes) }

// AsMap exposes the underlying txid-keyed node map.
func (g *Graph) AsMap() map[chainhash.Hash]*Node { return g.nodes }

// Leaves returns every node with no children.
func (g *Graph) Leaves() []*Node {
	var leaves []*Node
	for _, n := range g.nodes {
		if len(n.Children) == 0 {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// Apply performs a depth-first walk from the root, calling f on each
// node. f returns false to stop descending into that node's children;
// it still visits siblings. This lets a caller attach a signature to a
// specific node (matched by TXID inside f) without a prior lookup pass.
func (g *Graph) Apply(f func(*Node) bool) {
	g.applyFrom(g.root, f)
}

func (g *Graph) applyFrom(txid chainhash.Hash, f func(*Node) bool) {
	node, ok := g.nodes[txid]
	if !ok {
		return
	}
	if !f(node) {
		return
	}
	for _, childTxid := range node.Children {
		g.applyFrom(childTxid, f)
	}
}

// SetSignature attaches a Schnorr key-path signature to the node
// matching txid's input 0, the shape every batch-tree node spend uses
// (a single MuSig2-aggregated key-path spend of the previous node's
// output).
func (g *Graph) SetSignature(txid chainhash.Hash, sig *schnorr.Signature) error {
	node, ok := g.nodes[txid]
	if !ok {
		return arkerror.AdHocf("no node with txid %s in graph", txid)
	}
	node.Signature = sig
	if len(node.Psbt.Inputs) == 0 {
		return arkerror.AdHoc("tree node psbt has no inputs")
	}
	node.Psbt.Inputs[0].TaprootKeySpendSig = sig.Serialize()
	return nil
}

// Levels groups nodes by their distance from the root, root at level 0,
// for level-ordered traversal and progress reporting.
func (g *Graph) Levels() [][]*Node {
	var levels [][]*Node
	current := []chainhash.Hash{g.root}
	for len(current) > 0 {
		var nodes []*Node
		var next []chainhash.Hash
		for _, txid := range current {
			n, ok := g.nodes[txid]
			if !ok {
				continue
			}
			nodes = append(nodes, n)
			for _, childTxid := range n.Children {
				next = append(next, childTxid)
			}
		}
		levels = append(levels, nodes)
		current = next
	}
	return levels
}
