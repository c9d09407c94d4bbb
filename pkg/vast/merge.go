package vast

import (
	"github.com/thenexusengine/tne_adtag/pkg/xmltree"
)

// Element names used when merging and reading documents
const (
	RootTag         = "VAST"
	CombinedRootTag = "VASTS"
	AdTagURITag     = "VASTAdTagURI"
)

// CombinedDocument is the union of every VAST element found along a wrapper
// chain, under a single synthetic VASTS root. It is read-only once built.
type CombinedDocument struct {
	tree  *xmltree.Tree
	count int
}

// Merge copies the top-level VAST element of each document, in chain order,
// under one synthetic root. Documents without a VAST element contribute
// nothing. Merge never fails; an empty input yields an empty document.
func Merge(docs []*xmltree.Tree) *CombinedDocument {
	var parts []xmltree.Node
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if node, ok := topLevelVAST(doc); ok {
			parts = append(parts, node)
		}
	}
	return &CombinedDocument{
		tree:  xmltree.NewTree(CombinedRootTag, parts...),
		count: len(parts),
	}
}

// topLevelVAST returns the document's root when it is a VAST element, or the
// first VAST element below it (e.g. inside a manifest's VASTAdData)
func topLevelVAST(doc *xmltree.Tree) (xmltree.Node, bool) {
	root := doc.Root()
	if root.Tag() == RootTag {
		return root, true
	}
	return root.Find(RootTag)
}

// Root returns the synthetic VASTS element
func (d *CombinedDocument) Root() xmltree.Node {
	if d == nil {
		return xmltree.Node{}
	}
	return d.tree.Root()
}

// Len returns the number of merged VAST documents
func (d *CombinedDocument) Len() int {
	if d == nil {
		return 0
	}
	return d.count
}

// Documents returns the merged VAST elements in chain order
func (d *CombinedDocument) Documents() []xmltree.Node {
	return d.Root().Children()
}

// Serialize renders the combined document
func (d *CombinedDocument) Serialize() string {
	return d.Root().Serialize()
}
