// Package xmltree provides a read-only XML tree used by the ad tag pipeline.
//
// Trees are parsed once and never modified afterwards. Code that needs a
// different shape builds a new tree from copies (see NewTree).
package xmltree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Document shape errors, reported inside a *ParseError
var (
	ErrNoRoot        = errors.New("document has no root element")
	ErrMultipleRoots = errors.New("document has more than one root element")
	ErrStrayText     = errors.New("text outside the root element")
)

// ParseError reports input that is not well-formed XML
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("xml parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Tree is an immutable parsed XML document
type Tree struct {
	doc *etree.Document
}

// Node is a read-only view of one element inside a Tree
type Node struct {
	el *etree.Element
}

// Parse parses raw XML. Input that is not well-formed, or that has no root
// element, yields a *ParseError.
func Parse(data []byte) (*Tree, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = false
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := checkProlog(doc); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &Tree{doc: doc}, nil
}

// checkProlog enforces what etree leaves to the caller: exactly one root
// element and only whitespace, comments or processing instructions around it
func checkProlog(doc *etree.Document) error {
	roots := 0
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Element:
			roots++
			if roots > 1 {
				return ErrMultipleRoots
			}
		case *etree.CharData:
			if !t.IsWhitespace() {
				return ErrStrayText
			}
		}
	}
	if roots == 0 {
		return ErrNoRoot
	}
	return nil
}

// ParseString is Parse for string input
func ParseString(s string) (*Tree, error) {
	return Parse([]byte(s))
}

// NewTree builds a synthetic tree whose root is rootTag and whose children are
// deep copies of the given nodes, in order.
func NewTree(rootTag string, children ...Node) *Tree {
	root := etree.NewElement(rootTag)
	for _, child := range children {
		if child.el == nil {
			continue
		}
		root.AddChild(child.el.Copy())
	}
	doc := etree.NewDocument()
	doc.SetRoot(root)
	return &Tree{doc: doc}
}

// Root returns the document element
func (t *Tree) Root() Node {
	if t == nil || t.doc == nil {
		return Node{}
	}
	return Node{el: t.doc.Root()}
}

// FindAll returns every element (root included) whose local name is tag, in
// document order
func (t *Tree) FindAll(tag string) []Node {
	return t.Root().FindAll(tag)
}

// Find returns the first element whose local name is tag
func (t *Tree) Find(tag string) (Node, bool) {
	return t.Root().Find(tag)
}

// Serialize renders the whole tree as XML text
func (t *Tree) Serialize() string {
	return t.Root().Serialize()
}

// IsZero reports whether the node refers to no element
func (n Node) IsZero() bool {
	return n.el == nil
}

// Tag returns the local element name
func (n Node) Tag() string {
	if n.el == nil {
		return ""
	}
	return n.el.Tag
}

// FullTag returns the element name including its namespace prefix
func (n Node) FullTag() string {
	if n.el == nil {
		return ""
	}
	return n.el.FullTag()
}

// Attr returns the value of the named attribute. Prefixed names such as
// "xmlns:vmap" are matched against the attribute's prefix and key.
func (n Node) Attr(name string) (string, bool) {
	if n.el == nil {
		return "", false
	}
	a := n.el.SelectAttr(name)
	if a == nil {
		return "", false
	}
	return a.Value, true
}

// AttrOr returns the attribute value or def when absent
func (n Node) AttrOr(name, def string) string {
	if v, ok := n.Attr(name); ok {
		return v
	}
	return def
}

// Attrs returns a copy of the element's attributes keyed by full name
func (n Node) Attrs() map[string]string {
	attrs := make(map[string]string)
	if n.el == nil {
		return attrs
	}
	for _, a := range n.el.Attr {
		attrs[a.FullKey()] = a.Value
	}
	return attrs
}

// Text returns the element's direct text and CDATA content, concatenated and
// trimmed of surrounding whitespace
func (n Node) Text() string {
	if n.el == nil {
		return ""
	}
	var sb strings.Builder
	for _, tok := range n.el.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			sb.WriteString(cd.Data)
		}
	}
	return strings.TrimSpace(sb.String())
}

// Children returns the direct child elements in document order
func (n Node) Children() []Node {
	if n.el == nil {
		return nil
	}
	kids := n.el.ChildElements()
	nodes := make([]Node, 0, len(kids))
	for _, k := range kids {
		nodes = append(nodes, Node{el: k})
	}
	return nodes
}

// FindAll returns the node itself and every descendant whose local name is
// tag, in document order
func (n Node) FindAll(tag string) []Node {
	if n.el == nil {
		return nil
	}
	var nodes []Node
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if el.Tag == tag {
			nodes = append(nodes, Node{el: el})
		}
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	walk(n.el)
	return nodes
}

// Find returns the first match of FindAll
func (n Node) Find(tag string) (Node, bool) {
	found := n.FindAll(tag)
	if len(found) == 0 {
		return Node{}, false
	}
	return found[0], true
}

// Path evaluates an etree path expression relative to the node, for example
// "Ad/InLine/Impression" or "./Creatives/Creative/Linear". An invalid path
// matches nothing.
func (n Node) Path(path string) []Node {
	if n.el == nil {
		return nil
	}
	p, err := etree.CompilePath(path)
	if err != nil {
		return nil
	}
	found := n.el.FindElementsPath(p)
	nodes := make([]Node, 0, len(found))
	for _, el := range found {
		nodes = append(nodes, Node{el: el})
	}
	return nodes
}

// Copy returns a detached deep copy of the node as its own tree
func (n Node) Copy() *Tree {
	doc := etree.NewDocument()
	if n.el != nil {
		doc.SetRoot(n.el.Copy())
	}
	return &Tree{doc: doc}
}

// Serialize renders the node and its subtree as XML text
func (n Node) Serialize() string {
	if n.el == nil {
		return ""
	}
	doc := etree.NewDocument()
	doc.SetRoot(n.el.Copy())
	s, err := doc.WriteToString()
	if err != nil {
		return ""
	}
	return s
}
