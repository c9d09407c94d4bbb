package adtag

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adtag/pkg/vast"
	"github.com/thenexusengine/tne_adtag/pkg/xmltree"
)

// ErrEmptyAdTagURI is reported when a wrapper's target element has no URI
var ErrEmptyAdTagURI = errors.New("wrapper has an empty VASTAdTagURI")

// DefaultMaxHops is the default ceiling on documents per wrapper chain,
// counting the first document
const DefaultMaxHops = 5

// Document is one parsed document in a wrapper chain
type Document struct {
	Tree  *xmltree.Tree
	URL   string
	Depth int
}

// Chain is the ordered list of documents visited while following wrappers.
// Index 0 is the top-level document.
type Chain []Document

// Trees returns the chain's trees in order
func (c Chain) Trees() []*xmltree.Tree {
	trees := make([]*xmltree.Tree, 0, len(c))
	for _, d := range c {
		trees = append(trees, d.Tree)
	}
	return trees
}

// Resolver follows wrapper indirections with an explicit depth counter
type Resolver struct {
	fetcher Fetcher
	maxHops int
	schema  *vast.SchemaValidator
	log     zerolog.Logger
}

// NewResolver creates a resolver. maxHops <= 0 uses DefaultMaxHops. A nil
// schema validator disables schema checks.
func NewResolver(fetcher Fetcher, maxHops int, schema *vast.SchemaValidator, log zerolog.Logger) *Resolver {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Resolver{fetcher: fetcher, maxHops: maxHops, schema: schema, log: log}
}

// MaxHops returns the chain length ceiling
func (r *Resolver) MaxHops() int {
	return r.maxHops
}

// Resolve fetches url and follows its wrappers. Errors are *Failure.
func (r *Resolver) Resolve(ctx context.Context, url string) (Chain, error) {
	tree, err := r.Load(ctx, url, 0)
	if err != nil {
		return nil, err
	}
	return r.ResolveFrom(ctx, Document{Tree: tree, URL: url})
}

// ResolveFrom follows wrappers starting from an already parsed document
func (r *Resolver) ResolveFrom(ctx context.Context, first Document) (Chain, error) {
	doc := first
	if err := r.check(doc); err != nil {
		return nil, err
	}
	chain := Chain{doc}

	for {
		next, ok := NextAdTagURI(doc.Tree)
		if !ok {
			return chain, nil
		}
		if next == "" {
			return nil, &Failure{Kind: FetchFailure, URL: doc.URL, Depth: doc.Depth + 1, Err: ErrEmptyAdTagURI}
		}
		if doc.Depth+1 >= r.maxHops {
			r.log.Warn().
				Str("url", next).
				Int("depth", doc.Depth).
				Int("max_hops", r.maxHops).
				Msg("wrapper limit exceeded")
			return nil, &Failure{Kind: WrapperLimitExceeded, URL: next, Depth: doc.Depth + 1}
		}

		tree, err := r.Load(ctx, next, doc.Depth+1)
		if err != nil {
			return nil, err
		}
		doc = Document{Tree: tree, URL: next, Depth: doc.Depth + 1}
		if err := r.check(doc); err != nil {
			return nil, err
		}
		chain = append(chain, doc)
	}
}

// Load fetches and parses one document
func (r *Resolver) Load(ctx context.Context, url string, depth int) (*xmltree.Tree, error) {
	r.log.Debug().Str("url", url).Int("depth", depth).Msg("fetching ad document")

	if err := ctx.Err(); err != nil {
		return nil, &Failure{Kind: FetchFailure, URL: url, Depth: depth, Err: err}
	}
	body, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, &Failure{Kind: FetchFailure, URL: url, Depth: depth, Err: err}
	}

	tree, err := xmltree.Parse(body)
	if err != nil {
		return nil, &Failure{Kind: ParseFailure, URL: url, Depth: depth, Err: err}
	}
	return tree, nil
}

func (r *Resolver) check(doc Document) error {
	if r.schema == nil {
		return nil
	}
	if err := r.schema.Check(doc.Tree).Err(); err != nil {
		return &Failure{Kind: SchemaValidationFailure, URL: doc.URL, Depth: doc.Depth, Err: err}
	}
	return nil
}

// NextAdTagURI returns the wrapper target of a document. ok is false when the
// document has no target element; a present but blank element yields "", true.
func NextAdTagURI(tree *xmltree.Tree) (uri string, ok bool) {
	node, ok := tree.Find(vast.AdTagURITag)
	if !ok {
		return "", false
	}
	return node.Text(), true
}
