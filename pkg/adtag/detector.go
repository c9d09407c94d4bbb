package adtag

import (
	"github.com/thenexusengine/tne_adtag/pkg/vmap"
	"github.com/thenexusengine/tne_adtag/pkg/xmltree"
)

// Classify decides the response shape from the root element's attributes.
// A root carrying the manifest namespace attribute is a manifest; anything
// else is treated as a direct ad response.
func Classify(tree *xmltree.Tree) ResponseType {
	if vmap.IsManifest(tree) {
		return ManifestResponse
	}
	return AdResponse
}
