package vast

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/thenexusengine/tne_adtag/pkg/xmltree"
)

// SchemaError is one structural problem found by SchemaValidator
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SchemaResult collects schema errors for one document
type SchemaResult struct {
	Valid  bool
	Errors []SchemaError
}

// AddError records an error and marks the result invalid
func (r *SchemaResult) AddError(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, SchemaError{Field: field, Message: message})
}

// Err returns the first error, or nil when valid
func (r *SchemaResult) Err() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	e := r.Errors[0]
	if len(r.Errors) > 1 {
		return fmt.Errorf("%w (and %d more)", &e, len(r.Errors)-1)
	}
	return &e
}

// SchemaValidator performs structural checks on a single fetched VAST
// document. It is optional and disabled unless configured.
type SchemaValidator struct {
	// Versions lists accepted version attributes. Empty accepts any.
	Versions []string
}

// NewSchemaValidator returns a validator accepting VAST 1.0 through 4.2
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{Versions: []string{"1.0", "2.0", "3.0", "4.0", "4.1", "4.2"}}
}

// Check validates one document
func (s *SchemaValidator) Check(tree *xmltree.Tree) *SchemaResult {
	result := &SchemaResult{Valid: true}
	root := tree.Root()

	if root.Tag() != RootTag {
		result.AddError("VAST", fmt.Sprintf("unexpected root element %q", root.Tag()))
		return result
	}

	version, ok := root.Attr("version")
	switch {
	case !ok || version == "":
		result.AddError("VAST.version", "version attribute is required")
	case !s.acceptsVersion(version):
		result.AddError("VAST.version", fmt.Sprintf("unsupported version: %s", version))
	}

	ads := root.Path("Ad")
	if len(ads) == 0 && len(root.Path("Error")) == 0 {
		result.AddError("VAST.Ad", "VAST must contain at least one Ad or an Error element")
	}
	for i, ad := range ads {
		checkAd(ad, fmt.Sprintf("VAST.Ad[%d]", i), result)
	}
	return result
}

func (s *SchemaValidator) acceptsVersion(v string) bool {
	if len(s.Versions) == 0 {
		return true
	}
	for _, accepted := range s.Versions {
		if v == accepted {
			return true
		}
	}
	return false
}

func checkAd(ad xmltree.Node, prefix string, result *SchemaResult) {
	inline := ad.Path("InLine")
	wrapper := ad.Path("Wrapper")

	if len(inline) == 0 && len(wrapper) == 0 {
		result.AddError(prefix, "Ad must contain either InLine or Wrapper")
		return
	}
	if len(inline) > 0 && len(wrapper) > 0 {
		result.AddError(prefix, "Ad cannot contain both InLine and Wrapper")
		return
	}

	if len(inline) > 0 {
		body := inline[0]
		prefix += ".InLine"
		if len(body.Path("AdSystem")) == 0 {
			result.AddError(prefix+".AdSystem", "AdSystem is required")
		}
		if len(body.Path("Impression")) == 0 {
			result.AddError(prefix+".Impression", "At least one Impression is required")
		}
		checkURLs(body.Path("Impression"), prefix+".Impression", result)
		for i, mf := range body.FindAll("MediaFile") {
			checkMediaFile(mf, fmt.Sprintf("%s.MediaFile[%d]", prefix, i), result)
		}
		return
	}

	body := wrapper[0]
	prefix += ".Wrapper"
	tags := body.Path(AdTagURITag)
	if len(tags) == 0 || tags[0].Text() == "" {
		result.AddError(prefix+"."+AdTagURITag, "VASTAdTagURI is required")
	} else if !isValidURL(tags[0].Text()) {
		result.AddError(prefix+"."+AdTagURITag, "Invalid VAST Ad Tag URI")
	}
	checkURLs(body.Path("Impression"), prefix+".Impression", result)
}

func checkURLs(nodes []xmltree.Node, prefix string, result *SchemaResult) {
	for i, n := range nodes {
		field := fmt.Sprintf("%s[%d]", prefix, i)
		if v := n.Text(); v != "" && !isValidURL(v) {
			result.AddError(field, "Invalid URL")
		}
	}
}

func checkMediaFile(mf xmltree.Node, prefix string, result *SchemaResult) {
	delivery := mf.AttrOr("delivery", "")
	if delivery != DeliveryProgressive && delivery != DeliveryStreaming {
		result.AddError(prefix+".delivery", "delivery must be 'progressive' or 'streaming'")
	}
	if mf.AttrOr("type", "") == "" {
		result.AddError(prefix+".type", "type attribute is required")
	}
	if mf.Text() == "" {
		result.AddError(prefix, "MediaFile URL is required")
	} else if !isValidURL(mf.Text()) {
		result.AddError(prefix, "Invalid MediaFile URL")
	}
}

func isValidURL(raw string) bool {
	// macros such as [ERRORCODE] or ${AUCTION_PRICE} are substituted later
	if strings.Contains(raw, "${") || strings.Contains(raw, "[") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
