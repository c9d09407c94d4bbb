package adtag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adtag/pkg/logger"
	"github.com/thenexusengine/tne_adtag/pkg/vast"
	"github.com/thenexusengine/tne_adtag/pkg/vmap"
	"github.com/thenexusengine/tne_adtag/pkg/xmltree"
)

// ErrUnsupportedTemplate is reported for ad sources in a non-VAST format
var ErrUnsupportedTemplate = errors.New("unsupported ad source template type")

// Config holds processor settings
type Config struct {
	// MaxHops bounds each wrapper chain, first document included
	MaxHops int
	// Picker selects the stream to play. Nil fails every break at the picker check.
	Picker vast.Picker
	// SchemaValidator checks every VAST document when set
	SchemaValidator *vast.SchemaValidator
	// Recorder observes every outcome when set
	Recorder Recorder
	// Logger defaults to the global logger
	Logger *zerolog.Logger
}

// Processor turns ad tag URLs into outcomes. It holds no per-call state and
// is safe for concurrent use when its Fetcher is.
type Processor struct {
	fetcher Fetcher
	cfg     Config
	log     zerolog.Logger
}

// NewProcessor creates a processor
func NewProcessor(fetcher Fetcher, cfg Config) *Processor {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	log := logger.Log
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Processor{fetcher: fetcher, cfg: cfg, log: log}
}

// Process resolves url into a classified outcome. It never returns nil.
func (p *Processor) Process(ctx context.Context, url string) *Outcome {
	start := time.Now()
	out := &Outcome{ID: uuid.NewString(), URL: url}
	log := p.log.With().Str("resolution_id", out.ID).Str("url", url).Logger()

	counter := &countingFetcher{next: p.fetcher}
	resolver := NewResolver(counter, p.cfg.MaxHops, p.cfg.SchemaValidator, log)

	p.process(ctx, resolver, out, log)
	out.Hops = int(counter.count.Load())

	event := log.Info()
	if out.Kind.IsError() {
		event = log.Warn().Err(out.Err)
	}
	event.
		Str("kind", out.Kind.String()).
		Str("type", out.Type.String()).
		Str("reason", out.Reason.String()).
		Int("hops", out.Hops).
		Int("breaks", len(out.Breaks)).
		Dur("elapsed", time.Since(start)).
		Msg("ad tag processed")

	if p.cfg.Recorder != nil {
		p.cfg.Recorder.Observe(out, time.Since(start))
	}
	return out
}

func (p *Processor) process(ctx context.Context, resolver *Resolver, out *Outcome, log zerolog.Logger) {
	tree, err := resolver.Load(ctx, out.URL, 0)
	if err != nil {
		p.fail(out, err)
		return
	}

	out.Type = Classify(tree)
	if out.Type == AdResponse {
		manifest := vmap.FromVAST(tree)
		out.Breaks = []BreakResult{p.processBreak(ctx, resolver, manifest.Breaks[0], out.URL, log)}
		aggregate(out)
		return
	}

	// a manifest without breaks is no fill whether or not it is versioned
	manifest := vmap.Parse(tree)
	if len(manifest.Breaks) == 0 {
		out.Kind = NoPlayableAdBreak
		return
	}
	if manifest.Version == "" {
		out.Kind = StructuralInvalid
		out.Reason = vast.ReasonMissingManifestVersion
		return
	}

	for _, b := range manifest.Breaks {
		if err := b.Validate(); err != nil {
			log.Warn().Err(err).Str("break_id", b.ID).Msg("dropping invalid ad break")
			out.Breaks = append(out.Breaks, BreakResult{
				ID:         b.ID,
				TimeOffset: b.TimeOffset,
				BreakType:  b.BreakType,
				Kind:       StructuralInvalid,
				Reason:     vast.ReasonInvalidAdBreak,
				Err:        err,
				Dropped:    true,
			})
			continue
		}
		out.Breaks = append(out.Breaks, p.processBreak(ctx, resolver, b, out.URL, log))
	}
	aggregate(out)
}

// aggregate derives the outcome from its breaks. A direct ad response is one
// synthetic break. Any valid break makes
// the response valid. When every resolved break carried no Ad element the
// response is no fill. Otherwise the first failed break decides.
func aggregate(out *Outcome) {
	var firstFailure, firstDropped *BreakResult
	for i := range out.Breaks {
		br := &out.Breaks[i]
		switch {
		case br.Kind == Valid:
			out.Kind, out.Model, out.Reason, out.Err = Valid, br.Model, vast.ReasonNone, nil
			return
		case br.Dropped:
			if firstDropped == nil {
				firstDropped = br
			}
		case br.Empty():
			// no fill
		case firstFailure == nil:
			firstFailure = br
		}
	}

	switch {
	case firstFailure != nil:
		out.Kind, out.Reason, out.Err = firstFailure.Kind, firstFailure.Reason, firstFailure.Err
	case firstDropped != nil && len(out.Breaks) == countDropped(out.Breaks):
		out.Kind, out.Reason, out.Err = StructuralInvalid, vast.ReasonInvalidAdBreak, firstDropped.Err
	default:
		out.Kind = NoPlayableAdBreak
	}
}

func countDropped(breaks []BreakResult) int {
	n := 0
	for _, b := range breaks {
		if b.Dropped {
			n++
		}
	}
	return n
}

// processBreak resolves the break's VAST source through the bounded
// resolver, then merges, builds and validates it
func (p *Processor) processBreak(ctx context.Context, resolver *Resolver, b vmap.AdBreak, manifestURL string, log zerolog.Logger) BreakResult {
	br := BreakResult{ID: b.ID, TimeOffset: b.TimeOffset, BreakType: b.BreakType}
	blog := log.With().Str("break_id", b.ID).Logger()

	var chain Chain
	var err error
	kind := b.Source.Kind()
	switch kind {
	case vast.SourceEmbedded:
		chain, err = resolver.ResolveFrom(ctx, Document{Tree: b.Source.VASTAdData, URL: manifestURL})
	case vast.SourceAdTagURI:
		if !b.Source.AdTagURI.IsVAST() {
			err = fmt.Errorf("%w: %s", ErrUnsupportedTemplate, b.Source.AdTagURI.TemplateType)
			break
		}
		chain, err = resolver.Resolve(ctx, b.Source.AdTagURI.URI)
	case vast.SourceCustomData:
		if !b.Source.CustomAdData.IsVAST() {
			err = fmt.Errorf("%w: %s", ErrUnsupportedTemplate, b.Source.CustomAdData.TemplateType)
			break
		}
		tree, perr := xmltree.ParseString(b.Source.CustomAdData.Data)
		if perr != nil {
			err = &Failure{Kind: ParseFailure, URL: manifestURL, Err: perr}
			break
		}
		chain, err = resolver.ResolveFrom(ctx, Document{Tree: tree, URL: manifestURL})
	}

	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			br.Kind, br.Err, br.Hops = f.Kind, err, f.Depth+1
		} else {
			br.Kind, br.Reason, br.Err = StructuralInvalid, vast.ReasonNoAdSource, err
		}
		blog.Debug().Err(err).Str("kind", br.Kind.String()).Msg("ad break not resolved")
		return br
	}

	doc := vast.Merge(chain.Trees())
	model := vast.NewModelBuilder(blog).Build(doc)
	model.Source = kind

	v := vast.Validate(model, p.cfg.Picker)
	br.Model = v.Model
	br.Hops = len(chain)
	br.Reason = v.Reason
	if v.Valid {
		br.Kind = Valid
	} else {
		br.Kind = StructuralInvalid
	}
	blog.Debug().
		Int("hops", br.Hops).
		Str("reason", br.Reason.String()).
		Bool("has_ads", model.HasAds).
		Msg("ad break processed")
	return br
}

func (p *Processor) fail(out *Outcome, err error) {
	out.Err = err
	var f *Failure
	if errors.As(err, &f) {
		out.Kind = f.Kind
		return
	}
	out.Kind = FetchFailure
}
