// Package dash rewrites DASH (.mpd) manifests at serve time.
//
// Processing happens in two passes. The expansion pass converts
// $Number$-templated SegmentTemplate elements into explicit SegmentList
// elements using their SegmentTimeline, so that every segment reference
// becomes an addressable URL. The rewrite pass then maps BaseURL,
// initialization/sourceURL, and media references onto caller-supplied
// URLs.
package dash

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/spf13/afero"
)

// Resolver maps a reference found in a manifest to the URL that should
// replace it. An unset resolver leaves matching references unchanged.
type Resolver func(string) string

// ContentType is the media type for DASH manifests.
const ContentType = "application/dash+xml"

// numberPlaceholder marks templated segment numbers in media attributes.
const numberPlaceholder = "$Number$"

// Rewriter rewrites manifest references through resolver callbacks.
// Resolved URLs are cached per input for the lifetime of the current
// Open call.
type Rewriter struct {
	fs   afero.Fs
	path string

	mediaResolver Resolver
	initResolver  Resolver

	mediaCache map[string]string
	initCache  map[string]string
}

// NewRewriter creates a Rewriter reading manifests from the given
// filesystem.
func NewRewriter(fs afero.Fs) *Rewriter {
	r := &Rewriter{fs: fs}
	r.clearCaches()
	return r
}

// Open selects the manifest to process and invalidates all caches.
func (r *Rewriter) Open(path string) *Rewriter {
	r.path = path
	r.clearCaches()
	return r
}

// SetMediaResolver sets the resolver for BaseURL text and media
// attributes.
func (r *Rewriter) SetMediaResolver(resolver Resolver) *Rewriter {
	r.mediaResolver = resolver
	r.mediaCache = make(map[string]string)
	return r
}

// SetInitResolver sets the resolver for initialization and sourceURL
// attributes (initialization segment references).
func (r *Rewriter) SetInitResolver(resolver Resolver) *Rewriter {
	r.initResolver = resolver
	r.initCache = make(map[string]string)
	return r
}

func (r *Rewriter) clearCaches() {
	r.mediaCache = make(map[string]string)
	r.initCache = make(map[string]string)
}

// Get returns the fully rewritten text of the opened manifest, always
// carrying an XML declaration.
func (r *Rewriter) Get() (string, error) {
	if r.path == "" {
		return "", fmt.Errorf("no manifest opened")
	}

	content, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		return "", fmt.Errorf("reading manifest %s: %w", r.path, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(content); err != nil {
		return "", fmt.Errorf("parsing manifest %s: %w", r.path, err)
	}

	expandSegmentTemplates(doc)
	r.rewriteReferences(doc)

	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serializing manifest %s: %w", r.path, err)
	}
	if !strings.HasPrefix(strings.TrimSpace(out), "<?xml") {
		out = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + out
	}
	return out, nil
}

// expandSegmentTemplates replaces each $Number$-templated SegmentTemplate
// that has a SegmentTimeline with an equivalent SegmentList. Templates
// without the placeholder, without a timeline, or with malformed timing
// data are left untouched; a bad node never aborts the document.
func expandSegmentTemplates(doc *etree.Document) {
	for _, template := range doc.FindElements("//SegmentTemplate") {
		media := template.SelectAttrValue("media", "")
		if !strings.Contains(media, numberPlaceholder) {
			continue
		}
		timeline := template.SelectElement("SegmentTimeline")
		if timeline == nil {
			continue
		}

		durations, ok := timelineDurations(timeline)
		if !ok {
			continue
		}

		startNumber := int64(1)
		if raw := template.SelectAttrValue("startNumber", ""); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			startNumber = parsed
		}

		list := etree.NewElement("SegmentList")
		if timescale := template.SelectAttrValue("timescale", ""); timescale != "" {
			list.CreateAttr("timescale", timescale)
		}

		if initialization := template.SelectAttrValue("initialization", ""); initialization != "" {
			initEl := list.CreateElement("Initialization")
			initEl.CreateAttr("sourceURL", initialization)
		}

		// The original timeline is kept verbatim inside the list.
		list.AddChild(timeline.Copy())

		number := startNumber
		for _, duration := range durations {
			segment := list.CreateElement("SegmentURL")
			segment.CreateAttr("media", strings.ReplaceAll(media, numberPlaceholder, strconv.FormatInt(number, 10)))
			segment.CreateAttr("duration", strconv.FormatInt(duration, 10))
			number++
		}

		parent := template.Parent()
		index := template.Index()
		parent.RemoveChildAt(index)
		parent.InsertChildAt(index, list)
	}
}

// timelineDurations flattens a SegmentTimeline into per-segment
// durations: each S entry's duration d repeated r+1 times, with negative
// repeat counts treated as zero. Returns ok=false on malformed data.
func timelineDurations(timeline *etree.Element) ([]int64, bool) {
	var durations []int64
	for _, s := range timeline.SelectElements("S") {
		duration, err := strconv.ParseInt(s.SelectAttrValue("d", ""), 10, 64)
		if err != nil || duration <= 0 {
			return nil, false
		}

		repeat := int64(0)
		if raw := s.SelectAttrValue("r", ""); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, false
			}
			if parsed > 0 {
				repeat = parsed
			}
		}

		for i := int64(0); i <= repeat; i++ {
			durations = append(durations, duration)
		}
	}
	if len(durations) == 0 {
		return nil, false
	}
	return durations, true
}

// rewriteReferences maps BaseURL text, initialization/sourceURL
// attributes, and media attributes through the configured resolvers.
// Serialization escapes substituted values, so a resolver returning raw
// text cannot corrupt the document.
func (r *Rewriter) rewriteReferences(doc *etree.Document) {
	if r.mediaResolver != nil {
		for _, baseURL := range doc.FindElements("//BaseURL") {
			baseURL.SetText(r.resolveMedia(baseURL.Text()))
		}
	}

	for _, el := range doc.FindElements("//*") {
		if r.initResolver != nil {
			if attr := el.SelectAttr("initialization"); attr != nil {
				attr.Value = r.resolveInit(attr.Value)
			}
			if attr := el.SelectAttr("sourceURL"); attr != nil {
				attr.Value = r.resolveInit(attr.Value)
			}
		}
		if r.mediaResolver != nil {
			if attr := el.SelectAttr("media"); attr != nil {
				attr.Value = r.resolveMedia(attr.Value)
			}
		}
	}
}

func (r *Rewriter) resolveMedia(reference string) string {
	if r.mediaResolver == nil {
		return reference
	}
	if cached, ok := r.mediaCache[reference]; ok {
		return cached
	}
	resolved := r.mediaResolver(reference)
	r.mediaCache[reference] = resolved
	return resolved
}

func (r *Rewriter) resolveInit(reference string) string {
	if r.initResolver == nil {
		return reference
	}
	if cached, ok := r.initCache[reference]; ok {
		return cached
	}
	resolved := r.initResolver(reference)
	r.initCache[reference] = resolved
	return resolved
}
