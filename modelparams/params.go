// Package modelparams provides centralized handling of JSON model
// configuration documents. Each AI model is accompanied by a configuration
// document that defines all of its parameters, organized into named
// sections. The package exposes type-safe getters and setters for a fixed
// parameter catalog, existence checks, read-through fallbacks, and
// runtime-parameter merging.
package modelparams

import (
	"encoding/json"
	"reflect"

	"github.com/axionml/inferlink/errors"
)

// Section describes a top-level division of the configuration document.
// Vector sections are JSON arrays of objects addressed by index; scalar
// sections hold a single element.
type Section struct {
	Label  string
	Scalar bool
}

// Configuration document top-level sections.
var (
	SectTop             = Section{Label: "", Scalar: true}
	SectDevice          = Section{Label: "DEVICE", Scalar: true}
	SectPreProcess      = Section{Label: "PRE_PROCESS", Scalar: false}
	SectModelParameters = Section{Label: "MODEL_PARAMETERS", Scalar: true}
	SectPostProcess     = Section{Label: "POST_PROCESS", Scalar: true}
	SectInternal        = Section{Label: "INTERNAL", Scalar: true}
)

// descriptor defines one catalog parameter: where it lives, its default,
// whether a patch document may overwrite it at runtime, and an optional
// fallback parameter consulted when the parameter itself is absent.
type descriptor struct {
	name      string
	section   Section
	def       any
	mandatory bool
	runtime   bool
	fallback  string
}

var catalog = []descriptor{
	{name: "ConfigVersion", section: SectTop, def: 0},
	{name: "DeviceType", section: SectDevice, def: "CPU", runtime: true},
	{name: "RuntimeAgent", section: SectDevice, def: "", runtime: true},
	{name: "DeviceTimeoutMS", section: SectDevice, def: 0.0, runtime: true},
	{name: "EagerBatchSize", section: SectDevice, def: 1, runtime: true},
	{name: "ModelPath", section: SectModelParameters, def: "", mandatory: true},
	{name: "ModelQuantized", section: SectModelParameters, def: false},
	{name: "ModelPruned", section: SectModelParameters, def: false},
	{name: "InputType", section: SectPreProcess, def: "Image", mandatory: true},
	{name: "InputN", section: SectPreProcess, def: 1},
	{name: "InputH", section: SectPreProcess, def: 0},
	{name: "InputW", section: SectPreProcess, def: 0},
	{name: "InputC", section: SectPreProcess, def: 0},
	{name: "InputShape", section: SectPreProcess, def: []uint64(nil)},
	{name: "InputTensorLayout", section: SectPreProcess, def: "NHWC"},
	{name: "InputColorSpace", section: SectPreProcess, def: "RGB"},
	{name: "InputImgFmt", section: SectPreProcess, def: "JPEG", runtime: true},
	{name: "InputRawDataType", section: SectPreProcess, def: "DG_UINT8", runtime: true},
	{name: "OutputPostprocessType", section: SectPostProcess, def: "None"},
	{name: "OutputConfThreshold", section: SectPostProcess, def: 0.1, runtime: true},
	{name: "OutputNMSThreshold", section: SectPostProcess, def: 0.6, runtime: true},
	{name: "MaxDetections", section: SectPostProcess, def: 20, runtime: true},
	{name: "MaxDetectionsPerClass", section: SectPostProcess, def: 100, runtime: true, fallback: "MaxDetections"},
	{name: "OutputTopK", section: SectPostProcess, def: 0, runtime: true, fallback: "MaxDetections"},
}

var catalogByName = func() map[string]*descriptor {
	m := make(map[string]*descriptor, len(catalog))
	for i := range catalog {
		m[catalog[i].name] = &catalog[i]
	}
	return m
}()

// Params is a model parameter collection owning its configuration
// document. The zero value is not usable; construct with New, FromJSON,
// or FromDocument.
type Params struct {
	doc   map[string]any
	dirty bool
}

// New creates an empty parameter collection.
func New() *Params {
	return &Params{doc: map[string]any{}}
}

// FromJSON creates a parameter collection by parsing JSON text. The text
// must contain a JSON object.
func FromJSON(text []byte) (*Params, error) {
	var raw any
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, errors.Wrap(err, errors.KindParseError, "failed to parse model parameters")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New(errors.KindBadParameter,
			"model parameters must be initialized with a JSON object")
	}
	return &Params{doc: obj}, nil
}

// FromDocument creates a parameter collection from a decoded JSON object.
// The document is deep-copied.
func FromDocument(doc map[string]any) *Params {
	if doc == nil {
		return New()
	}
	return &Params{doc: copyValue(doc).(map[string]any)}
}

// Document returns the underlying configuration document. The returned
// map is shared with the collection; callers must not mutate it.
func (p *Params) Document() map[string]any {
	return p.doc
}

// JSON encodes the configuration document as JSON text.
func (p *Params) JSON() ([]byte, error) {
	b, err := json.Marshal(p.doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindParseError, "failed to encode model parameters")
	}
	return b, nil
}

// String returns the configuration document as JSON text.
func (p *Params) String() string {
	b, err := p.JSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Clone returns a deep copy of the collection. The dirty flag is not
// carried over.
func (p *Params) Clone() *Params {
	return FromDocument(p.doc)
}

// Dirty reports whether any parameter was changed since the flag was last
// cleared.
func (p *Params) Dirty() bool {
	return p.dirty
}

// SetDirty sets the dirty flag.
func (p *Params) SetDirty(state bool) {
	p.dirty = state
}

// SectionSize returns the number of elements in a section: the array
// length for vector sections, 1 for scalar sections, missing sections,
// and the top-level section.
func (p *Params) SectionSize(label string) int {
	if label == "" {
		return 1
	}
	sec, ok := p.doc[label]
	if !ok {
		return 1
	}
	if arr, ok := sec.([]any); ok {
		return len(arr)
	}
	return 1
}

// sectionObject returns the object holding parameters of a section at the
// given index, or nil when absent.
func (p *Params) sectionObject(label string, idx int) map[string]any {
	if label == "" {
		return p.doc
	}
	sec, ok := p.doc[label]
	if !ok {
		return nil
	}
	switch s := sec.(type) {
	case []any:
		if idx < 0 || idx >= len(s) {
			return nil
		}
		obj, _ := s[idx].(map[string]any)
		return obj
	case map[string]any:
		if idx != 0 {
			return nil
		}
		return s
	default:
		return nil
	}
}

// ensureSection returns the object for a section at the given index,
// growing the backing array as needed.
func (p *Params) ensureSection(label string, idx int) map[string]any {
	if label == "" {
		return p.doc
	}
	sec, ok := p.doc[label]
	if !ok {
		sec = []any{}
	}
	switch s := sec.(type) {
	case []any:
		for len(s) <= idx {
			s = append(s, map[string]any{})
		}
		p.doc[label] = s
		obj, ok := s[idx].(map[string]any)
		if !ok {
			obj = map[string]any{}
			s[idx] = obj
		}
		return obj
	case map[string]any:
		return s
	default:
		obj := map[string]any{}
		p.doc[label] = []any{obj}
		return obj
	}
}

// rawExists reports whether a parameter is physically present, without
// consulting its fallback.
func (p *Params) rawExists(d *descriptor, idx int) bool {
	obj := p.sectionObject(d.section.Label, idx)
	if obj == nil {
		return false
	}
	_, ok := obj[d.name]
	return ok
}

// exists reports whether a parameter is present at the given index,
// consulting the fallback parameter when the primary one is absent.
func (p *Params) exists(name string, idx int) bool {
	d, ok := catalogByName[name]
	if !ok {
		return false
	}
	if p.rawExists(d, idx) {
		return true
	}
	if d.fallback != "" {
		return p.exists(d.fallback, idx)
	}
	return false
}

// rawValue returns the stored value of a parameter, or nil when absent.
func (p *Params) rawValue(d *descriptor, idx int) (any, bool) {
	obj := p.sectionObject(d.section.Label, idx)
	if obj == nil {
		return nil, false
	}
	v, ok := obj[d.name]
	return v, ok
}

// resolve returns the effective value of a parameter: the stored value,
// the fallback parameter's effective value, or the catalog default.
func (p *Params) resolve(name string, idx int) any {
	d, ok := catalogByName[name]
	if !ok {
		return nil
	}
	if v, ok := p.rawValue(d, idx); ok {
		return v
	}
	if d.fallback != "" && p.exists(d.fallback, idx) {
		return p.resolve(d.fallback, idx)
	}
	return d.def
}

// Get returns the effective value of a catalog parameter. Missing
// mandatory parameters fail with BadParameter; unknown names fail with
// BadParameter.
func (p *Params) Get(name string, idx int) (any, error) {
	d, ok := catalogByName[name]
	if !ok {
		return nil, errors.Newf(errors.KindBadParameter, "unknown model parameter %q", name)
	}
	if d.mandatory && !p.exists(name, idx) {
		return nil, errors.Newf(errors.KindBadParameter,
			"mandatory model parameter %q is missing", name)
	}
	return p.resolve(name, idx), nil
}

// set stores a parameter value. The dirty flag is raised only when the
// stored value actually changes; float values always rewrite.
func (p *Params) set(name string, idx int, value any) *Params {
	d, ok := catalogByName[name]
	if !ok {
		return p
	}
	obj := p.ensureSection(d.section.Label, idx)
	old, present := obj[d.name]
	if present {
		if _, isFloat := old.(float64); !isFloat && isPrimitive(old) && reflect.DeepEqual(old, value) {
			return p
		}
	}
	obj[d.name] = value
	p.dirty = true
	return p
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case string, bool, float64, int, int64, uint64:
		return true
	default:
		return false
	}
}

// Merge overwrites runtime-mergeable parameters of the collection with
// values present in the patch document. Vector-section parameters merge
// index by index up to the shorter of the two section lengths; all other
// parameters of the patch are ignored.
func (p *Params) Merge(patch *Params) *Params {
	if patch == nil {
		return p
	}
	for i := range catalog {
		d := &catalog[i]
		if !d.runtime {
			continue
		}
		if d.section.Label == "" || d.section.Scalar {
			if v, ok := patch.rawValue(d, 0); ok {
				p.set(d.name, 0, copyValue(v))
			}
			continue
		}
		size := min(patch.SectionSize(d.section.Label), p.SectionSize(d.section.Label))
		for idx := 0; idx < size; idx++ {
			if v, ok := patch.rawValue(d, idx); ok {
				p.set(d.name, idx, copyValue(v))
			}
		}
	}
	return p
}

// FullDocument returns the configuration document merged with catalog
// defaults for every runtime parameter that is absent.
func (p *Params) FullDocument() map[string]any {
	out := copyValue(p.doc).(map[string]any)
	full := &Params{doc: out}
	for i := range catalog {
		d := &catalog[i]
		if !d.runtime {
			continue
		}
		if d.section.Label == "" || d.section.Scalar {
			if !full.rawExists(d, 0) {
				full.set(d.name, 0, p.resolve(d.name, 0))
			}
			continue
		}
		// Vector sections fill only the elements that already exist.
		count := 0
		if arr, ok := out[d.section.Label].([]any); ok {
			count = len(arr)
		}
		for idx := 0; idx < count; idx++ {
			if !full.rawExists(d, idx) {
				full.set(d.name, idx, p.resolve(d.name, idx))
			}
		}
	}
	return out
}

// copyValue deep-copies a decoded JSON value.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
