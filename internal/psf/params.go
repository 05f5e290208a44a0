package psf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/psffit/internal/errors"
)

// Parameter names understood by the models.
const (
	ParamX     = "x"
	ParamY     = "y"
	ParamPos   = "pos"
	ParamFWHM  = "fwhm"
	ParamAmp   = "amp"
	ParamBkg   = "bkg"
	ParamTheta = "theta"
	ParamRatio = "ratio"
	ParamAlpha = "alpha"
)

// PairAllowed reports whether name may hold a pair value.
func PairAllowed(name string) bool {
	return name == ParamFWHM || name == ParamPos
}

// Value is a scalar or a pair of reals.
type Value struct {
	v    [2]float64
	pair bool
}

// Scalar returns a scalar Value.
func Scalar(v float64) Value {
	return Value{v: [2]float64{v, v}}
}

// Pair returns a pair Value.
func Pair(x, y float64) Value {
	return Value{v: [2]float64{x, y}, pair: true}
}

// IsPair reports whether v holds two components.
func (v Value) IsPair() bool { return v.pair }

// Float returns the scalar value, or the first component of a pair.
func (v Value) Float() float64 { return v.v[0] }

// XY returns both components. A scalar is returned twice.
func (v Value) XY() (float64, float64) {
	if v.pair {
		return v.v[0], v.v[1]
	}
	return v.v[0], v.v[0]
}

// Components returns one value for a scalar and two for a pair.
func (v Value) Components() []float64 {
	if v.pair {
		return []float64{v.v[0], v.v[1]}
	}
	return []float64{v.v[0]}
}

// Equal reports whether v and o have the same arity and values.
func (v Value) Equal(o Value) bool {
	if v.pair != o.pair {
		return false
	}
	if v.pair {
		return v.v == o.v
	}
	return v.v[0] == o.v[0]
}

func (v Value) String() string {
	if v.pair {
		return fmt.Sprintf("(%g, %g)", v.v[0], v.v[1])
	}
	return strconv.FormatFloat(v.v[0], 'g', -1, 64)
}

// Entry is a single named parameter.
type Entry struct {
	Name  string
	Value Value
}

// Params is an ordered mapping from parameter name to Value. The zero value
// is an empty set. Methods never modify the receiver.
type Params struct {
	entries []Entry
}

// NewParams builds a Params from entries, in order. Later duplicates replace
// earlier ones in place.
func NewParams(entries ...Entry) Params {
	var p Params
	for _, e := range entries {
		p = p.With(e.Name, e.Value)
	}
	return p
}

// S is shorthand for a scalar Entry.
func S(name string, v float64) Entry {
	return Entry{Name: name, Value: Scalar(v)}
}

// P is shorthand for a pair Entry.
func P(name string, x, y float64) Entry {
	return Entry{Name: name, Value: Pair(x, y)}
}

func (p Params) index(name string) int {
	for i, e := range p.entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// With returns a copy of p with name set to v. An existing key keeps its
// position.
func (p Params) With(name string, v Value) Params {
	out := make([]Entry, len(p.entries), len(p.entries)+1)
	copy(out, p.entries)
	if i := p.index(name); i >= 0 {
		out[i].Value = v
	} else {
		out = append(out, Entry{Name: name, Value: v})
	}
	return Params{entries: out}
}

// WithScalar is With for a scalar value.
func (p Params) WithScalar(name string, v float64) Params {
	return p.With(name, Scalar(v))
}

// Without returns a copy of p with the named keys removed.
func (p Params) Without(names ...string) Params {
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		drop := false
		for _, n := range names {
			if e.Name == n {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, e)
		}
	}
	return Params{entries: out}
}

// Merge returns p overlaid with other: existing keys are replaced in place,
// new keys are appended in other's order.
func (p Params) Merge(other Params) Params {
	out := p
	for _, e := range other.entries {
		out = out.With(e.Name, e.Value)
	}
	return out
}

// Get returns the value stored under name.
func (p Params) Get(name string) (Value, bool) {
	if i := p.index(name); i >= 0 {
		return p.entries[i].Value, true
	}
	return Value{}, false
}

// Float returns the scalar value of name, or def when name is absent.
func (p Params) Float(name string, def float64) float64 {
	if v, ok := p.Get(name); ok {
		return v.Float()
	}
	return def
}

// Has reports whether name is present.
func (p Params) Has(name string) bool {
	return p.index(name) >= 0
}

// Keys returns the parameter names in order.
func (p Params) Keys() []string {
	keys := make([]string, len(p.entries))
	for i, e := range p.entries {
		keys[i] = e.Name
	}
	return keys
}

// Entries returns a copy of the ordered entries.
func (p Params) Entries() []Entry {
	return append([]Entry(nil), p.entries...)
}

// Len returns the number of parameters.
func (p Params) Len() int { return len(p.entries) }

// Equal reports whether p and o hold the same keys, in the same order, with
// equal values.
func (p Params) Equal(o Params) bool {
	if len(p.entries) != len(o.entries) {
		return false
	}
	for i := range p.entries {
		if p.entries[i].Name != o.entries[i].Name || !p.entries[i].Value.Equal(o.entries[i].Value) {
			return false
		}
	}
	return true
}

func (p Params) String() string {
	parts := make([]string, len(p.entries))
	for i, e := range p.entries {
		parts[i] = e.Name + "=" + e.Value.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Position resolves the model center from x/y or pos. With no position keys
// the center is the origin.
func (p Params) Position() ([2]float64, error) {
	x, hasX := p.Get(ParamX)
	y, hasY := p.Get(ParamY)
	pos, hasPos := p.Get(ParamPos)

	switch {
	case hasPos && (hasX || hasY):
		return [2]float64{}, errors.InvalidArgument("Position", "pos cannot be combined with x or y")
	case hasPos:
		if !pos.IsPair() {
			return [2]float64{}, errors.InvalidArgument("Position", "pos must be a pair, got %v", pos)
		}
		px, py := pos.XY()
		return Vector([2]float64{px, py}).Resolve()
	case hasX && hasY:
		return Cartesian(x.Float(), y.Float()).Resolve()
	case hasX || hasY:
		return [2]float64{}, errors.InvalidArgument("Position", "x and y must be given together")
	default:
		return [2]float64{}, nil
	}
}

// WithPosition resolves spec and stores it as x and y, dropping pos.
func (p Params) WithPosition(spec PositionSpec) (Params, error) {
	c, err := spec.Resolve()
	if err != nil {
		return p, err
	}
	return p.Without(ParamPos).WithScalar(ParamX, c[0]).WithScalar(ParamY, c[1]), nil
}

// MarshalJSON writes p as an object in key order. Pairs become two-element
// arrays.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		var val []byte
		if e.Value.IsPair() {
			val, err = json.Marshal(e.Value.Components())
		} else {
			val, err = json.Marshal(e.Value.Float())
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, preserving key order.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.InvalidArgument("UnmarshalJSON", "params must be a JSON object")
	}

	var out Params
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return errors.InvalidArgument("UnmarshalJSON", "unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		v, err := decodeJSONValue(name, raw)
		if err != nil {
			return err
		}
		out = out.With(name, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

func decodeJSONValue(name string, raw json.RawMessage) (Value, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return Scalar(f), nil
	}
	var xs []float64
	if err := json.Unmarshal(raw, &xs); err != nil {
		return Value{}, errors.InvalidArgument("UnmarshalJSON", "parameter %q must be a number or a pair", name)
	}
	return pairFromSlice(name, xs)
}

// MarshalYAML writes p as a mapping in key order with pairs in flow style.
func (p Params) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range p.entries {
		val := &yaml.Node{}
		var err error
		if e.Value.IsPair() {
			err = val.Encode(e.Value.Components())
			val.Style = yaml.FlowStyle
		} else {
			err = val.Encode(e.Value.Float())
		}
		if err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: e.Name}, val)
	}
	return node, nil
}

// UnmarshalYAML reads a mapping node, preserving key order.
func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.InvalidArgument("UnmarshalYAML", "params must be a mapping, line %d", node.Line)
	}
	var out Params
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		vn := node.Content[i+1]
		switch vn.Kind {
		case yaml.ScalarNode:
			var f float64
			if err := vn.Decode(&f); err != nil {
				return errors.Wrapf(err, "parameter %q", name)
			}
			out = out.With(name, Scalar(f))
		case yaml.SequenceNode:
			var xs []float64
			if err := vn.Decode(&xs); err != nil {
				return errors.Wrapf(err, "parameter %q", name)
			}
			v, err := pairFromSlice(name, xs)
			if err != nil {
				return err
			}
			out = out.With(name, v)
		default:
			return errors.InvalidArgument("UnmarshalYAML", "parameter %q must be a number or a pair, line %d", name, vn.Line)
		}
	}
	*p = out
	return nil
}

func pairFromSlice(name string, xs []float64) (Value, error) {
	if len(xs) != 2 {
		return Value{}, errors.InvalidArgument("decode", "parameter %q: pair needs 2 values, got %d", name, len(xs))
	}
	return Pair(xs[0], xs[1]), nil
}
