package psf

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/psffit/internal/errors"
)

// Domain is an inclusive range of integer indices on each axis.
type Domain struct {
	XMin int `json:"xmin" yaml:"xmin"`
	XMax int `json:"xmax" yaml:"xmax"`
	YMin int `json:"ymin" yaml:"ymin"`
	YMax int `json:"ymax" yaml:"ymax"`
}

// NewDomain returns the domain xmin..xmax by ymin..ymax.
func NewDomain(xmin, xmax, ymin, ymax int) Domain {
	return Domain{XMin: xmin, XMax: xmax, YMin: ymin, YMax: ymax}
}

// Width is the number of columns.
func (d Domain) Width() int { return d.XMax - d.XMin + 1 }

// Height is the number of rows.
func (d Domain) Height() int { return d.YMax - d.YMin + 1 }

// Empty reports whether the domain holds no index.
func (d Domain) Empty() bool { return d.XMax < d.XMin || d.YMax < d.YMin }

// Contains reports whether (x, y) lies in d.
func (d Domain) Contains(x, y int) bool {
	return x >= d.XMin && x <= d.XMax && y >= d.YMin && y <= d.YMax
}

// Within reports whether every index of d lies in o.
func (d Domain) Within(o Domain) bool {
	return !d.Empty() && o.Contains(d.XMin, d.YMin) && o.Contains(d.XMax, d.YMax)
}

// Intersect returns the overlap of d and o, which may be empty.
func (d Domain) Intersect(o Domain) Domain {
	return Domain{
		XMin: max(d.XMin, o.XMin),
		XMax: min(d.XMax, o.XMax),
		YMin: max(d.YMin, o.YMin),
		YMax: min(d.YMax, o.YMax),
	}
}

func (d Domain) String() string {
	return fmt.Sprintf("%d:%d x %d:%d", d.XMin, d.XMax, d.YMin, d.YMax)
}

// Grid holds one value per index of a Domain. Row r of Data is y = YMin+r,
// column c is x = XMin+c.
type Grid struct {
	Domain Domain
	Data   *mat.Dense
}

// NewGrid returns a zero grid over d. It panics if d is empty.
func NewGrid(d Domain) *Grid {
	if d.Empty() {
		panic(fmt.Sprintf("psf: empty domain %v", d))
	}
	return &Grid{Domain: d, Data: mat.NewDense(d.Height(), d.Width(), nil)}
}

// NewGridFromRows builds a grid over d from rows ordered by increasing y.
func NewGridFromRows(d Domain, rows [][]float64) (*Grid, error) {
	if d.Empty() {
		return nil, errors.InvalidArgument("NewGridFromRows", "empty domain %v", d)
	}
	if len(rows) != d.Height() {
		return nil, errors.InvalidArgument("NewGridFromRows", "domain %v needs %d rows, got %d", d, d.Height(), len(rows))
	}
	g := NewGrid(d)
	for r, row := range rows {
		if len(row) != d.Width() {
			return nil, errors.InvalidArgument("NewGridFromRows", "row %d has %d values, want %d", r, len(row), d.Width())
		}
		g.Data.SetRow(r, row)
	}
	return g, nil
}

// FromRows builds a grid whose domain starts at (1, 1).
func FromRows(rows [][]float64) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.InvalidArgument("FromRows", "no data")
	}
	return NewGridFromRows(NewDomain(1, len(rows[0]), 1, len(rows)), rows)
}

// At returns the value at index (x, y).
func (g *Grid) At(x, y int) float64 {
	return g.Data.At(y-g.Domain.YMin, x-g.Domain.XMin)
}

// Set stores v at index (x, y).
func (g *Grid) Set(x, y int, v float64) {
	g.Data.Set(y-g.Domain.YMin, x-g.Domain.XMin, v)
}

// Rows returns a copy of the values ordered by increasing y.
func (g *Grid) Rows() [][]float64 {
	rows := make([][]float64, g.Domain.Height())
	for r := range rows {
		rows[r] = mat.Row(nil, r, g.Data)
	}
	return rows
}

// Sub returns a copy of g restricted to d.
func (g *Grid) Sub(d Domain) (*Grid, error) {
	if !d.Within(g.Domain) {
		return nil, errors.InvalidArgument("Sub", "domain %v outside %v", d, g.Domain)
	}
	out := NewGrid(d)
	for y := d.YMin; y <= d.YMax; y++ {
		for x := d.XMin; x <= d.XMax; x++ {
			out.Set(x, y, g.At(x, y))
		}
	}
	return out, nil
}

type gridDoc struct {
	Domain Domain      `json:"domain" yaml:"domain"`
	Rows   [][]float64 `json:"rows" yaml:"rows"`
}

func (g *Grid) MarshalJSON() ([]byte, error) {
	return json.Marshal(gridDoc{Domain: g.Domain, Rows: g.Rows()})
}

func (g *Grid) UnmarshalJSON(data []byte) error {
	var doc gridDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return g.fromDoc(doc)
}

func (g *Grid) MarshalYAML() (interface{}, error) {
	return gridDoc{Domain: g.Domain, Rows: g.Rows()}, nil
}

func (g *Grid) UnmarshalYAML(node *yaml.Node) error {
	var doc gridDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	return g.fromDoc(doc)
}

// fromDoc accepts a missing domain, in which case indices start at 1.
func (g *Grid) fromDoc(doc gridDoc) error {
	var (
		out *Grid
		err error
	)
	if doc.Domain == (Domain{}) {
		out, err = FromRows(doc.Rows)
	} else {
		out, err = NewGridFromRows(doc.Domain, doc.Rows)
	}
	if err != nil {
		return err
	}
	*g = *out
	return nil
}
