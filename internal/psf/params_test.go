package psf

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/psffit/internal/errors"
)

func TestParamsOrderAndImmutability(t *testing.T) {
	p := NewParams(S(ParamY, 2), S(ParamX, 1), P(ParamFWHM, 2.6, 2.4))
	q := p.WithScalar(ParamY, 5).WithScalar(ParamAmp, 3)

	assert.Equal(t, []string{"y", "x", "fwhm"}, p.Keys())
	assert.Equal(t, []string{"y", "x", "fwhm", "amp"}, q.Keys())
	assert.Equal(t, 2.0, p.Float(ParamY, 0))
	assert.Equal(t, 5.0, q.Float(ParamY, 0))
	assert.Equal(t, 7.0, p.Float(ParamBkg, 7))

	merged := p.Merge(NewParams(S(ParamBkg, 1), S(ParamX, 9)))
	assert.Equal(t, []string{"y", "x", "fwhm", "bkg"}, merged.Keys())
	assert.Equal(t, 9.0, merged.Float(ParamX, 0))

	assert.Equal(t, []string{"y", "fwhm"}, p.Without(ParamX).Keys())
	assert.True(t, p.Equal(NewParams(S(ParamY, 2), S(ParamX, 1), P(ParamFWHM, 2.6, 2.4))))
	assert.False(t, p.Equal(NewParams(S(ParamX, 1), S(ParamY, 2), P(ParamFWHM, 2.6, 2.4))))
	assert.False(t, Scalar(1).Equal(Pair(1, 1)))
	assert.Equal(t, "(y=2, x=1, fwhm=(2.6, 2.4))", p.String())
}

func TestParamsPosition(t *testing.T) {
	tests := []struct {
		name    string
		p       Params
		want    [2]float64
		wantErr bool
	}{
		{name: "cartesian", p: NewParams(S(ParamX, 1), S(ParamY, 2)), want: [2]float64{1, 2}},
		{name: "vector", p: NewParams(P(ParamPos, 3, 4)), want: [2]float64{3, 4}},
		{name: "none", p: NewParams(S(ParamFWHM, 1)), want: [2]float64{0, 0}},
		{name: "only y", p: NewParams(S(ParamY, 2)), wantErr: true},
		{name: "both forms", p: NewParams(S(ParamX, 1), S(ParamY, 2), P(ParamPos, 3, 4)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.p.Position()
			if tt.wantErr {
				assert.True(t, errors.IsInvalidArgument(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPositionSpec(t *testing.T) {
	c, err := Cartesian(1.5, -2).Resolve()
	require.NoError(t, err)
	assert.Equal(t, [2]float64{1.5, -2}, c)

	c, err = Vector([2]float64{7, 8}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, [2]float64{7, 8}, c)

	c, err = Polar(2, 90).Resolve()
	require.NoError(t, err)
	assert.InDelta(t, 0, c[0], 1e-12)
	assert.InDelta(t, 2, c[1], 1e-12)

	c, err = PolarAbout([2]float64{10, 10}, math.Sqrt2, 45).Resolve()
	require.NoError(t, err)
	assert.InDelta(t, 11, c[0], 1e-12)
	assert.InDelta(t, 11, c[1], 1e-12)

	_, err = PositionSpec{}.Resolve()
	assert.True(t, errors.IsInvalidArgument(err))

	p, err := NewParams(P(ParamPos, 1, 1), S(ParamFWHM, 2)).WithPosition(Polar(3, 180))
	require.NoError(t, err)
	assert.Equal(t, []string{"fwhm", "x", "y"}, p.Keys())
	assert.InDelta(t, -3, p.Float(ParamX, 0), 1e-12)
}

func TestParamsJSON(t *testing.T) {
	in := `{"y":12.3,"x":13.5,"fwhm":[2.6,2.4],"theta":12}`

	var p Params
	require.NoError(t, json.Unmarshal([]byte(in), &p))
	assert.Equal(t, []string{"y", "x", "fwhm", "theta"}, p.Keys())
	fwhm, _ := p.Get(ParamFWHM)
	assert.True(t, fwhm.IsPair())

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Equal(t, in, string(out))

	for _, bad := range []string{`[1,2]`, `{"fwhm":[1,2,3]}`, `{"x":"one"}`} {
		var q Params
		assert.Error(t, json.Unmarshal([]byte(bad), &q), bad)
	}
}

func TestParamsYAML(t *testing.T) {
	in := "amp: 5\nx: 13.5\nfwhm: [2.6, 2.4]\ny: 12.3\n"

	var p Params
	require.NoError(t, yaml.Unmarshal([]byte(in), &p))
	assert.Equal(t, []string{"amp", "x", "fwhm", "y"}, p.Keys())
	assert.True(t, p.Equal(NewParams(S(ParamAmp, 5), S(ParamX, 13.5), P(ParamFWHM, 2.6, 2.4), S(ParamY, 12.3))))

	out, err := yaml.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, "amp: 5\nx: 13.5\nfwhm: [2.6, 2.4]\ny: 12.3\n", string(out))

	var bad Params
	assert.Error(t, yaml.Unmarshal([]byte("fwhm: [1]\n"), &bad))
	assert.Error(t, yaml.Unmarshal([]byte("- 1\n- 2\n"), &bad))
}
