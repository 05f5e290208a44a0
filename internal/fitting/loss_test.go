package fitting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/psf"
)

func synth(t *testing.T, m psf.Model, p psf.Params, d psf.Domain) *psf.Grid {
	t.Helper()
	g, err := psf.Render(m, p, d)
	require.NoError(t, err)
	return g
}

var fitDomain = psf.NewDomain(1, 30, 1, 30)

func TestObjectiveFeasibility(t *testing.T) {
	truth := psf.NewParams(psf.S("x", 13.5), psf.S("y", 12.3), psf.S("fwhm", 2.6), psf.S("amp", 5))
	data := synth(t, psf.AiryDisk{}, truth, fitDomain)
	keys := []string{"x", "y", "fwhm", "amp", "ratio"}

	obj, err := NewObjective(psf.AiryDisk{}, keys, data, ObjectiveConfig{MaxFWHM: 10})
	require.NoError(t, err)

	tests := []struct {
		name string
		x    []float64
		want string
	}{
		{name: "x below", x: []float64{0.4, 12, 2, 5, 0.5}, want: ConstraintX},
		{name: "x far out with bad fwhm", x: []float64{-5, 12, -1, 5, 2}, want: ConstraintX},
		{name: "x above", x: []float64{30.6, 12, 2, 5, 0.5}, want: ConstraintX},
		{name: "y above", x: []float64{13, 31, 2, 5, 0.5}, want: ConstraintY},
		{name: "zero fwhm", x: []float64{13, 12, 0, 5, 0.5}, want: ConstraintFWHM},
		{name: "fwhm at max", x: []float64{13, 12, 10, 5, 0.5}, want: ConstraintFWHM},
		{name: "nan fwhm", x: []float64{13, 12, math.NaN(), 5, 0.5}, want: ConstraintFWHM},
		{name: "ratio zero", x: []float64{13, 12, 2, 5, 0}, want: ConstraintRatio},
		{name: "ratio one", x: []float64{13, 12, 2, 5, 1}, want: ConstraintRatio},
		{name: "edge x", x: []float64{0.5, 30.5, 2, 5, 0.5}},
		{name: "inside", x: []float64{13, 12, 2, 5, 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			free, err := Unflatten(keys, tt.x)
			require.NoError(t, err)
			assert.Equal(t, tt.want, obj.Violation(free))

			loss := obj.Func(tt.x)
			if tt.want != "" {
				assert.True(t, math.IsInf(loss, 1))
				grad := []float64{9, 9, 9, 9, 9}
				obj.Grad(grad, tt.x)
				assert.Equal(t, make([]float64, 5), grad)
				return
			}
			assert.False(t, math.IsInf(loss, 0))
			assert.False(t, math.IsNaN(loss))
		})
	}
}

func TestObjectiveFrozenConstraints(t *testing.T) {
	data := synth(t, psf.Moffat{}, psf.NewParams(psf.S("x", 5), psf.S("y", 5), psf.S("fwhm", 2)), psf.NewDomain(1, 9, 1, 9))
	keys := []string{"x", "y", "fwhm"}
	x := []float64{5, 5, 2}

	for _, tt := range []struct {
		frozen psf.Params
		want   string
	}{
		{frozen: psf.NewParams(psf.S("alpha", 0)), want: ConstraintAlpha},
		{frozen: psf.NewParams(psf.S("theta", 45)), want: ConstraintTheta},
		{frozen: psf.NewParams(psf.S("theta", -44.9), psf.S("alpha", 3))},
	} {
		obj, err := NewObjective(psf.Moffat{}, keys, data, ObjectiveConfig{Frozen: tt.frozen})
		require.NoError(t, err)
		free, _ := Unflatten(keys, x)
		assert.Equal(t, tt.want, obj.Violation(free))
		assert.Equal(t, tt.want != "", math.IsInf(obj.Func(x), 1))
	}

	obj, err := NewObjective(psf.AiryDisk{}, []string{"x", "y", "fwhm"}, data, ObjectiveConfig{Frozen: psf.NewParams(psf.S("ratio", 1))})
	require.NoError(t, err)
	assert.True(t, math.IsInf(obj.Func(x), 1))
}

func TestObjectiveLoss(t *testing.T) {
	truth := psf.NewParams(psf.S("x", 4.2), psf.S("y", 5.1), psf.P("fwhm", 2.2, 1.8), psf.S("theta", 10), psf.S("amp", 3))
	d := psf.NewDomain(1, 8, 1, 9)
	data := synth(t, psf.Gaussian{}, truth, d)

	obj, err := NewObjective(psf.Gaussian{}, truth.Keys(), data, ObjectiveConfig{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, obj.Func(mustFlatten(t, truth)))

	shifted := truth.WithScalar("amp", 4)
	model := synth(t, psf.Gaussian{}, shifted, d)
	var sq, abs float64
	for y := 1; y <= 9; y++ {
		for x := 1; x <= 8; x++ {
			r := model.At(x, y) - data.At(x, y)
			sq += r * r
			abs += math.Abs(r)
		}
	}
	assert.InDelta(t, sq, obj.Func(mustFlatten(t, shifted)), 1e-9)

	l1, err := NewObjective(psf.Gaussian{}, truth.Keys(), data, ObjectiveConfig{Residual: AbsoluteError})
	require.NoError(t, err)
	assert.InDelta(t, abs, l1.Func(mustFlatten(t, shifted)), 1e-9)

	sub := psf.NewDomain(3, 5, 4, 6)
	local, err := NewObjective(psf.Gaussian{}, truth.Keys(), data, ObjectiveConfig{Domain: &sub})
	require.NoError(t, err)
	assert.Less(t, local.Func(mustFlatten(t, shifted)), obj.Func(mustFlatten(t, shifted)))
}

func TestObjectiveGradient(t *testing.T) {
	truth := psf.NewParams(psf.S("x", 6.3), psf.S("y", 5.8), psf.P("fwhm", 2.6, 2.1), psf.S("theta", 12), psf.S("amp", 4), psf.S("alpha", 2.5))
	data := synth(t, psf.Moffat{}, truth, psf.NewDomain(1, 12, 1, 11))

	start := psf.NewParams(psf.S("x", 6.1), psf.S("y", 6), psf.P("fwhm", 2.4, 2.3), psf.S("theta", 8), psf.S("amp", 4.4), psf.S("alpha", 2.2))
	obj, err := NewObjective(psf.Moffat{}, start.Keys(), data, ObjectiveConfig{})
	require.NoError(t, err)

	x := mustFlatten(t, start)
	grad := make([]float64, len(x))
	obj.Grad(grad, x)

	const h = 1e-6
	for i := range x {
		up := append([]float64(nil), x...)
		down := append([]float64(nil), x...)
		up[i] += h
		down[i] -= h
		want := (obj.Func(up) - obj.Func(down)) / (2 * h)
		assert.InDelta(t, want, grad[i], 1e-4*math.Max(1, math.Abs(want)), "slot %d", i)
	}
}

func TestNewObjectiveErrors(t *testing.T) {
	data := synth(t, psf.Gaussian{}, psf.NewParams(psf.S("x", 3), psf.S("y", 3), psf.S("fwhm", 2)), psf.NewDomain(1, 5, 1, 5))
	outside := psf.NewDomain(0, 5, 1, 5)

	tests := []struct {
		name  string
		model psf.Model
		keys  []string
		data  *psf.Grid
		cfg   ObjectiveConfig
	}{
		{name: "nil model", keys: []string{"x"}, data: data},
		{name: "nil data", model: psf.Gaussian{}, keys: []string{"x"}},
		{name: "no keys", model: psf.Gaussian{}, data: data},
		{name: "duplicate", model: psf.Gaussian{}, keys: []string{"x", "x"}, data: data},
		{name: "unrecognized", model: psf.Gaussian{}, keys: []string{"alpha"}, data: data},
		{name: "unrecognized frozen", model: psf.Gaussian{}, keys: []string{"x"}, data: data, cfg: ObjectiveConfig{Frozen: psf.NewParams(psf.S("ratio", 0.1))}},
		{name: "overlap", model: psf.Gaussian{}, keys: []string{"x"}, data: data, cfg: ObjectiveConfig{Frozen: psf.NewParams(psf.S("x", 1))}},
		{name: "domain outside data", model: psf.Gaussian{}, keys: []string{"x"}, data: data, cfg: ObjectiveConfig{Domain: &outside}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewObjective(tt.model, tt.keys, tt.data, tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err))
		})
	}
}

func TestResidualByName(t *testing.T) {
	for _, name := range []string{"", "squared", "L2"} {
		r, err := ResidualByName(name)
		require.NoError(t, err)
		assert.NotNil(t, r)
	}
	r, err := ResidualByName("l1")
	require.NoError(t, err)
	assert.NotNil(t, r)

	_, err = ResidualByName("huber")
	assert.True(t, errors.IsInvalidArgument(err))
}
