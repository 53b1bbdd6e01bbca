package params

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	p := Defaults()

	assert.Equal(t, 90, p.HalfWindowSize)
	assert.Equal(t, 2.0, p.SNR)
	assert.Equal(t, 0.008, p.Tolerance)
	assert.Equal(t, 100, p.Iterations)
	assert.False(t, p.RelativeTolerance)
	assert.NoError(t, p.Validate())
}

func TestWindow(t *testing.T) {
	p := Defaults()
	assert.Equal(t, 0.008, p.Window(1000))
	assert.Equal(t, 0.008, p.Window(20000))

	p.RelativeTolerance = true
	p.Tolerance = 0.001
	assert.InDelta(t, 1.0, p.Window(1000), 1e-12)
	assert.InDelta(t, 20.0, p.Window(20000), 1e-12)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{"zero half window", func(p *Params) { p.HalfWindowSize = 0 }},
		{"negative smoothing window", func(p *Params) { p.SmoothingHalfWindow = -1 }},
		{"zero SNR", func(p *Params) { p.SNR = 0 }},
		{"negative tolerance", func(p *Params) { p.Tolerance = -0.1 }},
		{"negative iterations", func(p *Params) { p.Iterations = -1 }},
		{"support above one", func(p *Params) { p.MinSupport = 1.5 }},
		{"zero support", func(p *Params) { p.MinSupport = 0 }},
		{"zero reference frequency", func(p *Params) { p.ReferenceMinFrequency = 0 }},
		{"one alignment match", func(p *Params) { p.MinAlignmentMatches = 1 }},
		{"zero lowess span", func(p *Params) { p.LowessSpan = 0 }},
		{"inverted mass range", func(p *Params) { p.MassMin = 2000; p.MassMax = 1000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Defaults()
			tt.modify(&p)
			err := p.Validate()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParams))
		})
	}
}

func TestEqualAndDiff(t *testing.T) {
	p := Defaults()
	q := Defaults()
	assert.True(t, p.Equal(q))
	assert.Empty(t, p.Diff(q))

	q.SNR = 3
	q.Iterations = 50
	assert.False(t, p.Equal(q))
	assert.Equal(t, []string{"SNR", "Iterations"}, p.Diff(q))
}

func TestTable(t *testing.T) {
	tab := Defaults().Table()
	assert.Equal(t, [2]string{"halfWindowSize", "90"}, tab[0])
	assert.Equal(t, [2]string{"SNR", "2"}, tab[1])
	assert.Equal(t, [2]string{"smoothingHalfWindowSize", "90"}, tab[2])
	assert.Equal(t, [2]string{"tolerance", "0.008"}, tab[3])
	assert.Equal(t, [2]string{"iterations", "100"}, tab[5])
}

func TestSmoothingWindow(t *testing.T) {
	p := Defaults()
	assert.Equal(t, 90, p.SmoothingWindow())
	p.SmoothingHalfWindow = 5
	assert.Equal(t, 5, p.SmoothingWindow())
	assert.Equal(t, []string{"SmoothingHalfWindow"}, p.Diff(Defaults()))
}
