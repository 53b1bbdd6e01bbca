// Package pipeline runs the training and validation batches. Per-spectrum
// work runs on a bounded worker pool; the training run has two gather
// points, one before alignment (calibration scale and reference axis) and
// one before template construction.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/524D/mztemplate/internal/align"
	"github.com/524D/mztemplate/internal/metrics"
	"github.com/524D/mztemplate/internal/normalize"
	"github.com/524D/mztemplate/internal/params"
	"github.com/524D/mztemplate/internal/peaks"
	"github.com/524D/mztemplate/internal/spectrum"
	"github.com/524D/mztemplate/internal/template"
)

// Phase names used in logs and metrics
const (
	PhaseTrain = "train"
	PhaseApply = "apply"
)

// Options controls how a batch is run
type Options struct {
	Workers  int              // Worker goroutines, 0 is GOMAXPROCS
	Logger   *zap.Logger      // nil disables logging
	Metrics  *metrics.Metrics // nil disables metrics
	Progress *Progress        // Optional, updated while the batch runs
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Progress == nil {
		o.Progress = &Progress{}
	}
	return o
}

// Progress counts spectra while a batch runs. It is safe to read from
// other goroutines.
type Progress struct {
	total     atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// Total returns the number of spectra in the batch
func (p *Progress) Total() int64 { return p.total.Load() }

// Processed returns the number of spectra completed so far
func (p *Progress) Processed() int64 { return p.processed.Load() }

// Failed returns the number of spectra excluded or flagged so far
func (p *Progress) Failed() int64 { return p.failed.Load() }

// TrainResult is the outcome of a training run
type TrainResult struct {
	Matrix   template.Matrix
	Artifact template.Artifact
	Report   Report
	Warps    []align.Warp // Per input spectrum, identity when not aligned
}

// ApplyResult is the outcome of a validation run. After cancellation it
// holds the spectra processed so far.
type ApplyResult struct {
	Matrix    template.Matrix
	Report    Report
	Warps     []align.Warp
	Processed int
	Total     int
}

// detected is a spectrum after normalization and peak detection, at unit TIC
type detected struct {
	spec  spectrum.Spectrum
	tic   float64
	peaks []peaks.Peak
	err   error
}

// aligned is a calibrated spectrum on the reference mass axis
type aligned struct {
	spec  spectrum.Spectrum
	peaks []peaks.Peak
	warp  align.Warp
	err   error // Non nil for alignment failures, which are kept
}

// forEach calls fn for 0 <= i < n on at most workers goroutines. It stops
// handing out work once ctx is done and returns the context error.
func forEach(ctx context.Context, n, workers int, fn func(i int)) error {
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	g.Wait()
	return ctx.Err()
}

// detect trims, validates, normalizes and peak-picks one raw spectrum
func detect(s spectrum.Spectrum, p params.Params) detected {
	s = s.Trim(p.MassMin, p.MassMax)
	if err := s.Validate(p.MinSamples); err != nil {
		return detected{err: fmt.Errorf("spectrum %s: %w", s.ID, err)}
	}
	n, tic, err := normalize.Process(s, p)
	if err != nil {
		return detected{err: err}
	}
	return detected{spec: n, tic: tic, peaks: peaks.Detect(n, p.HalfWindowSize, p.SNR)}
}

// calibrateAndAlign applies the batch calibration scale and warps the
// spectrum onto the reference. Spectra that cannot be warped are returned
// unwarped with err set.
func calibrateAndAlign(d detected, scale float64, ref align.Reference, p params.Params) aligned {
	s := d.spec.WithIntensity(normalize.Rescale(d.spec.Intensity, scale))
	pk := peaks.Scale(d.peaks, scale)

	w, err := align.Fit(pk, ref, p)
	if err != nil {
		return aligned{spec: s, peaks: pk, err: fmt.Errorf("spectrum %s: %w", s.ID, err)}
	}
	ws, err := w.Apply(s)
	if err != nil {
		return aligned{spec: s, peaks: pk, err: fmt.Errorf("spectrum %s: %w", s.ID, err)}
	}
	return aligned{spec: ws, peaks: w.ApplyPeaks(pk), warp: w}
}

// medianTIC returns the median of the given totals
func medianTIC(tics []float64) float64 {
	s := append([]float64(nil), tics...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func (o Options) stage(name string, start time.Time) {
	d := time.Since(start)
	o.Metrics.ObserveStage(name, d)
	o.Logger.Debug("stage done", zap.String("stage", name), zap.Duration("elapsed", d))
}

// done counts a finished spectrum and records its status
func (o Options) done(phase string, st Status) {
	o.Progress.processed.Add(1)
	if st.Code != StatusOK {
		o.Progress.failed.Add(1)
	}
	o.record(phase, st)
}

// record logs and counts the status of a spectrum without touching Progress
func (o Options) record(phase string, st Status) {
	if st.Code != StatusOK {
		o.Logger.Warn("spectrum not processed normally",
			zap.String("phase", phase),
			zap.String("spectrum", st.SpectrumID),
			zap.Stringer("status", st.Code),
			zap.Error(st.Err))
	}
	o.Metrics.SpectrumDone(phase, st.Code.String())
}

// Train builds the template from a labelled training batch and returns the
// training feature matrix, the artifact and the per-spectrum report.
// labels maps spectrum IDs to group labels; unlabelled spectra are
// excluded. A cancelled run returns the context error and no artifact.
func Train(ctx context.Context, spectra []spectrum.Spectrum, labels map[string]string,
	p params.Params, opts Options) (TrainResult, error) {

	if err := p.Validate(); err != nil {
		return TrainResult{}, err
	}
	opts = opts.withDefaults()
	runStart := time.Now()
	n := len(spectra)
	opts.Progress.total.Store(int64(n))
	opts.Logger.Info("training started", zap.Int("spectra", n), zap.Int("workers", opts.Workers))

	// Map: normalize and detect
	start := time.Now()
	det := make([]detected, n)
	err := forEach(ctx, n, opts.Workers, func(i int) {
		s := spectra[i]
		if g, ok := labels[s.ID]; ok {
			s.Group = g
			det[i] = detect(s, p)
		} else {
			det[i] = detected{err: fmt.Errorf("spectrum %s: %w", s.ID, ErrUnmappedSpectrum)}
		}
		opts.Progress.processed.Add(1)
		if det[i].err != nil {
			opts.Progress.failed.Add(1)
		}
	})
	if err != nil {
		return TrainResult{}, err
	}
	opts.stage("detect", start)

	// Reduce: calibration scale and reference axis
	var tics []float64
	var peakLists [][]peaks.Peak
	for _, d := range det {
		if d.err == nil {
			tics = append(tics, d.tic)
			peakLists = append(peakLists, d.peaks)
		}
	}
	if len(tics) == 0 {
		return TrainResult{}, fmt.Errorf("%w: no usable training spectra", template.ErrTemplateEmpty)
	}
	scale := medianTIC(tics)
	ref := align.NewReference(peakLists, p)
	opts.Logger.Info("reference axis built",
		zap.Int("masses", ref.Len()), zap.Float64("calibrationScale", scale))

	// Map: calibrate and align
	start = time.Now()
	al := make([]aligned, n)
	err = forEach(ctx, n, opts.Workers, func(i int) {
		if det[i].err == nil {
			al[i] = calibrateAndAlign(det[i], scale, ref, p)
			if al[i].err != nil {
				opts.Progress.failed.Add(1)
			}
		}
	})
	if err != nil {
		return TrainResult{}, err
	}
	opts.stage("align", start)

	// Reduce: template
	start = time.Now()
	peakLists = peakLists[:0]
	for i := range al {
		if det[i].err == nil {
			peakLists = append(peakLists, al[i].peaks)
		}
	}
	tmpl, err := template.Build(peakLists, p)
	if err != nil {
		return TrainResult{}, err
	}
	opts.stage("template", start)

	res := TrainResult{
		Matrix: template.Matrix{Features: tmpl.Features},
		Artifact: template.Artifact{
			FormatVersion:    template.FormatVersion,
			Params:           p,
			Template:         tmpl,
			Reference:        ref,
			CalibrationScale: scale,
			TrainingSpectra:  len(peakLists),
		},
		Report: Report{Total: n, Processed: n},
		Warps:  make([]align.Warp, n),
	}
	for i, s := range spectra {
		e := det[i].err
		if e == nil {
			e = al[i].err
		}
		st := Status{SpectrumID: s.ID, Code: statusOf(e), Err: e}
		res.Report.Statuses = append(res.Report.Statuses, st)
		opts.record(PhaseTrain, st)
		if st.Code.Excluded() {
			continue
		}
		res.Warps[i] = al[i].warp
		res.Matrix.Rows = append(res.Matrix.Rows, template.Row{
			SpectrumID: s.ID,
			Group:      det[i].spec.Group,
			Values:     template.Project(al[i].peaks, tmpl),
		})
	}
	if err := res.Matrix.Validate(); err != nil {
		return TrainResult{}, err
	}

	opts.Metrics.SetTemplate(tmpl.Len(), scale)
	opts.Metrics.SetRunDuration(PhaseTrain, time.Since(runStart))
	opts.Logger.Info("training done",
		zap.Int("features", tmpl.Len()),
		zap.Int("rows", len(res.Matrix.Rows)),
		zap.Int("excluded", len(res.Report.Excluded())),
		zap.Int("flagged", len(res.Report.Flagged())))
	return res, nil
}

// Apply projects a validation batch onto the template of an artifact. p
// must equal the parameters the artifact was trained with. When ctx is
// cancelled the spectra finished so far are returned with the context
// error.
func Apply(ctx context.Context, spectra []spectrum.Spectrum, a template.Artifact,
	p params.Params, opts Options) (ApplyResult, error) {

	if err := a.Validate(); err != nil {
		return ApplyResult{}, err
	}
	if err := a.CheckParams(p); err != nil {
		return ApplyResult{}, err
	}
	opts = opts.withDefaults()
	runStart := time.Now()
	n := len(spectra)
	opts.Progress.total.Store(int64(n))
	opts.Logger.Info("validation started", zap.Int("spectra", n), zap.Int("workers", opts.Workers))

	type result struct {
		done   bool
		status Status
		row    template.Row
		warp   align.Warp
	}
	results := make([]result, n)
	start := time.Now()
	err := forEach(ctx, n, opts.Workers, func(i int) {
		s := spectra[i]
		r := result{done: true}
		d := detect(s, p)
		e := d.err
		if e == nil {
			al := calibrateAndAlign(d, a.CalibrationScale, a.Reference, p)
			e = al.err
			r.warp = al.warp
			r.row = template.Row{
				SpectrumID: s.ID,
				Group:      s.Group,
				Values:     template.Project(al.peaks, a.Template),
			}
		}
		r.status = Status{SpectrumID: s.ID, Code: statusOf(e), Err: e}
		opts.done(PhaseApply, r.status)
		results[i] = r
	})
	opts.stage("apply", start)

	res := ApplyResult{
		Matrix: template.Matrix{Features: a.Template.Features},
		Warps:  make([]align.Warp, n),
		Total:  n,
	}
	for i, r := range results {
		if !r.done {
			continue
		}
		res.Processed++
		res.Report.Statuses = append(res.Report.Statuses, r.status)
		res.Warps[i] = r.warp
		if !r.status.Code.Excluded() {
			res.Matrix.Rows = append(res.Matrix.Rows, r.row)
		}
	}
	res.Report.Processed = res.Processed
	res.Report.Total = n
	if verr := res.Matrix.Validate(); verr != nil {
		return res, verr
	}

	opts.Metrics.SetRunDuration(PhaseApply, time.Since(runStart))
	opts.Logger.Info("validation done",
		zap.Int("processed", res.Processed),
		zap.Int("total", n),
		zap.Int("rows", len(res.Matrix.Rows)),
		zap.Int("excluded", len(res.Report.Excluded())),
		zap.Int("flagged", len(res.Report.Flagged())))
	return res, err
}
