package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/524D/mztemplate/internal/align"
	"github.com/524D/mztemplate/internal/config"
	"github.com/524D/mztemplate/internal/ingest"
	"github.com/524D/mztemplate/internal/logger"
	"github.com/524D/mztemplate/internal/metrics"
	"github.com/524D/mztemplate/internal/mzml"
	"github.com/524D/mztemplate/internal/params"
	"github.com/524D/mztemplate/internal/pipeline"
	"github.com/524D/mztemplate/internal/spectrum"
	"github.com/524D/mztemplate/internal/store"
	"github.com/524D/mztemplate/internal/template"
)

// Interval between progress log lines of a running batch
const progressInterval = 5 * time.Second

// Flags of the train and apply commands
type runFlags struct {
	in          string
	meta        string
	artifact    string
	out         string
	groupMeans  string
	templateCSV string
	paramsCSV   string
	mzmlOut     string
	debug       string
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:   progName,
		Short: "Feature templates for MALDI-TOF spectra",
		Long: `mztemplate turns raw MALDI-TOF profile spectra into a feature matrix.

The train command preprocesses a labelled batch, aligns it, derives a
template of feature positions and writes it to an artifact file. The apply
command projects a new batch onto a stored template, with exactly the
processing of the training run.

Input is a directory or ZIP archive of two column text spectra (mass,
intensity) or mzML files, with a metadata spreadsheet (.xlsx or .csv)
holding the sample name and group of every spectrum.`,
		Version:       progVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	def := params.Defaults()
	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config `file` (default ./mztemplate.{toml,yaml,json})")
	pf.Int("workers", 0, "number of worker goroutines, 0 uses all CPUs")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "console", "log format: console or json")
	pf.String("log-output", "stderr", "log destination: stderr, stdout or a file")
	pf.String("store", "", "SQLite `file` recording artifacts, runs and feature matrices")
	pf.String("metrics-file", "", "write Prometheus metrics to this textfile after the run")
	pf.Int("half-window", def.HalfWindowSize, "peak detection half window (samples)")
	pf.Int("smoothing-window", def.SmoothingHalfWindow, "Savitzky-Golay half window (samples), 0 uses --half-window")
	pf.Float64("snr", def.SNR, "minimum signal to noise ratio of a peak")
	pf.Float64("tolerance", def.Tolerance, "peak matching window (Da, relative with --relative-tolerance)")
	pf.Bool("relative-tolerance", def.RelativeTolerance, "tolerance is relative to the mass")
	pf.Int("iterations", def.Iterations, "SNIP baseline iterations")
	pf.Float64("min-support", def.MinSupport, "fraction of training spectra a feature needs")
	pf.String("mass-range", "", "keep only masses in `lo:hi`, e.g. 2000:20000")

	root.AddCommand(newTrainCmd(&configFile), newApplyCmd(&configFile), newInspectCmd(&configFile))
	return root
}

func newTrainCmd(configFile *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Build a feature template from a labelled training batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, *configFile, &f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.in, "in", "i", "", "training batch: directory, ZIP archive or mzML file (required)")
	fl.StringVar(&f.meta, "meta", "", "metadata spreadsheet, overrides the one in the batch")
	fl.StringVarP(&f.artifact, "artifact", "a", "", "template artifact to write (required)")
	fl.StringVarP(&f.out, "out", "o", "", "feature matrix to write, .csv or .xlsx (required)")
	fl.StringVar(&f.groupMeans, "group-means", "", "write per group mean intensities to this CSV file")
	fl.StringVar(&f.templateCSV, "template-csv", "", "write the template features to this CSV file")
	fl.StringVar(&f.paramsCSV, "params-csv", "", "write the parameter set to this CSV file")
	fl.StringVar(&f.debug, "debug", "", "print debug output for the spectrum index `range`, e.g. 3:6")
	for _, name := range []string{"in", "artifact", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newApplyCmd(configFile *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Project a validation batch onto a stored template",
		Long: `Project a validation batch onto a stored template.

The processing parameters are taken from the artifact. Parameter flags
given on the command line are applied on top, and the run is refused when
that changes the parameter set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, *configFile, &f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.in, "in", "i", "", "validation batch: directory, ZIP archive or mzML file (required)")
	fl.StringVarP(&f.artifact, "artifact", "a", "", "template artifact written by train (required)")
	fl.StringVarP(&f.out, "out", "o", "", "feature matrix to write, .csv or .xlsx (required)")
	fl.StringVar(&f.mzmlOut, "mzml-out", "", "write the input mzML with aligned m/z axes to this file")
	fl.StringVar(&f.debug, "debug", "", "print debug output for the spectrum index `range`, e.g. 3:6")
	for _, name := range []string{"in", "artifact", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newInspectCmd(configFile *string) *cobra.Command {
	var artifact string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe a template artifact and the runs recorded for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, *configFile, artifact)
		},
	}
	cmd.Flags().StringVarP(&artifact, "artifact", "a", "",
		"template artifact file, or its fingerprint with --store (required)")
	_ = cmd.MarkFlagRequired("artifact")
	return cmd
}

// runEnv is what every command sets up from the configuration
type runEnv struct {
	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.Metrics // nil without --metrics-file
	store   *store.Store     // nil without --store
	closers []func()
}

func setup(cmd *cobra.Command, configFile string) (*runEnv, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("mass-range"); f != nil && f.Changed {
		cfg.Params.MassMin, cfg.Params.MassMax, err = parseMassRange(f.Value.String())
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	env := &runEnv{cfg: cfg}
	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	env.log = log
	env.closers = append(env.closers, func() {
		_ = log.Sync()
		closeLog()
	})
	if cfg.Metrics.File != "" {
		env.metrics = metrics.New()
	}
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			env.close()
			return nil, err
		}
		env.store = st
		env.closers = append(env.closers, func() {
			if err := st.Close(); err != nil {
				log.Warn("closing store", zap.Error(err))
			}
		})
	}
	return env, nil
}

// parseMassRange parses lo:hi, either bound may be omitted. An open upper
// bound is stored as 0.
func parseMassRange(s string) (float64, float64, error) {
	if !strings.Contains(s, ":") {
		return 0, 0, fmt.Errorf("--mass-range %q: %w", s, ErrRangeSpec)
	}
	lo, hi, err := parseFloat64Range(s, 0, math.Inf(1))
	if err != nil {
		return 0, 0, fmt.Errorf("--mass-range %q: %w", s, err)
	}
	if math.IsInf(hi, 1) {
		hi = 0
	}
	return lo, hi, nil
}

func (e *runEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *runEnv) options(p *pipeline.Progress) pipeline.Options {
	return pipeline.Options{
		Workers:  e.cfg.Workers,
		Logger:   e.log,
		Metrics:  e.metrics,
		Progress: p,
	}
}

// watch logs the progress of a running batch until the returned function
// is called
func (e *runEnv) watch(ctx context.Context, phase string, p *pipeline.Progress) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(progressInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				e.log.Info("progress",
					zap.String("phase", phase),
					zap.Int64("processed", p.Processed()),
					zap.Int64("total", p.Total()),
					zap.Int64("failed", p.Failed()))
			}
		}
	}()
	return func() { close(done) }
}

// record stores the run and its matrix when a store is configured
func (e *runEnv) record(ctx context.Context, run store.Run, a template.Artifact,
	m *template.Matrix, rep *pipeline.Report) error {
	if e.store == nil {
		return nil
	}
	fp, err := e.store.SaveArtifact(ctx, a)
	if err != nil {
		return err
	}
	run.Fingerprint = fp
	run.Duration = time.Since(run.Started)
	id, err := e.store.SaveRun(ctx, run, m, rep)
	if err != nil {
		return err
	}
	e.log.Info("run recorded",
		zap.Stringer("run", id),
		zap.String("phase", run.Phase),
		zap.String("artifact", fp))
	return nil
}

func (e *runEnv) writeMetrics() error {
	if e.metrics == nil {
		return nil
	}
	if err := e.metrics.WriteToTextfile(e.cfg.Metrics.File); err != nil {
		return err
	}
	e.log.Debug("metrics written", zap.String("file", e.cfg.Metrics.File))
	return nil
}

// writeFile creates name and hands it to write
func writeFile(name string, write func(io.Writer) error) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", name, err)
	}
	return f.Close()
}

// writeMatrix writes a feature matrix as XLSX or, for any other
// extension, as CSV
func writeMatrix(name string, m *template.Matrix, withGroup bool) error {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ingest.WriteMatrixXLSX(name, m, withGroup)
	}
	return writeFile(name, func(w io.Writer) error {
		return ingest.WriteMatrixCSV(w, m, withGroup)
	})
}

func readArtifact(name string) (template.Artifact, error) {
	f, err := os.Open(name)
	if err != nil {
		return template.Artifact{}, err
	}
	defer f.Close()
	a, err := template.ReadArtifact(f)
	if err != nil {
		return template.Artifact{}, fmt.Errorf("%s: %w", name, err)
	}
	return a, nil
}

func loadBatch(log *zap.Logger, name string) (ingest.Batch, error) {
	b, err := ingest.Load(name)
	if err != nil {
		return b, err
	}
	log.Info("input loaded",
		zap.String("input", name),
		zap.Int("spectra", len(b.Spectra)),
		zap.String("metadata", b.MetaName))
	return b, nil
}

func runTrain(cmd *cobra.Command, configFile string, f *runFlags) error {
	env, err := setup(cmd, configFile)
	if err != nil {
		return err
	}
	defer env.close()
	ctx := cmd.Context()
	started := time.Now()

	batch, err := loadBatch(env.log, f.in)
	if err != nil {
		return err
	}
	meta := batch.Metadata
	if f.meta != "" {
		if meta, err = ingest.ReadMetadataFile(f.meta); err != nil {
			return err
		}
	}
	if meta == nil {
		return fmt.Errorf("%s: no metadata spreadsheet found, use --meta", f.in)
	}

	var progress pipeline.Progress
	stop := env.watch(ctx, pipeline.PhaseTrain, &progress)
	res, err := pipeline.Train(ctx, batch.Spectra, meta.Labels(batch.Spectra), env.cfg.Params, env.options(&progress))
	stop()
	if err != nil {
		return err
	}
	err = debugReport(cmd.ErrOrStderr(), f.debug, batch.Spectra, &res.Report, res.Warps, &res.Matrix)
	if err != nil {
		return err
	}

	err = writeFile(f.artifact, func(w io.Writer) error {
		return template.WriteArtifact(w, res.Artifact)
	})
	if err != nil {
		return err
	}
	if err := writeMatrix(f.out, &res.Matrix, true); err != nil {
		return err
	}
	if f.groupMeans != "" {
		err := writeFile(f.groupMeans, func(w io.Writer) error {
			return ingest.WriteGroupMeansCSV(w, &res.Matrix)
		})
		if err != nil {
			return err
		}
	}
	if f.templateCSV != "" {
		err := writeFile(f.templateCSV, func(w io.Writer) error {
			return ingest.WriteTemplateCSV(w, res.Artifact.Template)
		})
		if err != nil {
			return err
		}
	}
	if f.paramsCSV != "" {
		err := writeFile(f.paramsCSV, func(w io.Writer) error {
			return ingest.WriteParamsCSV(w, res.Artifact.Params)
		})
		if err != nil {
			return err
		}
	}

	run := store.Run{
		Phase:     pipeline.PhaseTrain,
		Input:     f.in,
		Started:   started,
		Processed: res.Report.Processed,
		Total:     res.Report.Total,
	}
	if err := env.record(ctx, run, res.Artifact, &res.Matrix, &res.Report); err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), res.Report.Summary())
	return env.writeMetrics()
}

// applyParams returns the parameter set of the artifact with the
// parameter flags set on the command line applied on top
func applyParams(flags *pflag.FlagSet, cfg, trained params.Params) params.Params {
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	p := trained
	if changed("half-window") {
		p.HalfWindowSize = cfg.HalfWindowSize
	}
	if changed("smoothing-window") {
		p.SmoothingHalfWindow = cfg.SmoothingHalfWindow
	}
	if changed("snr") {
		p.SNR = cfg.SNR
	}
	if changed("tolerance") {
		p.Tolerance = cfg.Tolerance
	}
	if changed("relative-tolerance") {
		p.RelativeTolerance = cfg.RelativeTolerance
	}
	if changed("iterations") {
		p.Iterations = cfg.Iterations
	}
	if changed("min-support") {
		p.MinSupport = cfg.MinSupport
	}
	if changed("mass-range") {
		p.MassMin, p.MassMax = cfg.MassMin, cfg.MassMax
	}
	return p
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func runApply(cmd *cobra.Command, configFile string, f *runFlags) error {
	env, err := setup(cmd, configFile)
	if err != nil {
		return err
	}
	defer env.close()
	ctx := cmd.Context()
	started := time.Now()

	if f.mzmlOut != "" && !strings.EqualFold(filepath.Ext(f.in), ".mzml") {
		return fmt.Errorf("--mzml-out needs a single mzML file as input, got %s", f.in)
	}
	a, err := readArtifact(f.artifact)
	if err != nil {
		return err
	}
	p := applyParams(cmd.Flags(), env.cfg.Params, a.Params)
	batch, err := loadBatch(env.log, f.in)
	if err != nil {
		return err
	}

	var progress pipeline.Progress
	stop := env.watch(ctx, pipeline.PhaseApply, &progress)
	res, runErr := pipeline.Apply(ctx, batch.Spectra, a, p, env.options(&progress))
	stop()
	if runErr != nil && !interrupted(runErr) {
		return runErr
	}
	err = debugReport(cmd.ErrOrStderr(), f.debug, batch.Spectra, &res.Report, res.Warps, &res.Matrix)
	if err != nil {
		return err
	}
	// An interrupted run still writes what was processed
	if err := writeMatrix(f.out, &res.Matrix, false); err != nil {
		return err
	}
	if f.mzmlOut != "" && runErr == nil {
		n, err := writeAlignedMzML(f.in, f.mzmlOut, batch.Spectra, res.Warps)
		if err != nil {
			return err
		}
		env.log.Info("aligned mzML written", zap.String("file", f.mzmlOut), zap.Int("scans", n))
	}

	run := store.Run{
		Phase:     pipeline.PhaseApply,
		Input:     f.in,
		Started:   started,
		Processed: res.Processed,
		Total:     res.Total,
	}
	// Recording must not be cut short by the interrupt that ended the run
	if err := env.record(context.WithoutCancel(ctx), run, a, &res.Matrix, &res.Report); err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), res.Report.Summary())
	if err := env.writeMetrics(); err != nil {
		return err
	}
	return runErr
}

// writeAlignedMzML rewrites the profile scans of the mzML file in with
// the warp found for each of them
func writeAlignedMzML(in, out string, spectra []spectrum.Spectrum, warps []align.Warp) (int, error) {
	rf, err := os.Open(in)
	if err != nil {
		return 0, err
	}
	doc, err := mzml.Read(rf)
	rf.Close()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", in, err)
	}
	maps := make(map[string]mzml.Mapper, len(spectra))
	for i, s := range spectra {
		maps[s.ID] = warps[i]
	}
	n, err := doc.RemapScans(filepath.Base(in), maps)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", in, err)
	}
	doc.AppendSoftwareInfo(progName, progVersion)
	doc.AppendDataProcessing(alignmentProcessing)
	if err := writeFile(out, doc.Write); err != nil {
		return 0, err
	}
	return n, nil
}

func runInspect(cmd *cobra.Command, configFile string, artifact string) error {
	env, err := setup(cmd, configFile)
	if err != nil {
		return err
	}
	defer env.close()

	a, err := readArtifact(artifact)
	if errors.Is(err, os.ErrNotExist) && env.store != nil {
		a, err = env.store.LoadArtifact(cmd.Context(), artifact)
	}
	if err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%s: %w", artifact, err)
	}
	fp, err := a.Fingerprint()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "fingerprint\t%s\n", fp)
	fmt.Fprintf(w, "format version\t%d\n", a.FormatVersion)
	fmt.Fprintf(w, "training spectra\t%d\n", a.TrainingSpectra)
	fmt.Fprintf(w, "calibration scale\t%s\n", strconv.FormatFloat(a.CalibrationScale, 'g', 6, 64))
	fmt.Fprintf(w, "reference peaks\t%d\n", a.Reference.Len())
	fmt.Fprintf(w, "features\t%d\n", a.Template.Len())
	fmt.Fprintln(w)
	for _, row := range a.Params.Table() {
		fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "feature\tm/z\tsupport")
	for _, ft := range a.Template.Features {
		fmt.Fprintf(w, "%s\t%.4f\t%d\n", ft.ID, ft.Mass, ft.Support)
	}

	if env.store != nil {
		runs, err := env.store.Runs(cmd.Context(), fp)
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "run\tphase\tstarted\tprocessed\tstatus\tinput")
		for _, r := range runs {
			counts, err := env.store.StatusCounts(cmd.Context(), r.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n", r.ID, r.Phase,
				r.Started.Format(time.RFC3339), r.Processed, r.Total,
				formatCounts(counts), r.Input)
		}
	}
	return w.Flush()
}

// formatCounts lists status counts as code:n, ordered by code
func formatCounts(counts map[string]int) string {
	codes := make([]string, 0, len(counts))
	for c := range counts {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = c + ":" + strconv.Itoa(counts[c])
	}
	return strings.Join(parts, " ")
}
