// Package runner drives cforge over a set of C files. Every file is one
// unit: it is parsed, its edits or records are collected against the
// original text, and only then is anything written. Units run in parallel
// and fail independently.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/cforge/internal/cast"
	"github.com/robert-at-pretension-io/cforge/internal/config"
	"github.com/robert-at-pretension-io/cforge/internal/corpus"
	"github.com/robert-at-pretension-io/cforge/internal/extractor"
	"github.com/robert-at-pretension-io/cforge/internal/policy"
	"github.com/robert-at-pretension-io/cforge/internal/transform"
	"github.com/robert-at-pretension-io/cforge/internal/validator"
)

// Mode selects what a run does to each unit.
type Mode string

const (
	// ModeExtract writes corpus records for call-free declarations.
	ModeExtract Mode = "extract"
	// ModeProcess writes corpus records after replacing calls.
	ModeProcess Mode = "process"
	// ModeEliminate rewrites files with calls replaced and externs removed.
	ModeEliminate Mode = "eliminate"
	// ModeTag instruments files with profiling tags.
	ModeTag Mode = "tag"
	// ModeRename gives function definitions fresh names.
	ModeRename Mode = "rename"
	// ModeRenameGlobal suffixes globals with the function using them.
	ModeRenameGlobal Mode = "rename-global"
)

func (m Mode) buildsCorpus() bool { return m == ModeExtract || m == ModeProcess }

// StdoutDir as Options.OutputDir prints transformed units instead of
// writing files.
const StdoutDir = "-"

// Unit outcomes.
const (
	StatusOK      = "ok"
	StatusCached  = "cached"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Options select the work of one run.
type Options struct {
	Mode Mode
	// Target restricts transforms to one function definition. Units
	// without it are skipped.
	Target string
	// OutputDir receives transformed files, mirroring their path below the
	// root. Empty rewrites files in place; StdoutDir prints them.
	OutputDir string
	// DeltaFrom is a previous corpus to diff the new records against.
	DeltaFrom string
	Stdout    io.Writer
}

// UnitResult is the outcome of one file.
type UnitResult struct {
	File       string
	Status     string
	Output     string
	Edits      int
	Tags       int
	Calls      int
	Unresolved int
	Removed    int
	Renames    []transform.RenameRecord
	Records    []corpus.Record
	Rejected   int
	Denied     []policy.Decision
	Err        error

	text []byte
}

// Summary is the outcome of a run, units in file order.
type Summary struct {
	Mode     Mode
	Units    []UnitResult
	Records  int
	Delta    *corpus.Delta
	Duration time.Duration
}

// Failed returns the units that produced no output because of an error.
func (s *Summary) Failed() []UnitResult {
	var out []UnitResult
	for _, u := range s.Units {
		if u.Status == StatusFailed {
			out = append(out, u)
		}
	}
	return out
}

// Count returns how many units ended with status.
func (s *Summary) Count(status string) int {
	n := 0
	for _, u := range s.Units {
		if u.Status == status {
			n++
		}
	}
	return n
}

// Err joins every unit error, or returns nil when all units succeeded.
func (s *Summary) Err() error {
	var errs []error
	for _, u := range s.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", u.File, u.Err))
	}
	return errors.Join(errs...)
}

// Runner processes units with one configuration.
type Runner struct {
	Config *config.Config

	opts   Options
	logger *zap.Logger
	parser *cast.Parser

	// validator is not safe for concurrent use
	valMu     sync.Mutex
	validator *validator.Validator
}

// New creates a Runner. A nil config means config.DefaultConfig.
func New(cfg *config.Config, opts Options, logger *zap.Logger) *Runner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &Runner{
		Config: cfg,
		opts:   opts,
		logger: logger.With(zap.String("mode", string(opts.Mode))),
		parser: cast.NewParser(),
	}
}

// unitEnv holds what every unit of a corpus run shares.
type unitEnv struct {
	engine *extractor.Engine
	policy *policy.Engine
	cache  *recordCache
}

// Run processes files, or the configured sources below rootPath when files
// is empty. The returned error covers the run itself; unit failures are in
// the summary.
func (r *Runner) Run(ctx context.Context, rootPath string, files []string) (*Summary, error) {
	runStart := time.Now()
	timing := newTimingRecorder(runStart, resolveTimingPath(r.Config.Analysis.TimingFile))
	if err := timing.Err(); err != nil {
		r.logger.Warn("timing output disabled", zap.Error(err))
	}
	defer timing.Close()

	stepStart := time.Now()
	if len(files) == 0 {
		resolved, err := r.Config.ResolveSources(rootPath)
		if err != nil {
			return nil, fmt.Errorf("resolve sources: %w", err)
		}
		files = resolved
	} else {
		kept := files[:0:0]
		for _, f := range files {
			if !r.Config.ShouldIgnoreFile(f) {
				kept = append(kept, f)
			}
		}
		files = kept
	}
	timing.Stage("scan", stepStart, "")
	r.logger.Info("found C files", zap.Int("files", len(files)))

	v, err := validator.New()
	if err != nil {
		return nil, err
	}
	r.validator = v

	env := &unitEnv{}
	if r.opts.Mode.buildsCorpus() {
		if env, err = r.corpusEnv(ctx, rootPath); err != nil {
			return nil, err
		}
	}

	stepStart = time.Now()
	results := make([]UnitResult, len(files))
	var g errgroup.Group
	g.SetLimit(r.parallelism())
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			unitStart := time.Now()
			results[i] = r.unit(ctx, rootPath, file, env)
			timing.Unit(string(r.opts.Mode), file, results[i].Status, unitStart)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	timing.Stage("units", stepStart, "")

	summary := &Summary{Mode: r.opts.Mode, Units: results}
	if r.opts.OutputDir == StdoutDir && !r.opts.Mode.buildsCorpus() {
		for _, u := range results {
			if u.Status == StatusOK {
				if _, err := r.opts.Stdout.Write(u.text); err != nil {
					return summary, fmt.Errorf("write output: %w", err)
				}
			}
		}
	}

	if r.opts.Mode.buildsCorpus() {
		stepStart = time.Now()
		if err := r.writeCorpus(ctx, files, summary); err != nil {
			timing.Stage("corpus", stepStart, "error")
			return summary, err
		}
		timing.Stage("corpus", stepStart, "")
		if env.cache != nil {
			if err := env.cache.Save(); err != nil {
				r.logger.Warn("cache index not saved", zap.Error(err))
			}
		}
	}

	summary.Duration = time.Since(runStart)
	timing.Stage("total", runStart, "")
	r.logger.Info("run finished",
		zap.Int("units", len(results)),
		zap.Int("failed", summary.Count(StatusFailed)),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (r *Runner) parallelism() int {
	if n := r.Config.Analysis.MaxParallelFiles; n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

func (r *Runner) corpusEnv(ctx context.Context, rootPath string) (*unitEnv, error) {
	pcfg := policy.Config{
		MinTokens:   r.Config.Corpus.MinTokens,
		DeniedNames: r.Config.Corpus.DeniedNames,
	}
	var (
		pol *policy.Engine
		err error
	)
	if len(r.Config.Corpus.Policies) > 0 {
		pol, err = policy.Load(ctx, pcfg, r.Config.Corpus.Policies)
	} else {
		pol, err = policy.New(ctx, pcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("corpus policy: %w", err)
	}

	mode := extractor.ModeExtract
	if r.opts.Mode == ModeProcess {
		mode = extractor.ModeProcess
	}
	env := &unitEnv{
		engine: extractor.New(mode, r.logger),
		policy: pol,
	}
	if r.Config.CacheEnabled() {
		cache := newRecordCache(resolveCacheDir(rootPath, r.Config.Analysis.Cache.Dir), r.cacheVariant(mode))
		if err := cache.Load(); err != nil {
			r.logger.Warn("cache disabled", zap.Error(err))
		} else {
			env.cache = cache
		}
	}
	return env, nil
}

func (r *Runner) cacheVariant(mode extractor.Mode) string {
	variant := string(mode)
	if r.Config.Corpus.RenameFunctions {
		variant += "+rename"
	}
	if r.Config.Corpus.RenameGlobals {
		variant += "+rename-global"
	}
	return variant
}

// unit processes one file. It never returns an error: failures end up in
// the result so the other units carry on.
func (r *Runner) unit(ctx context.Context, rootPath, file string, env *unitEnv) UnitResult {
	res := UnitResult{File: file, Status: StatusOK}
	log := r.logger.With(zap.String("file", file))

	var err error
	if r.opts.Mode.buildsCorpus() {
		err = r.corpusUnit(ctx, file, env, &res, log)
	} else {
		err = r.transformUnit(ctx, rootPath, file, &res, log)
	}
	switch {
	case errors.Is(err, transform.ErrNoSuchFunction):
		res.Status = StatusSkipped
		log.Debug("target not defined in unit", zap.String("target", r.opts.Target))
	case err != nil:
		res.Status = StatusFailed
		res.Err = err
		res.Records = nil
		log.Error("unit failed", zap.Error(err))
	default:
		log.Debug("unit done",
			zap.String("status", res.Status),
			zap.Int("edits", res.Edits),
			zap.Int("tags", res.Tags),
			zap.Int("records", len(res.Records)))
	}
	return res
}

func (r *Runner) parse(ctx context.Context, file string, src []byte) (*cast.Unit, error) {
	u, err := r.parser.Parse(ctx, file, src)
	if err != nil {
		return nil, err
	}
	if u.HasErrors() && !r.Config.Analysis.AllowSyntaxErrors {
		return nil, cast.ErrSyntax
	}
	return u, nil
}

func (r *Runner) transformUnit(ctx context.Context, rootPath, file string, res *UnitResult, log *zap.Logger) error {
	src, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	u, err := r.parse(ctx, file, src)
	if err != nil {
		return err
	}

	s := transform.NewSession(u, transform.Options{
		Target:       r.opts.Target,
		RenamePrefix: r.Config.Rename.Prefix,
		RenameLength: r.Config.Rename.Length,
		Seed:         r.Config.Rename.Seed,
	}, log)

	switch r.opts.Mode {
	case ModeTag:
		style := r.Config.Tag.Style
		if style == "expression" || style == "both" {
			if err := s.TagExpressions(); err != nil {
				return err
			}
		}
		if style == "statement" || style == "both" {
			if err := s.TagStatements(); err != nil {
				return err
			}
		}
	case ModeEliminate:
		calls, err := s.EliminateCalls()
		if err != nil {
			return err
		}
		res.Calls = len(calls)
		for _, c := range calls {
			if !c.Resolvable() {
				res.Unresolved++
			}
		}
		if res.Removed, err = s.RemoveExterns(); err != nil {
			return err
		}
	case ModeRename:
		if res.Renames, err = s.RenameFunctions(); err != nil {
			return err
		}
	case ModeRenameGlobal:
		if res.Renames, err = s.RenameGlobals(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %q", r.opts.Mode)
	}

	out, err := s.Apply()
	if err != nil {
		return err
	}
	res.Edits = s.Edits.Len()
	res.Tags = s.Tags.Len()

	table := s.Tags.Table()
	if r.opts.Mode == ModeTag {
		r.valMu.Lock()
		err := r.validator.ValidateTagTable(table)
		r.valMu.Unlock()
		if err != nil {
			return fmt.Errorf("tag table: %w", err)
		}
	}

	for _, rn := range res.Renames {
		log.Info("renamed", zap.String("old", rn.Old), zap.String("new", rn.New), zap.String("scope", rn.Scope))
	}

	if r.opts.OutputDir == StdoutDir {
		res.text = out
		return nil
	}
	dest := r.destination(rootPath, file)
	// The sidecar goes first: a unit whose table cannot be written leaves
	// its source untouched.
	if r.opts.Mode == ModeTag {
		if err := writeJSONAtomic(dest+".tags.json", table); err != nil {
			return fmt.Errorf("tag table: %w", err)
		}
	}
	if err := writeFileAtomic(dest, out); err != nil {
		return err
	}
	res.Output = dest
	return nil
}

// destination mirrors file below OutputDir, or returns file itself for an
// in-place rewrite.
func (r *Runner) destination(rootPath, file string) string {
	if r.opts.OutputDir == "" {
		return file
	}
	rel, err := filepath.Rel(rootPath, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(file)
	}
	return filepath.Join(r.opts.OutputDir, rel)
}

func (r *Runner) corpusUnit(ctx context.Context, file string, env *unitEnv, res *UnitResult, log *zap.Logger) error {
	src, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	hash := hashBytes(src)

	var (
		records []corpus.Record
		hit     bool
	)
	if env.cache != nil {
		cached, ok, err := env.cache.Get(file, hash)
		if err != nil {
			log.Warn("cache read failed", zap.Error(err))
		}
		if ok {
			hit = true
			records = cached.Records
			res.Rejected = len(cached.Rejections)
			res.Status = StatusCached
		}
	}

	if !hit {
		u, err := r.parse(ctx, file, src)
		if err != nil {
			return err
		}
		if u, err = r.prepare(ctx, u, env.engine.Mode, log); err != nil {
			return err
		}
		sel, err := env.engine.Select(u)
		if err != nil {
			return err
		}
		for _, rej := range sel.Rejections {
			log.Debug("not selected",
				zap.String("kind", string(rej.Kind)),
				zap.String("name", rej.Name),
				zap.Int("line", rej.Line),
				zap.String("reason", rej.Reason))
		}
		records = corpus.Records(sel)
		res.Rejected = len(sel.Rejections)
		if env.cache != nil {
			if err := env.cache.Put(file, hash, cachedUnit{Records: records, Rejections: sel.Rejections}); err != nil {
				log.Warn("cache write failed", zap.Error(err))
			}
		}
	}

	admitted, denied, err := env.policy.Admit(ctx, records)
	if err != nil {
		return err
	}
	for _, d := range denied {
		log.Debug("denied by policy", zap.String("name", d.Record.Name), zap.Strings("reasons", d.Reasons))
	}

	r.valMu.Lock()
	defer r.valMu.Unlock()
	for _, rec := range admitted {
		if err := r.validator.ValidateRecord(rec); err != nil {
			return fmt.Errorf("record %s: %w", rec.Name, err)
		}
	}
	res.Records = admitted
	res.Denied = denied
	return nil
}

// prepare runs the renaming passes configured for the corpus over u and
// hands selection the reparsed result. In process mode calls are
// eliminated first, while every callee still has its declared name.
func (r *Runner) prepare(ctx context.Context, u *cast.Unit, mode extractor.Mode, log *zap.Logger) (*cast.Unit, error) {
	c := r.Config.Corpus
	if !c.RenameFunctions && !c.RenameGlobals {
		return u, nil
	}
	type pass struct {
		name string
		run  func(*transform.Session) error
	}
	var passes []pass
	if mode == extractor.ModeProcess {
		passes = append(passes, pass{"eliminate", func(s *transform.Session) error {
			_, err := s.EliminateCalls()
			return err
		}})
	}
	if c.RenameFunctions {
		passes = append(passes, pass{"rename", func(s *transform.Session) error {
			_, err := s.RenameFunctions()
			return err
		}})
	}
	if c.RenameGlobals {
		passes = append(passes, pass{"rename-global", func(s *transform.Session) error {
			_, err := s.RenameGlobals()
			return err
		}})
	}

	for _, p := range passes {
		s := transform.NewSession(u, transform.Options{
			Exclude:      c.DeniedNames,
			RenamePrefix: r.Config.Rename.Prefix,
			RenameLength: r.Config.Rename.Length,
			Seed:         r.Config.Rename.Seed,
		}, log)
		if err := p.run(s); err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
		if s.Edits.Len() == 0 {
			continue
		}
		out, err := s.Apply()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
		if u, err = r.parse(ctx, u.Path(), out); err != nil {
			return nil, fmt.Errorf("reparse after %s: %w", p.name, err)
		}
		log.Debug("prepared unit", zap.String("pass", p.name), zap.Int("edits", s.Edits.Len()))
	}
	return u, nil
}

// writeCorpus streams the admitted records of every successful unit in
// file order, then diffs them against DeltaFrom.
func (r *Runner) writeCorpus(ctx context.Context, files []string, summary *Summary) error {
	var records []corpus.Record
	for _, u := range summary.Units {
		records = append(records, u.Records...)
	}
	tables := corpus.BuildTables(records)
	r.valMu.Lock()
	err := r.validator.ValidateTables(tables)
	r.valMu.Unlock()
	if err != nil {
		return fmt.Errorf("corpus tables: %w", err)
	}

	// The previous corpus may be the file about to be overwritten.
	var prev []corpus.Record
	if r.opts.DeltaFrom != "" {
		if prev, err = corpus.Load(ctx, FormatForPath(r.opts.DeltaFrom), r.opts.DeltaFrom); err != nil {
			return fmt.Errorf("load previous corpus: %w", err)
		}
	}

	sink, err := corpus.Open(corpus.Format(r.Config.Corpus.Format), r.Config.Corpus.Output, r.opts.Stdout)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := sink.Write(ctx, rec); err != nil {
			_ = sink.Close()
			return fmt.Errorf("write record %s: %w", rec.ID, err)
		}
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("close corpus: %w", err)
	}
	summary.Records = len(records)

	if r.opts.DeltaFrom == "" {
		return nil
	}
	processed := make(map[string]bool, len(files))
	for _, f := range files {
		processed[f] = true
	}
	delta := corpus.ComputeDelta(corpus.FilterTablesByFiles(corpus.BuildTables(prev), processed), tables)
	summary.Delta = &delta
	return nil
}

// FormatForPath guesses a corpus format from a file extension.
func FormatForPath(path string) corpus.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return corpus.FormatSQLite
	case ".msgpack", ".mpk":
		return corpus.FormatMsgpack
	}
	return corpus.FormatJSONL
}
