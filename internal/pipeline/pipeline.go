// Package pipeline runs the two passes over a directory of smali listings:
// every file is analyzed, a plan is built from the collected facts, then every
// file is rewritten against that plan.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/panjf2000/ants/v2"

	"smalitaint/internal/analysis"
	"smalitaint/internal/hierarchy"
	"smalitaint/internal/instrument"
	"smalitaint/internal/logging"
	"smalitaint/internal/oracle"
	"smalitaint/internal/tool"
)

// Ext is the extension of the listings the pipeline picks up.
const Ext = ".smali"

// Config describes one run.
type Config struct {
	// Input is the directory holding the listings.
	Input string
	// Output receives the rewritten tree. Empty means nothing is written.
	Output      string
	Sources     string
	Sinks       string
	Tool        tool.Strategy
	Concurrency int
	// AnalyzeOnly stops after the plan is built.
	AnalyzeOnly bool
	// Select limits the inject pass to the paths it accepts. Every file is
	// still analyzed.
	Select func(path string) bool
	// Emit receives each rewritten listing with its original. Calls come
	// from several workers at once.
	Emit   func(path string, orig, out []string) error
	Logger *log.Logger
}

// Run executes the pipeline and reports what it did.
func Run(ctx context.Context, cfg Config) (*analysis.Report, error) {
	start := time.Now()
	lg := cfg.Logger
	if lg == nil {
		lg = logging.Discard()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	o, err := oracle.Load(cfg.Sources, cfg.Sinks)
	if err != nil {
		return nil, err
	}
	files, paths, err := ReadTree(cfg.Input)
	if err != nil {
		return nil, err
	}
	classes, err := hierarchy.Scan(files)
	if err != nil {
		return nil, err
	}
	lg.Info("loaded", "files", len(paths), "classes", classes.Len(),
		"sources", o.Sources(), "sinks", o.Sinks())

	stats := &analysis.Stats{}
	facts := analysis.NewFacts()
	analyzer := instrument.NewEngine(instrument.Options{
		Oracle:  o,
		Tool:    cfg.Tool,
		Classes: classes,
		Facts:   facts,
		Stats:   stats,
		Logger:  lg,
	})
	err = forEach(ctx, cfg.Concurrency, paths, func(p string) error {
		return analyzer.AnalyzeFile(p, files[p])
	})
	if err != nil {
		return nil, err
	}
	plan := analysis.BuildPlan(facts, classes)

	report := &analysis.Report{
		Tool:         cfg.Tool.Kind().String(),
		Input:        cfg.Input,
		Output:       cfg.Output,
		Sources:      o.Sources(),
		Sinks:        o.Sinks(),
		Instrumented: plan.InstrumentedMethods(),
		Augmented:    plan.AugmentedMethods(),
	}
	lg.Info("planned", "instrumented", len(report.Instrumented), "augmented", len(report.Augmented))
	if cfg.AnalyzeOnly {
		report.Stats = stats.Snapshot()
		report.Elapsed = time.Since(start)
		return report, nil
	}

	injector := instrument.NewEngine(instrument.Options{
		Oracle:  o,
		Tool:    cfg.Tool,
		Classes: classes,
		Plan:    plan,
		Facts:   facts,
		Stats:   stats,
		Logger:  lg,
	})
	if cfg.Select != nil {
		paths = slices.DeleteFunc(slices.Clone(paths), func(p string) bool { return !cfg.Select(p) })
	}
	var mu sync.Mutex
	err = forEach(ctx, cfg.Concurrency, paths, func(p string) error {
		out, err := injector.InjectFile(p, files[p])
		if err != nil {
			return err
		}
		res := analysis.FileResult{
			Path:     p,
			Lines:    len(out),
			Inserted: len(out) - len(files[p]),
		}
		if cfg.Output != "" {
			if res.Output, err = write(cfg.Input, cfg.Output, p, out); err != nil {
				return err
			}
		}
		if cfg.Emit != nil {
			if err := cfg.Emit(p, files[p], out); err != nil {
				return err
			}
		}
		mu.Lock()
		report.Files = append(report.Files, res)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(report.Files, func(i, j int) bool { return report.Files[i].Path < report.Files[j].Path })
	report.Stats = stats.Snapshot()
	report.Elapsed = time.Since(start)
	lg.Info("done", "files", len(report.Files), "inserted", report.Stats.Inserted, "elapsed", report.Elapsed)
	return report, nil
}

// ReadTree loads every listing under dir. It returns the lines keyed by path
// and the sorted paths.
func ReadTree(dir string) (map[string][]string, []string, error) {
	files := map[string][]string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != Ext {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[p] = SplitLines(string(data))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return files, paths, nil
}

// SplitLines splits a listing into lines without their terminators.
func SplitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func write(in, out, path string, lines []string) (string, error) {
	rel, err := filepath.Rel(in, path)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(out, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	data := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(dst, []byte(data), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}
	return dst, nil
}

// forEach runs fn for every path on a pool of workers. The first failure
// cancels the paths not yet started; all failures are returned.
func forEach(ctx context.Context, workers int, paths []string, fn func(string) error) error {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		cancel()
	}
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err = pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := fn(p); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(err)
		}
	}
	wg.Wait()

	if len(errs) == 0 {
		return ctx.Err()
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}
