// Package runner drives documents through the pipeline: build prompt, call
// the backend, extract and validate the response, normalize, persist. A
// file-level retry loop wraps each document and batch mode processes a
// directory fail-fast.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/logiclint/logiclint/internal/extract"
	"github.com/logiclint/logiclint/internal/llm"
	"github.com/logiclint/logiclint/internal/prompt"
	"github.com/logiclint/logiclint/internal/report"
)

// errorTextLimit bounds how much raw model output is echoed when it cannot
// be interpreted as JSON.
const errorTextLimit = 2000

// Runner processes documents one at a time, synchronously. No state is
// shared between documents; the only shared resource is the output
// directory, and sequential processing keeps its writes race-free.
type Runner struct {
	Client llm.Client
	Model  string

	WorkRoot string
	OutDir   string

	Taxonomy report.Taxonomy
	Rubric   string
	Schema   prompt.Summary

	MaxRetries           int
	SleepBetweenRetries  time.Duration
	SleepBetweenRequests time.Duration

	// RunID is stamped into every report's meta and every log line.
	RunID string

	Stdout io.Writer
	Stderr io.Writer
	Log    *zap.Logger

	// Sleep and Now are injectable for tests; nil means the real clock.
	Sleep func(time.Duration)
	Now   func() time.Time
}

func (r *Runner) sleep(d time.Duration) {
	if r.Sleep != nil {
		r.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) log() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}

// fatalError marks failures the file-level retry loop must not retry:
// unreadable documents and unwritable output.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// errValidation marks an attempt that failed shape validation. The
// individual errors have already been written to Stderr.
var errValidation = errors.New("runner: report failed shape validation")

// RunFile processes one document under the file-level retry loop and
// returns the result code: 0 on success, 2 on failure. Validation errors
// and failure messages go to Stderr; the report path goes to Stdout.
func (r *Runner) RunFile(ctx context.Context, path string) int {
	rc := 0
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		err := r.runOne(ctx, path)
		if err == nil {
			return 0
		}
		rc = 2
		if !errors.Is(err, errValidation) {
			fmt.Fprintf(r.Stderr, "ERROR: %s\n", err)
		}
		var fatal *fatalError
		if errors.As(err, &fatal) {
			return rc
		}
		if attempt < r.MaxRetries {
			r.log().Warn("document attempt failed, retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", r.MaxRetries),
				zap.Duration("sleep", r.SleepBetweenRetries),
				zap.Error(err))
			if r.SleepBetweenRetries > 0 {
				r.sleep(r.SleepBetweenRetries)
			}
		}
	}
	return rc
}

// RunDir processes every .md file under root in case-insensitive
// lexicographic path order, fail-fast: the first non-zero document result
// aborts the batch and becomes its result code.
func (r *Runner) RunDir(ctx context.Context, root string) int {
	files, err := markdownFiles(root)
	if err != nil {
		fmt.Fprintf(r.Stderr, "ERROR: %s\n", err)
		return 2
	}
	for i, path := range files {
		if rc := r.RunFile(ctx, path); rc != 0 {
			return rc
		}
		if r.SleepBetweenRequests > 0 && i < len(files)-1 {
			r.log().Debug("pacing between documents",
				zap.Duration("sleep", r.SleepBetweenRequests))
			r.sleep(r.SleepBetweenRequests)
		}
	}
	return 0
}

// runOne is a single attempt for one document. The prompt file is written
// before the backend call so it is available for debugging even when the
// call fails.
func (r *Runner) runOne(ctx context.Context, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return &fatalError{fmt.Errorf("runner: read document: %w", err)}
	}
	source := r.sourceID(path)
	name := filepath.Base(path)

	p, err := prompt.Build(r.Rubric, r.Schema, source, string(body))
	if err != nil {
		return &fatalError{err}
	}
	promptPath := filepath.Join(r.OutDir, name+".PROMPT.md")
	if err := writeFile(promptPath, []byte(p+"\n")); err != nil {
		return &fatalError{fmt.Errorf("runner: write prompt: %w", err)}
	}

	r.log().Info("calling backend",
		zap.String("run_id", r.RunID),
		zap.String("source", source),
		zap.String("backend", r.Client.Name()),
		zap.String("model", r.Model))
	text, err := r.Client.Generate(ctx, r.Model, p)
	if err != nil {
		return err
	}

	jsonText, err := extract.JSONObject(text)
	if err != nil {
		return fmt.Errorf("could not interpret model output as JSON (%w)\n---\n%s\n---", err, head(text, errorTextLimit))
	}
	parsed, err := report.Parse(jsonText)
	if err != nil {
		return fmt.Errorf("could not interpret model output as JSON (%w)\n---\n%s\n---", err, head(text, errorTextLimit))
	}

	if errs := report.Validate(parsed, r.Taxonomy); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(r.Stderr, "ERROR: %s\n", e)
		}
		return errValidation
	}

	rep := report.Normalize(parsed)
	if rep.Meta == nil {
		rep.Meta = map[string]any{}
	}
	rep.Meta["generated_by"] = r.Client.Name()
	rep.Meta["model"] = r.Model
	rep.Meta["generated_at"] = r.now().UTC().Format(time.RFC3339)
	rep.Meta["run_id"] = r.RunID

	out, err := report.EncodeJSON(rep)
	if err != nil {
		return &fatalError{err}
	}
	outPath := filepath.Join(r.OutDir, name+".json")
	if err := writeFile(outPath, out); err != nil {
		return &fatalError{fmt.Errorf("runner: write report: %w", err)}
	}

	fmt.Fprintln(r.Stdout, r.relPath(outPath))
	r.log().Info("report written",
		zap.String("run_id", r.RunID),
		zap.String("source", source),
		zap.Int("issues", len(rep.Issues)))
	return nil
}

// sourceID is the document identifier embedded in prompts and reports:
// the path relative to the working root, forward-slash separated.
func (r *Runner) sourceID(path string) string {
	return r.relPath(path)
}

func (r *Runner) relPath(path string) string {
	abs, err := filepath.Abs(path)
	if err == nil {
		if rel, err := filepath.Rel(r.WorkRoot, abs); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// markdownFiles lists the .md files under root, sorted by lowercased path.
func markdownFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".md" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("runner: walk %s: %w", root, err)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return strings.ToLower(files[i]) < strings.ToLower(files[j])
	})
	return files, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
