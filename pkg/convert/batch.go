package convert

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// ErrNoInputs is returned when a plan has nothing to convert
var ErrNoInputs = errors.New("no input files were supplied")

// JobRunner converts one job, normally a *Converter
type JobRunner interface {
	ConvertFile(ctx context.Context, job Job) (*Result, error)
}

// PlanJobs maps inputs to output paths. With a single input and a non-empty
// output the job writes to output; otherwise each input becomes
// <outputDir>/<stem>.stdf, or .stdf.gz when compress is set.
func PlanJobs(inputs []string, outputDir, output string, compress bool) ([]Job, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if output != "" {
		if len(inputs) != 1 {
			return nil, errors.Newf("an explicit output path needs exactly one input, got %d", len(inputs))
		}
		return []Job{{Input: inputs[0], Output: output}}, nil
	}

	if outputDir == "" {
		outputDir = "."
	}
	ext := ".stdf"
	if compress {
		ext += ".gz"
	}

	jobs := make([]Job, 0, len(inputs))
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		base := filepath.Base(in)
		out := filepath.Join(outputDir, strings.TrimSuffix(base, filepath.Ext(base))+ext)
		if prev, ok := seen[out]; ok {
			return nil, errors.Newf("inputs %s and %s both map to %s", prev, in, out)
		}
		seen[out] = in
		jobs = append(jobs, Job{Input: in, Output: out})
	}
	return jobs, nil
}

// Outcome is the result of one job in a batch
type Outcome struct {
	Job    Job
	Result *Result
	Err    error
}

// BatchReport collects the outcomes of a batch in job order
type BatchReport struct {
	Outcomes []Outcome
	Duration time.Duration
}

// Succeeded returns the outcomes without an error
func (r *BatchReport) Succeeded() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o)
		}
	}
	return out
}

// Failures returns the outcomes with an error
func (r *BatchReport) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the number of failed jobs
func (r *BatchReport) Failed() int {
	return len(r.Failures())
}

// RunBatch runs jobs with at most workers in parallel. A failing job does not
// stop the others; cancelling ctx fails the jobs that have not finished.
func RunBatch(ctx context.Context, runner JobRunner, jobs []Job, workers int) *BatchReport {
	if workers < 1 {
		workers = 1
	}
	started := time.Now()
	report := &BatchReport{Outcomes: make([]Outcome, len(jobs))}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := runner.ConvertFile(ctx, job)
			report.Outcomes[i] = Outcome{Job: job, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	return report
}
