package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind buckets stage failures so callers can decide whether a re-run
// is worth attempting.
type FailureKind string

const (
	PermissionDenied        FailureKind = "PermissionDenied"
	NotFound                FailureKind = "NotFound"
	Conflict                FailureKind = "Conflict"
	TransientInfrastructure FailureKind = "TransientInfrastructure"
	ExternalToolFailure     FailureKind = "ExternalToolFailure"
	MalformedInput          FailureKind = "MalformedInput"
	Unknown                 FailureKind = "Unknown"
)

// Failure carries the error detail attached to an unsuccessful stage.
type Failure struct {
	Kind    FailureKind
	Message string
	// Hint tells the operator what to do about it.
	Hint string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Stage is one named step in a deployment pipeline. Stages are immutable once
// the pipeline is assembled and run exactly once per pipeline execution.
type Stage struct {
	Name string
	Run  func(ctx context.Context) Result
}

// Result is the outcome of a single stage action.
type Result struct {
	Stage     string
	Succeeded bool
	Detail    string
	Failure   *Failure
}

// Success builds a succeeding result. The detail line ends up in the report.
func Success(detail string) Result {
	return Result{Succeeded: true, Detail: detail}
}

// Fail builds a failing result with an error classification and a fix hint.
func Fail(kind FailureKind, message, hint string) Result {
	return Result{Failure: &Failure{Kind: kind, Message: message, Hint: hint}}
}

// FailErr builds a failing result from an error, preserving the kind when the
// error chain already contains a *Failure and falling back to Unknown.
func FailErr(err error, hint string) Result {
	f := &Failure{Kind: Unknown, Message: err.Error(), Hint: hint}

	var known *Failure
	if errors.As(err, &known) {
		f.Kind = known.Kind
		if f.Hint == "" {
			f.Hint = known.Hint
		}
	}

	return Result{Failure: f}
}

// Report aggregates the results of a pipeline execution.
type Report struct {
	Results     []Result
	FirstFailed string
}

// Succeeded reports whether every launched stage completed successfully.
func (r Report) Succeeded() bool {
	return r.FirstFailed == ""
}

// Run executes stages in order, halting at the first failure. Later stages
// depend on artifacts produced by earlier ones, so nothing is skipped or run
// speculatively. The runner performs no I/O of its own; rendering the report
// is the caller's concern.
func Run(ctx context.Context, stages []Stage, observer func(ordinal, total int, res Result)) Report {
	report := Report{}

	for i, stage := range stages {
		res := stage.Run(ctx)
		res.Stage = stage.Name
		if res.Failure == nil && !res.Succeeded {
			// a stage that neither succeeded nor explained itself is a bug
			res.Failure = &Failure{Kind: Unknown, Message: "stage returned no result detail"}
		}

		report.Results = append(report.Results, res)
		if observer != nil {
			observer(i+1, len(stages), res)
		}

		if !res.Succeeded {
			report.FirstFailed = stage.Name
			break
		}
	}

	return report
}
