package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinterRendersFailure(t *testing.T) {
	var sb strings.Builder
	p := Printer{Out: &sb}

	p.Observe(2, 12, Result{
		Stage:   "push image",
		Failure: &Failure{Kind: ExternalToolFailure, Message: "denied", Hint: "run docker login"},
	})

	out := sb.String()
	assert.Contains(t, out, "[FAIL] stage 2/12 push image")
	assert.Contains(t, out, "ExternalToolFailure")
	assert.Contains(t, out, "run docker login")
}

func TestPrinterSummary(t *testing.T) {
	var sb strings.Builder
	p := Printer{Out: &sb}

	p.Summary(Report{Results: []Result{{Succeeded: true}}, FirstFailed: "verify DNS"})
	assert.Contains(t, sb.String(), `failed at stage "verify DNS"`)

	sb.Reset()
	p.Summary(Report{Results: []Result{{Succeeded: true}, {Succeeded: true}}})
	assert.Contains(t, sb.String(), "all 2 stages passed")
}
