package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dueldanov/claimescrow/internal/escrow"
)

// Report is the top-level verification report
type Report struct {
	Workflow   string         `json:"workflow"`
	Timestamp  string         `json:"timestamp"`
	Steps      []Step         `json:"steps"`
	TotalSteps int            `json:"total_steps"`
	Passed     int            `json:"passed"`
	Failed     int            `json:"failed"`
	Operations map[string]int `json:"operations"`
}

// Step represents a single call in a workflow
type Step struct {
	Step       int    `json:"step"`
	Workflow   string `json:"workflow"`
	Operation  string `json:"operation"`
	Purpose    string `json:"purpose"`
	Expected   string `json:"expected"`
	Actual     string `json:"actual"`
	Output     any    `json:"output,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Result     string `json:"result"`
	Error      string `json:"error,omitempty"`
}

// StepLogger records workflow steps and prints live progress
type StepLogger struct {
	workflow string
	steps    []Step
	stepNum  int
	verbose  bool
}

// NewStepLogger creates a new step logger
func NewStepLogger(workflow string, verbose bool) *StepLogger {
	return &StepLogger{
		workflow: workflow,
		steps:    make([]Step, 0),
		verbose:  verbose,
	}
}

// outcome names the result of a call the way steps are compared: "ok" or
// the name of the escrow error kind.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}

	return escrow.KindOf(err).String()
}

// Expect runs fn and records whether it ended with the expected outcome.
// It returns the output of fn when the step passed.
func (l *StepLogger) Expect(workflow, operation, purpose, expected string, fn func() (any, error)) (any, bool) {
	start := time.Now()
	output, err := fn()
	duration := time.Since(start)

	l.stepNum++
	step := Step{
		Step:       l.stepNum,
		Workflow:   workflow,
		Operation:  operation,
		Purpose:    purpose,
		Expected:   expected,
		Actual:     outcome(err),
		Output:     output,
		DurationMs: duration.Milliseconds(),
		Result:     "PASS",
	}
	if err != nil {
		step.Error = err.Error()
	}
	if step.Actual != expected {
		step.Result = "FAIL"
	}
	l.steps = append(l.steps, step)

	if l.verbose {
		status := "\033[32mPASS\033[0m"
		if step.Result != "PASS" {
			status = "\033[31mFAIL\033[0m"
		}
		fmt.Printf("  [%d] %s: %s (%dms) %s\n", step.Step, operation, purpose, step.DurationMs, status)
	}

	return output, step.Result == "PASS"
}

// Failed reports whether any recorded step failed.
func (l *StepLogger) Failed() bool {
	for _, step := range l.steps {
		if step.Result != "PASS" {
			return true
		}
	}

	return false
}

// GenerateReport creates the final report
func (l *StepLogger) GenerateReport() *Report {
	report := &Report{
		Workflow:   l.workflow,
		Timestamp:  time.Now().Format(time.RFC3339),
		Steps:      l.steps,
		TotalSteps: len(l.steps),
		Operations: make(map[string]int),
	}

	for _, step := range l.steps {
		if step.Result == "PASS" {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Operations[step.Operation]++
	}

	return report
}

// WriteJSON writes the report to a JSON file
func (l *StepLogger) WriteJSON(filename string) error {
	data, err := json.MarshalIndent(l.GenerateReport(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// PrintSummary prints a human-readable summary
func (l *StepLogger) PrintSummary() {
	report := l.GenerateReport()

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Printf("CLAIM ESCROW VERIFICATION REPORT: %s\n", report.Workflow)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Timestamp: %s\n", report.Timestamp)
	fmt.Printf("Total Steps: %d\n", report.TotalSteps)
	fmt.Printf("Passed: \033[32m%d\033[0m\n", report.Passed)
	fmt.Printf("Failed: \033[31m%d\033[0m\n", report.Failed)
	fmt.Println()
	fmt.Println("Operations:")
	for op, count := range report.Operations {
		fmt.Printf("  - %s: %d\n", op, count)
	}
	fmt.Println(strings.Repeat("=", 60))
}
