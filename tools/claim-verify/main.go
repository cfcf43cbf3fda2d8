// claim-verify drives the claim escrow service through its workflows on an
// in-memory store and writes every call with its expected and actual outcome
// to a JSON report.
//
// Usage:
//
//	go run ./tools/claim-verify --workflow=all --output=claim_verification.json
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/iotaledger/hive.go/app/configuration"
	appLogger "github.com/iotaledger/hive.go/app/logger"
)

var (
	workflowFlag = flag.String("workflow", "all", "Workflow: "+strings.Join(workflowOrder, ", ")+", all")
	outputFlag   = flag.String("output", "", "Output JSON file (default: {workflow}_verification.json)")
	verboseFlag  = flag.Bool("verbose", true, "Print verbose output")
)

func main() {
	flag.Parse()

	if err := appLogger.InitGlobalLogger(configuration.New()); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	names := workflowOrder
	if *workflowFlag != "all" {
		if _, known := workflows[*workflowFlag]; !known {
			fmt.Printf("Unknown workflow: %s\n", *workflowFlag)
			fmt.Printf("Available: %s, all\n", strings.Join(workflowOrder, ", "))
			os.Exit(1)
		}
		names = []string{*workflowFlag}
	}

	output := *outputFlag
	if output == "" {
		output = fmt.Sprintf("%s_verification.json", *workflowFlag)
	}

	fmt.Println("=== Claim Escrow Verification Tool ===")
	fmt.Printf("Workflow: %s\n", *workflowFlag)
	fmt.Printf("Output: %s\n", output)

	log := NewStepLogger(*workflowFlag, *verboseFlag)
	if err := runWorkflows(log, names); err != nil {
		fmt.Printf("Workflow failed: %v\n", err)
	}

	log.PrintSummary()

	fmt.Println("\n>>> Writing verification report...")
	if err := log.WriteJSON(output); err != nil {
		fmt.Printf("Failed to write report: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Report written to: %s\n", output)

	if log.Failed() {
		os.Exit(1)
	}
}
