package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/watershed-sentinel/internal/adapter/fixture"
	"github.com/couchcryptid/watershed-sentinel/internal/adjacency"
	"github.com/spf13/cobra"
)

var (
	validateTuning    string
	validateAdjacency string
	validateFixture   string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the tuning file, adjacency table, and optional fixture",
	Long: `Check that thresholds ascend, patterns reference known sources, adjacency
references resolve in both directions, and basin ids agree with unit codes.
Empty paths validate the embedded defaults. Exits non-zero on any problem.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !runValidate(cmd.OutOrStdout(), validateTuning, validateAdjacency, validateFixture) {
			return errors.New("validation failed")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateTuning, "tuning", os.Getenv("TUNING_FILE"), "tuning YAML (default: embedded)")
	validateCmd.Flags().StringVar(&validateAdjacency, "adjacency", os.Getenv("ADJACENCY_FILE"), "adjacency CSV (default: embedded)")
	validateCmd.Flags().StringVar(&validateFixture, "fixture", os.Getenv("FIXTURE_PATH"), "replay fixture to check against the adjacency table")
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func runValidate(out io.Writer, tuningPath, adjacencyPath, fixturePath string) bool {
	fmt.Fprintln(out, "=== Sentinel Reference Data Validation ===")
	fmt.Fprintln(out)

	idxPhase := &phase{name: "Adjacency table"}
	idx, err := adjacency.Load(adjacencyPath)
	if err != nil {
		idxPhase.errorf("%v", err)
	} else {
		for _, problem := range idx.Validate() {
			idxPhase.errorf("%v", problem)
		}
	}

	phases := []*phase{validateTuningFile(tuningPath), idxPhase}
	if fixturePath != "" {
		phases = append(phases, validateFixtureFile(fixturePath, idx))
	}

	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-28s %s\n", p.name, status)
	}
	if idx != nil {
		fmt.Fprintf(out, "\nUnits: %d\n", idx.Len())
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return true
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return false
}

func validateTuningFile(path string) *phase {
	p := &phase{name: "Tuning"}
	_, err := loadTuning(path)
	if err == nil {
		return p
	}
	// Validate joins every problem; report them one per line.
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			p.errorf("%v", e)
		}
		return p
	}
	p.errorf("%v", err)
	return p
}

func validateFixtureFile(path string, idx *adjacency.Index) *phase {
	p := &phase{name: "Fixture"}
	feed, err := fixture.Load(path)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	for _, r := range feed.Records {
		id := r.Geography.UnitID
		if id == "" {
			continue
		}
		if _, ok := idx.Lookup(id); !ok {
			p.errorf("record %s: unit %s not in adjacency table", r.Metadata.SourceRecordID, id)
		}
	}
	return p
}
