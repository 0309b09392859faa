package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/pgxdash/internal/models"
	"github.com/fentz26/pgxdash/internal/progress"
	"github.com/fentz26/pgxdash/internal/report"
	"github.com/fentz26/pgxdash/internal/service"
)

var (
	patientFile string
	concurrency int
	outPath     string
	jsonldPath  string
	plainOutput bool
)

var runCmd = &cobra.Command{
	Use:   "run GENE...",
	Short: "Analyze genes and print progress as it happens",
	Example: `  pgxdash run CYP2D6 CYP2C19 TPMT
  pgxdash run CYP2D6 --patient patient.yaml --out report.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	runCmd.Flags().BoolVar(&plainOutput, "plain", false, "Disable colored output")
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&patientFile, "patient", "", "Patient profile YAML file")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Genes analyzed at once (0 = automatic)")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the report as JSON to this file")
	cmd.Flags().StringVar(&jsonldPath, "jsonld", "", "Write the knowledge graph as JSON-LD to this file")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req, err := buildRequest(args)
	if err != nil {
		return err
	}

	svc, st, err := openService(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	renderer := progress.NewTextRenderer(out, plainOutput)
	rep, err := svc.Execute(ctx, req, func(up progress.Update) {
		if up.Render {
			renderer.Render(up.Snapshot, up.Pending)
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	printSummary(out, rep)
	if err := writeOutputs(rep, req.Patient); err != nil {
		return err
	}
	return runError(rep)
}

func buildRequest(genes []string) (service.RunRequest, error) {
	req := service.RunRequest{Genes: genes, Concurrency: concurrency}
	if patientFile != "" {
		p, err := loadPatient(patientFile)
		if err != nil {
			return req, err
		}
		req.Patient = p
	}
	return req, nil
}

func loadPatient(path string) (*models.PatientContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patient file: %w", err)
	}
	var p models.PatientContext
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse patient file %s: %w", path, err)
	}
	return &p, nil
}

func writeOutputs(rep *models.MultiGeneReport, patient *models.PatientContext) error {
	if outPath != "" {
		if err := writeFile(outPath, func(w io.Writer) error { return report.WriteJSON(w, rep) }); err != nil {
			return err
		}
	}
	if jsonldPath != "" {
		if err := writeFile(jsonldPath, func(w io.Writer) error { return report.WriteJSONLD(w, rep, patient) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func printSummary(w io.Writer, rep *models.MultiGeneReport) {
	fmt.Fprintf(w, "Run:      %s\n", rep.RunID)
	fmt.Fprintf(w, "Status:   %s", rep.OverallStatus)
	if rep.Cancelled {
		fmt.Fprint(w, " (cancelled)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Genes:    %d succeeded, %d failed\n", rep.Summary.Succeeded, rep.Summary.Failed)
	fmt.Fprintf(w, "Variants: %d\n", rep.Summary.Variants)
	if len(rep.Summary.Drugs) > 0 {
		fmt.Fprintf(w, "Drugs:    %s\n", strings.Join(rep.Summary.Drugs, ", "))
	}
	if rep.Summary.Interactions > 0 {
		fmt.Fprintf(w, "Interactions with current medications: %d\n", rep.Summary.Interactions)
		fmt.Fprintf(w, "Alerts:   %d actionable, %d informative\n", rep.Summary.ActionableAlerts, rep.Summary.InformativeAlerts)
	}
	for _, f := range rep.Failures() {
		fmt.Fprintf(w, "  %-10s %s: %s\n", f.Gene, f.Kind, f.Detail)
	}
}

// runError turns an unsuccessful report into a non-zero exit.
func runError(rep *models.MultiGeneReport) error {
	switch {
	case rep.Cancelled:
		return errors.New("run cancelled")
	case rep.OverallStatus == models.OverallAllFailed:
		return errors.New("all genes failed")
	}
	return nil
}
