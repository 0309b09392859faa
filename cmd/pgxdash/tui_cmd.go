package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fentz26/pgxdash/internal/models"
	"github.com/fentz26/pgxdash/internal/service"
	"github.com/fentz26/pgxdash/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui GENE...",
	Short: "Analyze genes in the interactive dashboard",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTUI,
}

func init() {
	addRunFlags(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
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

	app := tui.New(ctx, func(ctx context.Context, obs service.Observer) (*models.MultiGeneReport, error) {
		return svc.Execute(ctx, req, obs)
	})
	rep, err := app.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	if rep == nil {
		return nil
	}

	printSummary(cmd.OutOrStdout(), rep)
	return writeOutputs(rep, req.Patient)
}
