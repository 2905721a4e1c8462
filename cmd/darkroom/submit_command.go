package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"darkroom/internal/daemon"
	"darkroom/internal/jobs"
	"darkroom/internal/manifest"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		jobID        string
		preset       string
		tier         int
		quality      float64
		memoryMB     int64
		planPath     string
		manifestPath string
	)

	cmd := &cobra.Command{
		Use:   "submit [subject]",
		Short: "Submit an edit job, or a whole manifest of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifestPath != "" {
				if len(args) > 0 {
					return errors.New("pass either a subject or --manifest, not both")
				}
				return submitManifest(cmd, ctx, manifestPath)
			}

			if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
				return errors.New("subject is required (or pass --manifest)")
			}

			req := daemon.SubmitRequest{
				JobID:        jobID,
				Subject:      strings.TrimSpace(args[0]),
				Preset:       preset,
				PriorityTier: tier,
				QualityScore: quality,
				MemoryMB:     memoryMB,
			}
			if planPath != "" {
				plan, err := os.ReadFile(planPath)
				if err != nil {
					return fmt.Errorf("read edit plan: %w", err)
				}
				if !json.Valid(plan) {
					return fmt.Errorf("edit plan %s is not valid JSON", planPath)
				}
				req.EditPlan = json.RawMessage(plan)
			}

			return ctx.withClient(func(client *apiClient) error {
				resp, err := client.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Duplicate {
					fmt.Fprintf(out, "Job %s already submitted (%s)\n",
						resp.Job.JobID, statusLabel(resp.Job.Status))
					return nil
				}
				fmt.Fprintf(out, "Submitted job %s (tier %d)\n", resp.Job.JobID, resp.Job.PriorityTier)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&jobID, "id", "", "Idempotency key (generated when omitted)")
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "Edit preset name")
	cmd.Flags().IntVarP(&tier, "tier", "t", jobs.TierBatch, "Priority tier (1=urgent, 2=standard, 3=batch)")
	cmd.Flags().Float64VarP(&quality, "quality", "q", 0, "Curator quality score (0-5)")
	cmd.Flags().Int64VarP(&memoryMB, "memory", "m", 0, "Estimated working-set size in MB")
	cmd.Flags().StringVar(&planPath, "plan", "", "Path to a JSON edit plan")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to a YAML batch manifest")
	return cmd
}

func submitManifest(cmd *cobra.Command, ctx *commandContext, path string) error {
	subs, err := manifest.Load(path)
	if err != nil {
		return err
	}

	return ctx.withClient(func(client *apiClient) error {
		out := cmd.OutOrStdout()
		var submitted, duplicates int
		for _, sub := range subs {
			req := daemon.SubmitRequest{
				JobID:        sub.JobID,
				Subject:      sub.Subject,
				Preset:       sub.Preset,
				PriorityTier: sub.PriorityTier,
				QualityScore: sub.QualityScore,
				MemoryMB:     sub.MemoryMB,
			}
			if sub.EditPlanJSON != "" {
				req.EditPlan = json.RawMessage(sub.EditPlanJSON)
			}
			resp, err := client.Submit(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("submit %s: %w", sub.Subject, err)
			}
			if resp.Duplicate {
				duplicates++
				fmt.Fprintf(out, "skipped %s: already submitted as %s\n", sub.Subject, resp.Job.JobID)
				continue
			}
			submitted++
			fmt.Fprintf(out, "queued %s as %s\n", sub.Subject, resp.Job.JobID)
		}
		fmt.Fprintf(out, "Submitted %d job(s), %d duplicate(s)\n", submitted, duplicates)
		return nil
	})
}
