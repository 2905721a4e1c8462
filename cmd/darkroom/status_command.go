package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"darkroom/internal/orchestrator"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and governor status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func printStatus(cmd *cobra.Command, status orchestrator.Status) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		uptime := (time.Duration(status.UptimeSeconds) * time.Second).String()
		fmt.Fprintln(out, renderStatusLine("Running", statusOK, "up "+uptime, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Running", statusError, "stopped", colorize))
	}
	workers := fmt.Sprintf("%d of %d busy", status.ActiveWorkers, status.Workers)
	fmt.Fprintln(out, renderStatusLine("Workers", statusInfo, workers, colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(out, line)
	}
	queueRows := [][]string{
		{"Pending", strconv.Itoa(status.Queue.Pending)},
		{"Processing", strconv.Itoa(status.Queue.Processing)},
		{"Failed", strconv.Itoa(status.Queue.Failed)},
		{"Completed", strconv.Itoa(status.Queue.Completed)},
		{"Dead Letter", strconv.Itoa(status.Queue.DeadLetter)},
		{"Total", strconv.Itoa(status.Queue.Total)},
	}
	fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, queueRows,
		[]columnAlignment{alignLeft, alignRight}))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Governor", colorize) {
		fmt.Fprintln(out, line)
	}
	gov := status.Governor
	switch {
	case gov.Paused:
		fmt.Fprintln(out, renderStatusLine("Admission", statusError, "paused (thermal)", colorize))
	case gov.Throttled:
		fmt.Fprintln(out, renderStatusLine("Admission", statusWarn, "throttled (cpu)", colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Admission", statusOK, "open", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Concurrency", statusInfo,
		strconv.Itoa(gov.ConcurrencyLimit), colorize))
	fmt.Fprintln(out, renderStatusLine("CPU", statusInfo,
		fmt.Sprintf("%.1f%%", gov.CPUPercent), colorize))
	if gov.TempCelsius > 0 {
		fmt.Fprintln(out, renderStatusLine("Temperature", statusInfo,
			fmt.Sprintf("%.1f C", gov.TempCelsius), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Free memory", statusInfo,
		fmt.Sprintf("%d MB (%d MB reserved)", gov.FreeMemMB, gov.ReservedMemMB), colorize))
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show job database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				health, err := client.Health(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, health)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Database", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Path", statusInfo, health.DBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Readable", boolKind(health.DatabaseReadable), yesNo(health.DatabaseReadable), colorize))
				fmt.Fprintln(out, renderStatusLine("Integrity", boolKind(health.IntegrityCheck), yesNo(health.IntegrityCheck), colorize))
				fmt.Fprintln(out, renderStatusLine("Schema", statusInfo, health.SchemaVersion, colorize))
				fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, strconv.Itoa(health.TotalJobs), colorize))
				if health.Error != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, health.Error, colorize))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
