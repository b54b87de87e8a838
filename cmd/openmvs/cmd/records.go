/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/AdrianIt2306/OpenMVS/pkg/storage"
)

// recordsCmd represents the records command
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List catalogued job logs",
	Long: `List the job logs recorded in the catalog, newest first.

The catalog is held by the process running the spool pipeline; stop it or
use the API's /api/v1/records endpoint while it runs.

Examples:
  openmvs records
  openmvs records --job-name PAYROLL --limit 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireContainer(); err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		jobName, _ := cmd.Flags().GetString("job-name")
		jobID, _ := cmd.Flags().GetString("job-id")
		limit, _ := cmd.Flags().GetInt("limit")

		catalog, err := container.OpenCatalog(cfg)
		if err != nil {
			return fmt.Errorf("%w (is the spool pipeline running?)", err)
		}
		defer catalog.Close()

		entries, err := catalog.List(storage.Filter{JobName: jobName, JobID: jobID, Limit: limit})
		if err != nil {
			return err
		}
		renderRecords(cmd.OutOrStdout(), entries, time.Now())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.Flags().String("job-name", "", "Only records for this job name")
	recordsCmd.Flags().String("job-id", "", "Only records for this job id")
	recordsCmd.Flags().Int("limit", 50, "Maximum records to list, 0 for all")
}

func renderRecords(w io.Writer, entries []storage.Entry, now time.Time) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Job ID", "Job Name", "File", "Size", "Closed", "Complete"})
	for _, e := range entries {
		complete := "yes"
		if !e.Terminated {
			complete = "no"
		}
		tbl.AppendRow(table.Row{
			e.JobID,
			e.JobName,
			e.FileName,
			humanize.IBytes(uint64(e.Size)),
			humanize.RelTime(e.Closed, now, "ago", "from now"),
			complete,
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d records", len(entries))})
	tbl.Render()
}
