package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Herald/internal/domain"
)

var jobHeaders = []string{"ID", "TYPE", "STATUS", "SUBSCRIBER", "DIGEST", "ERROR", "CREATED"}

func jobRow(j JobResponse) []string {
	return []string{j.ID, j.Type, j.Status, j.SubscriberID, strconv.Itoa(j.DigestEvents), j.Error, j.CreatedAt}
}

// NewJobCmd создаёт группу команд для просмотра jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs",
	}

	cmd.AddCommand(
		newJobShowCmd(clientFn, outputFn),
		newJobListCmd(clientFn, outputFn),
	)

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := clientFn().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			outputFn().Print(jobHeaders, [][]string{jobRow(*job)}, job)
			return nil
		},
	}
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var transactionID, statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs of a transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status domain.JobStatus
			if statusFilter != "" {
				parsed, ok := domain.ParseJobStatus(strings.ToUpper(statusFilter))
				if !ok {
					return fmt.Errorf("unknown job status %q", statusFilter)
				}
				status = parsed
			}

			jobs, err := clientFn().ListJobs(cmd.Context(), transactionID, string(status))
			if err != nil {
				return err
			}

			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = jobRow(j)
			}

			outputFn().Print(jobHeaders, rows, jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&transactionID, "transaction", "", "Transaction ID")
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only jobs with this status (e.g. FAILED)")
	cmd.MarkFlagRequired("transaction")

	return cmd
}
