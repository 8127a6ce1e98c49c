package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/domain/workflow"
	"github.com/clinicflow/clinicflow/internal/platform/notification"
	"github.com/clinicflow/clinicflow/internal/storage"
)

// queueCmd prints the live queues straight from the store.
func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show clinic queues",
	}

	add := func(use, short string, fn func(ctx context.Context, w io.Writer, pr *workflow.Projections) error) {
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				st, err := storage.Open(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer st.Close()
				return fn(cmd.Context(), cmd.OutOrStdout(), workflow.NewProjections(st))
			},
		})
	}

	add("waiting", "Tests waiting or in progress, by priority", printWaitingTests)
	add("registered", "Registered patients with no tests assigned", func(ctx context.Context, w io.Writer, pr *workflow.Projections) error {
		ps, err := pr.RegisteredAwaitingTests(ctx)
		if err != nil {
			return err
		}
		return printPatients(w, ps)
	})
	add("doctor", "Patients in the doctor's queue", func(ctx context.Context, w io.Writer, pr *workflow.Projections) error {
		ps, err := pr.DoctorQueue(ctx)
		if err != nil {
			return err
		}
		return printPatients(w, ps)
	})
	add("bills", "Pending bills, by priority", printPendingBills)
	add("metrics", "Dashboard summary", printDashboard)
	add("activity", "Latest audit entries", printActivity)
	return cmd
}

func printWaitingTests(ctx context.Context, w io.Writer, pr *workflow.Projections) error {
	tests, err := pr.WaitingTests(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(tests))
	for _, t := range tests {
		rows = append(rows, []string{
			strconv.FormatInt(t.TokenNumber, 10),
			t.UHID,
			t.PatientName,
			string(t.PriorityTier),
			string(t.Type),
			string(t.Status),
			strconv.Itoa(t.ExpectedMinutes),
		})
	}
	_, err = fmt.Fprintln(w, renderTable(
		[]string{"Token", "UHID", "Name", "Priority", "Test", "Status", "Minutes"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	return err
}

func printPatients(w io.Writer, ps []*patient.Patient) error {
	rows := make([][]string, 0, len(ps))
	for _, p := range ps {
		rows = append(rows, []string{
			strconv.FormatInt(p.TokenNumber, 10),
			p.UHID,
			p.Name,
			string(p.PriorityTier),
			p.State(),
		})
	}
	_, err := fmt.Fprintln(w, renderTable(
		[]string{"Token", "UHID", "Name", "Priority", "State"},
		rows,
		[]columnAlignment{alignRight},
	))
	return err
}

func printPendingBills(ctx context.Context, w io.Writer, pr *workflow.Projections) error {
	bills, err := pr.PendingBills(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(bills))
	for _, b := range bills {
		rows = append(rows, []string{
			strconv.FormatInt(b.TokenNumber, 10),
			b.UHID,
			b.PatientName,
			string(b.PriorityTier),
			notification.FormatAmount(b.Amount),
		})
	}
	_, err = fmt.Fprintln(w, renderTable(
		[]string{"Token", "UHID", "Name", "Priority", "Amount"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
	))
	return err
}

func printDashboard(ctx context.Context, w io.Writer, pr *workflow.Projections) error {
	d, err := pr.Metrics(ctx)
	if err != nil {
		return err
	}

	rows := [][]string{{"patients", strconv.Itoa(d.TotalPatients)}}
	for _, s := range patient.Stages {
		rows = append(rows, []string{"  " + string(s), strconv.Itoa(d.PatientsByStage[s])})
	}
	rows = append(rows,
		[]string{"pending bills", strconv.Itoa(d.PendingBills)},
		[]string{"pending amount", notification.FormatAmount(d.PendingAmount)},
		[]string{"revenue", notification.FormatAmount(d.TotalRevenue)},
	)

	for _, m := range slices.Sorted(maps.Keys(d.RevenueByMode)) {
		rows = append(rows, []string{"  " + string(m), notification.FormatAmount(d.RevenueByMode[m])})
	}

	_, err = fmt.Fprintln(w, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
	return err
}

func printActivity(ctx context.Context, w io.Writer, pr *workflow.Projections) error {
	entries, err := pr.RecentActivity(ctx, 20)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Timestamp.Local().Format(time.DateTime), e.ActorID, e.Action})
	}
	_, err = fmt.Fprintln(w, renderTable([]string{"Time", "Actor", "Action"}, rows, nil))
	return err
}
