package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/podgate/podgate/internal/ledger"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent resource operations",
		Long: `Show the most recent resource operations recorded in the local history
database. With --prune, first delete entries older than history.retention_days.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "number of entries to show")
	cmd.Flags().Bool("prune", false, "delete entries older than the retention period")

	return cmd
}

// historyEntry is the JSON schema for one `history --json` entry.
type historyEntry struct {
	Time   time.Time `json:"time"`
	Op     string    `json:"op"`
	Method string    `json:"method"`
	URI    string    `json:"uri"`
	Status int       `json:"status"`
	Error  string    `json:"error,omitempty"`
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	prune, _ := cmd.Flags().GetBool("prune")

	if !resolvedCfg.HistoryEnabled {
		return fmt.Errorf("history is disabled (history.enabled = false in %s)", resolvedCfg.ConfigPath)
	}

	store, err := ledger.Open(ctx, resolvedCfg.HistoryDB, buildLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	if prune && resolvedCfg.HistoryRetention > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-resolvedCfg.HistoryRetention))
		if err != nil {
			return err
		}

		statusf("Pruned %d entries.\n", n)
	}

	recent, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()

	if flagJSON {
		out := make([]historyEntry, 0, len(recent))
		for _, e := range recent {
			out = append(out, historyEntry{Time: e.Time, Op: e.Op, Method: e.Method, URI: e.URI, Status: e.Status, Error: e.Err})
		}

		return printJSON(w, out)
	}

	if len(recent) == 0 {
		statusf("No recorded operations.\n")
		return nil
	}

	printTable(w, []string{"TIME", "METHOD", "STATUS", "URI", "ERROR"}, historyRows(recent))

	return nil
}

func historyRows(entries []ledger.Entry) [][]string {
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		status := "-"
		if e.Status != 0 {
			status = strconv.Itoa(e.Status)
		}

		rows = append(rows, []string{formatTime(e.Time), e.Method, status, e.URI, e.Err})
	}

	return rows
}
