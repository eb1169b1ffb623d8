// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ManuGH/ztc/internal/audit"
	"github.com/ManuGH/ztc/internal/persistence/sqlite"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the approval audit trail",
	}
	cmd.AddCommand(newAuditVerifyCmd(), newAuditShowCmd())
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Check the hash chain of a JSONL audit log or the integrity of a SQLite mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			isDB, err := sniffSQLite(args[0])
			if err != nil {
				return err
			}
			if isDB {
				m, err := sqlite.ParseCheckMode(mode)
				if err != nil {
					return err
				}
				if err := sqlite.CheckFile(cmd.Context(), args[0], m); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok: sqlite %s check passed\n", m)
				return nil
			}
			res, err := audit.Verify(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d records, last seq %d, head %s\n", res.Records, res.LastSeq, res.LastHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "check", string(sqlite.CheckFull), "SQLite integrity check: quick or full")
	return cmd
}

func sniffSQLite(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	header := make([]byte, 16)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return sqlite.IsDatabaseFile(header[:n]), nil
}

func newAuditShowCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "show <sqlite-db>",
		Short: "List decisions stored in the SQLite audit mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := audit.OpenSQLite(args[0])
			if err != nil {
				return err
			}
			defer sink.Close()

			recs, err := sink.Records(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tTIME\tSESSION\tACTION\tKIND\tLEVEL\tDISPOSITION\tACTOR")
			for _, r := range recs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Seq, r.Timestamp.Format("2006-01-02T15:04:05Z07:00"), r.SessionID, r.ActionID, r.Kind, r.Level, r.Disposition, r.Actor)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "only records of this session")
	return cmd
}
