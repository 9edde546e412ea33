package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"docscan-backend/internal/analysis"
	"docscan-backend/internal/history"
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Upload an image and start an analysis",
		Long: `Upload an image and start analyzing it.

Without --wait the command returns as soon as the server accepted the
request and prints the request id. With --wait it blocks until the
result is delivered, the analysis fails or it is cancelled.

Examples:
  scanctl analyze receipt.png
  scanctl analyze --wait invoice.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := opts.client().analyze(cmd.Context(), args[0], wait)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), body)
			}
			var resp analysis.ExtractionsResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "request:  %s\n", resp.RequestID)
			fmt.Fprintf(out, "document: %s\n", resp.DocumentID)
			fmt.Fprintf(out, "status:   %s\n", resp.Status)
			printExtractions(out, resp.Extractions)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the analysis result")
	return cmd
}

func newCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running analysis",
		Long:  "Cancel the running analysis. Cancelling when nothing runs is not an error.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().cancel(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether an analysis is running and the last result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := opts.client().get(cmd.Context(), "/analysis", nil)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), body)
			}
			var st analysis.StateResponse
			if err := json.Unmarshal(body, &st); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			out := cmd.OutOrStdout()
			if st.Analyzing {
				fmt.Fprintf(out, "analyzing: %s\n", st.RequestID)
			} else {
				fmt.Fprintln(out, "idle")
			}
			if st.LastRequestID != "" {
				fmt.Fprintf(out, "last request: %s\n", st.LastRequestID)
			}
			if st.LastError != "" {
				fmt.Fprintf(out, "last error: %s\n", st.LastError)
			}
			printExtractions(out, st.LastResult)
			return nil
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		count     int
		showPings bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow analysis events",
		Long: `Print analysis events as the server publishes them.

Runs until interrupted, or until --count events were printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			seen := 0
			return opts.client().stream(cmd.Context(), func(ev sseEvent) bool {
				if ev.Name == "ping" && !showPings {
					return true
				}
				if opts.json {
					fmt.Fprintf(out, "%s %s\n", ev.Name, ev.Data)
				} else {
					fmt.Fprintln(out, describeEvent(ev))
				}
				seen++
				return count <= 0 || seen < count
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many events (0 = unlimited)")
	cmd.Flags().BoolVar(&showPings, "pings", false, "Also print keep-alive pings")
	return cmd
}

func describeEvent(ev sseEvent) string {
	var payload analysis.EventResponse
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil || payload.RequestID == "" {
		return fmt.Sprintf("%s %s", ev.Name, ev.Data)
	}
	line := fmt.Sprintf("%s %s", ev.Name, payload.RequestID)
	switch {
	case payload.Error != "":
		line += " error=" + strconv.Quote(payload.Error)
	case len(payload.Extractions) > 0:
		line += fmt.Sprintf(" extractions=%d", len(payload.Extractions))
	}
	return line
}

func newFeedbackCmd(opts *rootOptions) *cobra.Command {
	var (
		documentID string
		sets       []string
	)
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Send corrected extraction values",
		Long: `Send corrected extraction values for an analyzed document.

Without --document the feedback applies to the last analyzed document.

Examples:
  scanctl feedback --set amountToPay=43.00:EUR
  scanctl feedback --document 4f1c --set iban=DE89370400440532013000 --set bic=COBADEFFXXX`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			if err := opts.client().feedback(cmd.Context(), documentID, values); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d correction(s)\n", len(values))
			return nil
		},
	}
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "Remote document id")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Corrected value as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func parseAssignments(sets []string) (map[string]string, error) {
	values := make(map[string]string, len(sets))
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q, want name=value", s)
		}
		values[name] = value
	}
	return values, nil
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history [request-id]",
		Short: "List recorded analyses, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				body, err := client.get(cmd.Context(), "/analyses/"+url.PathEscape(args[0]), nil)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(out, body)
				}
				var rec history.RecordResponse
				if err := json.Unmarshal(body, &rec); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				printRecord(out, rec)
				printExtractions(out, rec.Extractions)
				return nil
			}

			query := url.Values{
				"limit":  {strconv.Itoa(limit)},
				"offset": {strconv.Itoa(offset)},
			}
			body, err := client.get(cmd.Context(), "/analyses", query)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(out, body)
			}
			var recs []history.RecordResponse
			if err := json.Unmarshal(body, &recs); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "no analyses recorded")
				return nil
			}
			for _, rec := range recs {
				printRecord(out, rec)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records")
	cmd.Flags().IntVar(&offset, "offset", 0, "Records to skip")
	return cmd
}

func printRecord(out io.Writer, rec history.RecordResponse) {
	line := fmt.Sprintf("%s  %-10s  %s", rec.ID, rec.Status, formatTime(rec.StartedAt))
	if rec.ErrorMessage != "" {
		line += "  " + rec.ErrorMessage
	}
	fmt.Fprintln(out, line)
}

func printExtractions(out io.Writer, extractions analysis.Extractions) {
	if len(extractions) == 0 {
		return
	}
	names := make([]string, 0, len(extractions))
	for name := range extractions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s = %s\n", name, extractions[name].Value)
	}
}

func printJSON(out io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, err = out.Write(body)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
