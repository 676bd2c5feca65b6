package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stupiduntilnot/gpttg/internal/db"
)

type eventsOptions struct {
	dbPath    string
	eventID   int64
	maxDepth  int
	jsonOut   bool
	noPayload bool
	summary   bool
}

func newEventsCmd(v *viper.Viper) *cobra.Command {
	var opts eventsOptions
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event journal of the latest (or a given) bot run as a tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dbPath == "" {
				opts.dbPath = v.GetString("db.path")
			}
			if opts.dbPath == "" {
				return fmt.Errorf("no journal configured; pass --db or set GPTTG_DB_PATH")
			}
			return runEvents(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite journal path (defaults to db.path)")
	cmd.Flags().Int64Var(&opts.eventID, "id", 0, "show the subtree of a specific event id")
	cmd.Flags().IntVarP(&opts.maxDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "output JSON")
	cmd.Flags().BoolVar(&opts.noPayload, "no-payload", false, "hide payload details")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "print event counts by type instead of the tree")
	return cmd
}

func runEvents(w io.Writer, opts eventsOptions) error {
	database, err := db.OpenReadOnly(opts.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	rootID := opts.eventID
	if rootID == 0 {
		rootID, err = db.LatestRoot(database)
		if err != nil {
			return err
		}
	}

	if opts.summary {
		counts, err := db.CountByType(database, rootID)
		if err != nil {
			return err
		}
		printSummary(w, rootID, counts)
		return nil
	}

	events, err := db.Subtree(database, rootID)
	if err != nil {
		return err
	}
	root := db.BuildTree(events, rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", rootID)
	}

	if opts.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSONEvent(root, 1, opts.maxDepth, opts.noPayload))
	}
	printTree(w, root, "", true, 1, opts.maxDepth, opts.noPayload)
	return nil
}

func printSummary(w io.Writer, rootID int64, counts map[string]int) {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	fmt.Fprintf(w, "run %d\n", rootID)
	for _, t := range types {
		fmt.Fprintf(w, "  %-20s %d\n", t, counts[t])
	}
}

// printTree renders the event tree using box-drawing characters.
func printTree(w io.Writer, ev *db.Event, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatEvent(ev, noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else {
		fmt.Fprintln(w, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}

	if maxDepth > 0 && depth >= maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(w, child, childPrefix, i == len(ev.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatEvent renders one line: [id] timestamp  event_type  key=value ...
func formatEvent(ev *db.Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s  %s", ev.ID, ts, ev.EventType)

	if noPayload {
		return b.String()
	}
	m := decodePayload(ev)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s=%s", k, formatValue(m[k]))
	}
	return b.String()
}

func decodePayload(ev *db.Event) map[string]any {
	if !ev.Payload.Valid || ev.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ev.Payload.String), &m); err != nil {
		return nil
	}
	return m
}

// formatValue converts a payload value to a display string, truncating long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q", val[:80]+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	EventType string      `json:"event_type"`
	Payload   any         `json:"payload,omitempty"`
	Children  []jsonEvent `json:"children,omitempty"`
}

func toJSONEvent(ev *db.Event, depth, maxDepth int, noPayload bool) jsonEvent {
	je := jsonEvent{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
	}
	if !noPayload {
		if m := decodePayload(ev); m != nil {
			je.Payload = m
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, maxDepth, noPayload))
	}
	return je
}
