package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// eventRecord mirrors otel.Event for JSON decoding.
// We decode from JSONL rather than importing otel to keep this
// subcommand usable even if the event schema evolves.
type eventRecord struct {
	Time       time.Time      `json:"t"`
	Level      string         `json:"level"`
	Kind       string         `json:"kind"`
	Comp       string         `json:"comp"`
	SessionID  string         `json:"session_id"`
	RequestID  string         `json:"rid"`
	Generation uint64         `json:"gen"`
	DurMs      float64        `json:"dur_ms"`
	Count      int            `json:"count"`
	Language   string         `json:"lang"`
	ItemID     string         `json:"item"`
	Err        string         `json:"err"`
	Msg        string         `json:"msg"`
	Extra      map[string]any `json:"extra"`
}

// eventsOptions holds flags for the events command.
type eventsOptions struct {
	*rootOptions
	Tail    int
	Follow  bool
	Kind    string
	Level   string
	Comp    string
	RID     string
	RawJSON bool
}

// levelRank returns a numeric rank for filtering (higher = more severe).
func levelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 0
	}
}

func newEventsCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &eventsOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "JSONL event log viewer",
		Long: `Show the structured event log written by feedcard.

Example:
  feedcard events --tail 20 --kind fetch
  feedcard events -f --level warn`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Tail, "tail", 50, "number of recent lines to show")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "follow mode (like tail -f)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter by event kind prefix (e.g. 'fetch')")
	cmd.Flags().StringVar(&opts.Level, "level", "", "minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.Comp, "comp", "", "filter by component name")
	cmd.Flags().StringVar(&opts.RID, "rid", "", "filter by fetch request ID")
	cmd.Flags().BoolVar(&opts.RawJSON, "json", false, "output raw JSON lines")
	return cmd
}

func runEvents(cmd *cobra.Command, opts *eventsOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logPath := cfg.EventLogPath()

	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("event log not found at %s (run feedcard first): %w", logPath, err)
	}
	defer f.Close()

	match := opts.matcher()
	out := cmd.OutOrStdout()

	for _, l := range readTailLines(f, opts.Tail, match) {
		fmt.Fprintln(out, opts.format(l.ev, l.raw))
	}
	if !opts.Follow {
		return nil
	}
	return followEvents(cmd.Context(), f, out, match, opts.format)
}

func (o *eventsOptions) matcher() func(eventRecord) bool {
	minLevel := levelRank(o.Level)
	return func(ev eventRecord) bool {
		if o.Kind != "" && !strings.HasPrefix(ev.Kind, o.Kind) {
			return false
		}
		if o.Level != "" && levelRank(ev.Level) < minLevel {
			return false
		}
		if o.Comp != "" && ev.Comp != o.Comp {
			return false
		}
		if o.RID != "" && ev.RequestID != o.RID {
			return false
		}
		return true
	}
}

func (o *eventsOptions) format(ev eventRecord, raw []byte) string {
	if o.RawJSON {
		return string(raw)
	}
	ts := ev.Time.Format("15:04:05.000")
	lvl := strings.ToUpper(ev.Level)
	if lvl == "" {
		lvl = "?"
	}

	parts := []string{fmt.Sprintf("%s %-5s [%-7s] %-16s", ts, lvl, ev.Comp, ev.Kind)}

	if ev.Msg != "" {
		parts = append(parts, "- "+ev.Msg)
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Generation > 0 {
		parts = append(parts, fmt.Sprintf("gen=%d", ev.Generation))
	}
	if ev.Language != "" {
		parts = append(parts, "lang="+ev.Language)
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.ItemID != "" {
		parts = append(parts, "item="+ev.ItemID)
	}
	if ev.RequestID != "" {
		rid := ev.RequestID
		if len(rid) > 8 {
			rid = rid[:8]
		}
		parts = append(parts, "rid="+rid)
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}

	return strings.Join(parts, " ")
}

// followEvents polls f for appended lines until ctx is done.
func followEvents(ctx context.Context, f *os.File, out io.Writer, match func(eventRecord) bool, format func(eventRecord, []byte) string) error {
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		line = trimLine(line)
		if len(line) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if match(ev) {
			fmt.Fprintln(out, format(ev, line))
		}
	}
}

type parsedLine struct {
	ev  eventRecord
	raw []byte
}

// readTailLines reads r and returns the last n lines matching the filter.
func readTailLines(r io.Reader, n int, match func(eventRecord) bool) []parsedLine {
	scanner := bufio.NewScanner(r)
	// Allow large lines (some events may have big Extra maps)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	var ring []parsedLine
	if n > 0 {
		ring = make([]parsedLine, 0, n)
	}

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(raw, &ev) != nil {
			continue
		}
		if !match(ev) || n <= 0 {
			continue
		}
		// Make a copy of raw since scanner reuses the buffer
		rawCopy := make([]byte, len(raw))
		copy(rawCopy, raw)

		if len(ring) < n {
			ring = append(ring, parsedLine{ev: ev, raw: rawCopy})
		} else {
			copy(ring, ring[1:])
			ring[n-1] = parsedLine{ev: ev, raw: rawCopy}
		}
	}

	return ring
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func durPrecision(ms float64) int {
	if ms >= 100 {
		return 0
	}
	if ms >= 1 {
		return 1
	}
	return 2
}
