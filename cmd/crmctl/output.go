package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

// company holds the fields the table shows. PHONE and EMAIL are multi-value
// fields; only the first value is printed.
type company struct {
	ID      string          `json:"ID"`
	Title   string          `json:"TITLE"`
	Phone   json.RawMessage `json:"PHONE"`
	Email   json.RawMessage `json:"EMAIL"`
	Address string          `json:"ADDRESS"`
}

// firstValue returns the first VALUE of a multi-field, or the field itself
// when it is a plain string.
func firstValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var values []struct {
		Value string `json:"VALUE"`
	}
	if err := json.Unmarshal(raw, &values); err == nil {
		if len(values) > 0 {
			return values[0].Value
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// filterCompanies keeps records whose TITLE contains query, case-insensitively.
func filterCompanies(records []json.RawMessage, query string) []json.RawMessage {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return records
	}
	var out []json.RawMessage
	for _, rec := range records {
		var c company
		if json.Unmarshal(rec, &c) != nil {
			continue
		}
		if strings.Contains(strings.ToLower(c.Title), query) {
			out = append(out, rec)
		}
	}
	return out
}

func writeTable(w io.Writer, records []json.RawMessage) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPHONE\tEMAIL\tADDRESS")
	for _, rec := range records {
		var c company
		if err := json.Unmarshal(rec, &c); err != nil {
			return fmt.Errorf("decoding company: %w", err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Title, firstValue(c.Phone), firstValue(c.Email), c.Address)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, records []json.RawMessage, total int) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"companies": records, "total": total})
}
