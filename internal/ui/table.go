package ui

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"discover/pkg/resource"
)

// Table wraps tabwriter for consistent styling.
type Table struct {
	writer  *tabwriter.Writer
	headers []string
}

// NewTable creates a table writing to w.
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{
		writer:  tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
		headers: headers,
	}
}

// AddRow adds a row to the table. The header row is written before the first one.
func (t *Table) AddRow(row ...string) {
	if t.headers != nil {
		headerRow := make([]string, len(t.headers))
		for i, h := range t.headers {
			headerRow[i] = Bold(strings.ToUpper(h))
		}
		fmt.Fprintln(t.writer, strings.Join(headerRow, "\t"))
		t.headers = nil
	}
	fmt.Fprintln(t.writer, strings.Join(row, "\t"))
}

// Render flushes the table.
func (t *Table) Render() {
	t.writer.Flush()
}

// Truncate shortens s to n runes with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// Size renders a byte count, or "-" when unknown.
func Size(n uint64) string {
	if n == 0 {
		return "-"
	}
	return humanize.Bytes(n)
}

// PrintResources prints resources in a table, one row per resource.
func PrintResources(w io.Writer, items []resource.Snapshot) {
	if len(items) == 0 {
		Muted.Fprintln(w, "No resources found")
		return
	}

	t := NewTable(w, "backend", "name", "version", "state", "size", "summary")
	for _, it := range items {
		t.AddRow(
			BackendName.Sprint("["+it.Backend+"/"+it.Scope+"]"),
			ResourceName.Sprint(it.DisplayName),
			ResourceVersion.Sprint(it.Version),
			StateLabel(it.State),
			Size(it.Size),
			Truncate(it.Comment, 50),
		)
	}
	t.Render()
}

// PrintResourceInfo prints every known field of one resource.
func PrintResourceInfo(w io.Writer, it resource.Snapshot) {
	Header.Fprintf(w, "\n%s\n", it.DisplayName)

	printField(w, "Locator", it.URL)
	printField(w, "Name", it.Name)
	printField(w, "Kind", it.Kind)
	printField(w, "Backend", it.Backend)
	printField(w, "Scope", it.Scope)
	printField(w, "Origin", it.Origin)
	printField(w, "Branch", it.Branch)
	printField(w, "State", StateLabel(it.State))
	printField(w, "Summary", it.Comment)
	printField(w, "Version", it.Version)
	printField(w, "Architecture", it.Arch)
	printField(w, "Commit", it.Commit)
	printField(w, "Runtime", it.Runtime)
	if it.DownloadSize > 0 {
		printField(w, "Download size", humanize.Bytes(it.DownloadSize))
	}
	if it.InstalledSize > 0 {
		printField(w, "Installed size", humanize.Bytes(it.InstalledSize))
	}
}

// printField prints a single field, skipping empty values.
func printField(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %s: %s\n", Cyan(label), value)
}
