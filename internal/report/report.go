// Package report renders reconciliation results for operators.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/szaher/guildkeeper/internal/reconcile"
	"github.com/szaher/guildkeeper/internal/state"
)

// Summary renders a run result as plain text.
func Summary(w io.Writer, res *reconcile.Result) {
	title := "Setup"
	if res.DryRun {
		title = "Setup (dry run)"
	}
	fmt.Fprintf(w, "%s for guild %s\n", title, res.GuildID)

	kinds := []struct {
		label string
		out   reconcile.Outcome
	}{
		{"Roles", res.Roles},
		{"Categories", res.Categories},
		{"Channels", res.Channels},
	}
	for _, k := range kinds {
		if res.DryRun {
			fmt.Fprintf(w, "  %-11s %d to create, %d unchanged\n", k.label+":", len(k.out.Planned), len(k.out.Skipped))
		} else {
			fmt.Fprintf(w, "  %-11s %d created, %d adopted, %d skipped, %d failed\n", k.label+":",
				len(k.out.Created), len(k.out.Adopted), len(k.out.Skipped), len(k.out.Failed))
		}
		writeNames(w, "+", k.out.Created)
		writeNames(w, "=", k.out.Adopted)
		writeNames(w, "?", k.out.Planned)
		writeNames(w, "!", k.out.Failed)
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings:\n")
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn)
		}
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, e := range res.Errors {
			Hint(w, e)
		}
	}
	if res.General != nil {
		fmt.Fprintf(w, "\nRun failed: %v\n", res.General)
	}
	if !res.DryRun && res.General == nil {
		fmt.Fprintf(w, "\nSetup status: %s\n", res.SetupStatus)
	}
}

// Hint renders one classified error with its remediation steps.
func Hint(w io.Writer, e reconcile.EntityError) {
	fmt.Fprintf(w, "  %s: %s\n", e.Context, e.Hint.Title)
	fmt.Fprintf(w, "    %s\n", e.Message)
	if e.Hint.Message != "" {
		fmt.Fprintf(w, "    %s\n", e.Hint.Message)
	}
	for _, s := range e.Hint.Suggestions {
		fmt.Fprintf(w, "    * %s\n", s)
	}
}

func writeNames(w io.Writer, marker string, names []string) {
	for _, n := range names {
		fmt.Fprintf(w, "      %s %s\n", marker, n)
	}
}

// JSON renders a run result as indented JSON.
func JSON(w io.Writer, res *reconcile.Result) error {
	type jsonResult struct {
		*reconcile.Result
		General string `json:"general,omitempty"`
	}
	out := jsonResult{Result: res}
	if res.General != nil {
		out.General = res.General.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Status renders a guild record as a table.
func Status(w io.Writer, rec *state.GuildRecord) {
	fmt.Fprintf(w, "Guild: %s\n", rec.GuildID)
	fmt.Fprintf(w, "Setup status: %s\n", rec.SetupStatus)
	if !rec.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated: %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-10s %-24s %-10s %-22s %s\n", "KIND", "NAME", "STATUS", "ID", "DETAIL")
	fmt.Fprintf(w, "%-10s %-24s %-10s %-22s %s\n", "----", "----", "------", "--", "------")
	for _, name := range sorted(rec.Roles) {
		r := rec.Roles[name]
		detail := ""
		if r.Position > 0 {
			detail = fmt.Sprintf("position %d", r.Position)
		}
		fmt.Fprintf(w, "%-10s %-24s %-10s %-22s %s\n", "role", name, r.Status, dash(r.ID), detail)
	}
	for _, name := range sorted(rec.Categories) {
		c := rec.Categories[name]
		fmt.Fprintf(w, "%-10s %-24s %-10s %-22s\n", "category", name, c.Status, dash(c.ID))
	}
	for _, name := range sorted(rec.Channels) {
		c := rec.Channels[name]
		detail := c.Type
		if c.CategoryID != "" {
			detail = strings.TrimSpace(detail + " in " + c.CategoryID)
		}
		fmt.Fprintf(w, "%-10s %-24s %-10s %-22s %s\n", "channel", name, c.Status, dash(c.ID), detail)
	}

	if len(rec.Errors) > 0 {
		fmt.Fprintf(w, "\nRecent errors:\n")
		for _, e := range rec.Errors {
			fmt.Fprintf(w, "  %s  %s  [%d] %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Context, e.Code, e.Message)
		}
	}
}

// Teardown renders a teardown result.
func Teardown(w io.Writer, res *reconcile.TeardownResult) {
	verb := "Reset"
	if res.DryRun {
		verb = "Would reset"
	}
	fmt.Fprintf(w, "%s %d entities for guild %s\n", verb, len(res.Reset), res.GuildID)
	for _, d := range res.Deleted {
		fmt.Fprintf(w, "  - deleted %s\n", d)
	}
	for _, k := range res.Kept {
		fmt.Fprintf(w, "  ! kept %s\n", k)
	}
	for _, e := range res.Errors {
		Hint(w, e)
	}
	switch {
	case res.Removed && res.DryRun:
		fmt.Fprintf(w, "Guild record would be removed.\n")
	case res.Removed:
		fmt.Fprintf(w, "Guild record removed.\n")
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sorted[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
