package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/types"
)

const maxCellWidth = 40

// writeTable renders v as an ASCII table. It returns false for values that
// have no tabular form.
func writeTable(w io.Writer, v interface{}) (bool, error) {
	switch v := v.(type) {
	case *engine.Response:
		return true, batchTable(w, v.Result)
	case *engine.SuggestResponse:
		return true, suggestionTable(w, v)
	case *engine.ClusterResponse:
		return true, clusterTable(w, v)
	case []types.OperationType:
		table := tablewriter.NewWriter(w)
		table.Header("#", "Operation")
		for i, op := range v {
			_ = table.Append([]string{strconv.Itoa(i + 1), string(op)})
		}
		return true, table.Render()
	default:
		return false, nil
	}
}

func batchTable(w io.Writer, result *types.BatchResult) error {
	if result == nil {
		_, err := fmt.Fprintln(w, "No operations ran.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "Operation", "Status", "Entity", "Attempts", "Error")

	rows := make([][]string, result.Summary.Total)
	for _, item := range result.Successful {
		rows[item.Index] = []string{strconv.Itoa(item.Index + 1), string(item.Type), "succeeded", item.EntityID, strconv.Itoa(item.Attempts), ""}
	}
	for _, item := range result.Failed {
		rows[item.Index] = []string{strconv.Itoa(item.Index + 1), string(item.Type), string(item.Kind), "", strconv.Itoa(item.Attempts), truncate(item.Error, maxCellWidth)}
	}
	for _, row := range rows {
		if row != nil {
			_ = table.Append(row)
		}
	}

	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nTotal: %d, succeeded: %d, failed: %d (%s, %s)\n",
		result.Summary.Total, result.Summary.Successful, result.Summary.Failed,
		result.Summary.Mode, result.Summary.Duration().Round(time.Millisecond))
	return err
}

func suggestionTable(w io.Writer, resp *engine.SuggestResponse) error {
	if len(resp.Suggestions) == 0 {
		_, err := fmt.Fprintln(w, resp.Text)
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "ID", "Title", "Kind", "Score", "Strategy")
	for i, s := range resp.Suggestions {
		_ = table.Append([]string{
			strconv.Itoa(i + 1),
			s.Entity.ID,
			truncate(s.Entity.Title, maxCellWidth),
			string(s.Entity.Kind),
			strconv.FormatFloat(s.Score, 'f', 1, 64),
			s.Strategy,
		})
	}
	return table.Render()
}

func clusterTable(w io.Writer, resp *engine.ClusterResponse) error {
	if len(resp.Groups) == 0 {
		_, err := fmt.Fprintln(w, resp.Text)
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Group", "Size", "Titles")
	for i, group := range resp.Groups {
		titles := make([]string, 0, len(group))
		for _, e := range group {
			titles = append(titles, e.Title)
		}
		_ = table.Append([]string{strconv.Itoa(i + 1), strconv.Itoa(len(group)), truncate(strings.Join(titles, ", "), 2*maxCellWidth)})
	}
	return table.Render()
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
