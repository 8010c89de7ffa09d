// Package cli provides output helpers for the storyhook command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/storyhook/internal/models"
	"github.com/hyperjump/storyhook/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to a format. Unknown values fall back to text.
func ParseOutputFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

// WriteImportResult writes the result of a single import.
func WriteImportResult(w io.Writer, res *models.ImportResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	verb := "Created"
	if res.Updated {
		verb = "Updated"
	}
	fmt.Fprintf(w, "%s record %d from %s/%s\n", verb, res.RecordID, res.ProjectID, res.DocumentID)
	if res.EditURL != "" {
		fmt.Fprintf(w, "Edit: %s\n", res.EditURL)
	}
	return nil
}

// WriteSearchResults writes keyword search hits for query.
func WriteSearchResults(w io.Writer, query string, hits []models.SearchHit, format OutputFormat) error {
	if format == OutputJSON {
		if hits == nil {
			hits = []models.SearchHit{}
		}
		return writeJSON(w, struct {
			Query   string             `json:"query"`
			Results []models.SearchHit `json:"results"`
		}{query, hits})
	}
	fmt.Fprintf(w, "\nFound %d records for %q\n\n", len(hits), query)
	for i, hit := range hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Status: %s\n", i+1, hit.Score, hit.Status)
		fmt.Fprintf(w, "ID: %d\n", hit.RecordID)
		if hit.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", utils.Truncate(hit.Title, 120))
		}
		if hit.EditURL != "" {
			fmt.Fprintf(w, "Edit: %s\n", hit.EditURL)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteConnection writes a stored webhook connection.
func WriteConnection(w io.Writer, conn *models.Connection, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, conn)
	}
	fmt.Fprintf(w, "Identity: %s\n", conn.Identity)
	if conn.Email != "" {
		fmt.Fprintf(w, "Email:    %s\n", conn.Email)
	}
	fmt.Fprintf(w, "Target:   %s\n", conn.TargetID)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
