package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Export writes entries to w in the requested format.
func Export(w io.Writer, format ExportFormat, entries []*Entry) error {
	switch format {
	case ExportJSON:
		return exportJSON(w, entries)
	case ExportCSV:
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	if f == ExportCSV {
		return "text/csv"
	}
	return "application/json"
}

func exportJSON(w io.Writer, entries []*Entry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode entries: %w", err)
	}
	return nil
}

func exportCSV(w io.Writer, entries []*Entry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"id", "user_id", "role", "action", "performed_by", "performed_at", "department_id", "reason"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		departmentID := ""
		if e.DepartmentID != nil {
			departmentID = strconv.FormatInt(*e.DepartmentID, 10)
		}
		record := []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.UserID, 10),
			e.Role,
			e.Action,
			strconv.FormatInt(e.PerformedBy, 10),
			e.PerformedAt.Format(time.RFC3339),
			departmentID,
			e.Reason,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
