package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/textutil"
)

// loadCSV converts each CSV record into a structured "Row N: header: value"
// line. The first non-blank row supplies headers; blank headers and cells
// beyond the header row fall back to positional column_<n> names.
func loadCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to read CSV file", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rawRows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnprocessable, "CSV file could not be parsed", err)
		}

		stripped := make([]string, len(record))
		hasContent := false
		for i, cell := range record {
			stripped[i] = strings.TrimSpace(cell)
			if stripped[i] != "" {
				hasContent = true
			}
		}
		if hasContent {
			rawRows = append(rawRows, stripped)
		}
	}

	if len(rawRows) == 0 {
		return nil, apperr.New(apperr.KindUnprocessable, "CSV file is empty")
	}

	headers := make([]string, len(rawRows[0]))
	for i, h := range rawRows[0] {
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		headers[i] = h
	}

	var structuredRows []string
	for index, row := range rawRows[1:] {
		var fields []string
		for columnIndex, value := range row {
			header := fmt.Sprintf("column_%d", columnIndex+1)
			if columnIndex < len(headers) {
				header = headers[columnIndex]
			}
			if value == "" {
				continue
			}
			fields = append(fields, header+": "+value)
		}

		if len(fields) == 0 {
			continue
		}

		rowText := fmt.Sprintf("Row %d: %s", index+1, strings.Join(fields, "; "))
		structuredRows = append(structuredRows, textutil.Sanitize(rowText))
	}

	if len(structuredRows) == 0 {
		return nil, apperr.New(apperr.KindUnprocessable, "CSV file does not contain meaningful rows")
	}

	return structuredRows, nil
}
