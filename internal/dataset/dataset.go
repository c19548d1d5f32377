// Package dataset loads raw sources (CSV, JSON, PDF, websites) and turns
// them into ordered text chunks ready for embedding.
package dataset

import (
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
)

// Type identifies a supported dataset source.
type Type string

const (
	TypeCSV     Type = "csv"
	TypeJSON    Type = "json"
	TypePDF     Type = "pdf"
	TypeWebsite Type = "website"
)

// supportedTypes is the set of dataset types the loader accepts.
var supportedTypes = map[Type]struct{}{
	TypeCSV:     {},
	TypeJSON:    {},
	TypePDF:     {},
	TypeWebsite: {},
}

// ParseType normalizes and validates a dataset type string.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := supportedTypes[t]; !ok {
		return "", apperr.Newf(apperr.KindUnsupported, "Unsupported dataset type: %s", t)
	}
	return t, nil
}

// Chunk is one ordered slice of dataset text.
type Chunk struct {
	Order int    `json:"order"`
	Text  string `json:"text"`
}

// Dataset describes an ingestable dataset with its chunks.
type Dataset struct {
	ID     string  `json:"dataset_id"`
	Label  string  `json:"dataset_label"`
	Type   string  `json:"dataset_type"`
	Chunks []Chunk `json:"chunks"`
}
