package dataset

import (
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/textutil"
)

// loadPDF extracts text page by page. Pages that yield no text are skipped
// with a warning; a document with no extractable text at all is an error.
func loadPDF(path string, logger *observability.Logger) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnprocessable, "PDF file could not be opened", err)
	}
	defer f.Close()

	var pages []string
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			logger.Warn().Str("path", path).Int("page", i).Msg("Empty PDF page")
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Int("page", i).Msg("Failed to extract PDF page")
			continue
		}

		// Sanitization happens per page so blank pages drop cleanly.
		sanitized := textutil.Sanitize(text)
		if sanitized == "" {
			logger.Warn().Str("path", path).Int("page", i).Msg("Empty PDF page")
			continue
		}
		pages = append(pages, sanitized)
	}

	if len(pages) == 0 {
		return "", apperr.New(apperr.KindUnprocessable, "PDF file does not contain extractable text")
	}

	logger.Info().Int("pages", len(pages)).Str("path", path).Msg("Loaded PDF dataset")
	return strings.Join(pages, "\n\n"), nil
}
