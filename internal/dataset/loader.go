package dataset

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/observability"
)

// Loader loads datasets from disk or remote sources and chunks their content.
type Loader struct {
	uploadsDir string
	logger     *observability.Logger
	fetcher    *websiteFetcher
}

// NewLoader creates a loader rooted at uploadsDir. The directory is created
// if missing. A nil httpClient gets the default website fetch timeout.
func NewLoader(uploadsDir string, logger *observability.Logger, httpClient *http.Client) (*Loader, error) {
	abs, err := filepath.Abs(uploadsDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "Uploads directory could not be resolved", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "Uploads directory could not be created", err)
	}

	return &Loader{
		uploadsDir: abs,
		logger:     logger,
		fetcher:    newWebsiteFetcher(logger, httpClient),
	}, nil
}

// UploadsDir returns the resolved uploads root.
func (l *Loader) UploadsDir() string {
	return l.uploadsDir
}

// LoadAndChunk loads data for the dataset type and returns ordered chunks.
// CSV datasets chunk per row; every other type goes through the sliding
// window.
func (l *Loader) LoadAndChunk(ctx context.Context, datasetType string, opts ChunkingOptions, filePath string, urls []string) ([]Chunk, error) {
	dt, err := ParseType(datasetType)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if dt == TypeWebsite {
		if len(urls) == 0 {
			return nil, apperr.New(apperr.KindValidation, "At least one URL is required for website datasets")
		}
		filtered := make([]string, 0, len(urls))
		for _, u := range urls {
			if trimmed := strings.TrimSpace(u); trimmed != "" {
				filtered = append(filtered, trimmed)
			}
		}
		if len(filtered) == 0 {
			return nil, apperr.New(apperr.KindValidation, "No valid URLs provided for website dataset")
		}

		text, err := l.fetcher.loadFromURLs(ctx, filtered)
		if err != nil {
			return nil, err
		}
		return ChunkText(text, opts)
	}

	resolved, err := l.resolveFilePath(filePath)
	if err != nil {
		return nil, err
	}

	switch dt {
	case TypeCSV:
		rows, err := loadCSV(resolved)
		if err != nil {
			return nil, err
		}
		chunks, err := rowsToChunks(rows)
		if err != nil {
			return nil, err
		}
		l.logger.Info().Int("rows", len(chunks)).Msg("Loaded CSV dataset")
		return chunks, nil
	case TypeJSON:
		text, err := loadJSON(resolved)
		if err != nil {
			return nil, err
		}
		return ChunkText(text, opts)
	case TypePDF:
		text, err := loadPDF(resolved, l.logger)
		if err != nil {
			return nil, err
		}
		return ChunkText(text, opts)
	}

	return nil, apperr.Newf(apperr.KindUnsupported, "Unsupported dataset type: %s", dt)
}

// MaterializeContent decodes inline base64 file content into a temporary
// file under the uploads root, with the extension implied by the dataset
// type. The caller removes the file when done.
func (l *Loader) MaterializeContent(content, datasetType string) (string, error) {
	dt, err := ParseType(datasetType)
	if err != nil {
		return "", err
	}

	var ext string
	switch dt {
	case TypeCSV:
		ext = ".csv"
	case TypeJSON:
		ext = ".json"
	case TypePDF:
		ext = ".pdf"
	default:
		return "", apperr.Newf(apperr.KindValidation, "Inline content is not supported for %s datasets", dt)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
	if err != nil {
		return "", apperr.New(apperr.KindValidation, "Dataset payload is invalid; provide base64 content")
	}
	if len(bytes.TrimSpace(decoded)) == 0 {
		return "", apperr.New(apperr.KindValidation, "Dataset content is empty")
	}

	handle, err := os.CreateTemp(l.uploadsDir, "dataset-*"+ext)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "Unable to store uploaded dataset", err)
	}
	defer handle.Close()

	if _, err := handle.Write(decoded); err != nil {
		os.Remove(handle.Name())
		return "", apperr.Wrap(apperr.KindInternal, "Unable to store uploaded dataset", err)
	}
	return handle.Name(), nil
}

// resolveFilePath validates that the requested file lives inside the uploads
// root. Relative paths whose first segment repeats the uploads directory
// name are joined from the remainder, so "uploads/data.csv" and "data.csv"
// land on the same file.
func (l *Loader) resolveFilePath(filePath string) (string, error) {
	if strings.TrimSpace(filePath) == "" {
		return "", apperr.New(apperr.KindNotFound, "File path is required for file uploads")
	}

	candidate := filePath
	if !filepath.IsAbs(candidate) {
		parts := strings.Split(filepath.ToSlash(filepath.Clean(candidate)), "/")
		if len(parts) > 0 && parts[0] == filepath.Base(l.uploadsDir) {
			candidate = filepath.Join(append([]string{l.uploadsDir}, parts[1:]...)...)
		} else {
			candidate = filepath.Join(l.uploadsDir, candidate)
		}
	}

	resolved, err := filepath.Abs(candidate)
	if err != nil {
		return "", apperr.New(apperr.KindForbidden, "Access to the specified file path is not permitted")
	}

	if resolved != l.uploadsDir && !strings.HasPrefix(resolved, l.uploadsDir+string(filepath.Separator)) {
		return "", apperr.New(apperr.KindForbidden, "Access to the specified file path is not permitted")
	}

	if _, err := os.Stat(resolved); err != nil {
		return "", apperr.Newf(apperr.KindNotFound, "Dataset file not found at %s", resolved)
	}

	return resolved, nil
}
