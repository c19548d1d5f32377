package eval

import (
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/krira-ai/rag-engine/internal/apperr"
)

// Row is one labeled evaluation example.
type Row struct {
	Number         string
	Question       string
	ExpectedAnswer string
}

// Header aliases accepted for each required column, in priority order.
var (
	numberHeaders   = []string{"srno", "srnumber", "serialnumber", "serial", "id", "number", "sr"}
	questionHeaders = []string{"input", "question", "prompt", "query"}
	answerHeaders   = []string{"output", "expectedanswer", "answer", "groundtruth", "expected"}
)

// normalizeHeader lowercases a header and strips everything but letters
// and digits, so "Sr. No" and "sr_no" both match "srno".
func normalizeHeader(name string) string {
	cleaned := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range cleaned {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LoadRows reads labeled examples from an evaluation CSV.
func LoadRows(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, apperr.Newf(apperr.KindNotFound, "Evaluation CSV file '%s' was not found", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, apperr.New(apperr.KindValidation, "CSV file must include 'input' and 'output' columns")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Evaluation CSV could not be parsed", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	normalized := make(map[string]int, len(header))
	for i, field := range header {
		key := normalizeHeader(field)
		if _, exists := normalized[key]; !exists {
			normalized[key] = i
		}
	}

	columnFor := func(aliases []string) int {
		for _, alias := range aliases {
			if idx, ok := normalized[alias]; ok {
				return idx
			}
		}
		return -1
	}

	numberCol := columnFor(numberHeaders)
	questionCol := columnFor(questionHeaders)
	answerCol := columnFor(answerHeaders)

	if questionCol < 0 || answerCol < 0 {
		return nil, apperr.New(apperr.KindValidation, "CSV file must include 'input' and 'output' columns")
	}

	cell := func(record []string, idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var rows []Row
	for index := 1; ; index++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "Evaluation CSV could not be parsed", err)
		}

		question := cell(record, questionCol)
		answer := cell(record, answerCol)
		if question == "" && answer == "" {
			continue
		}
		if question == "" || answer == "" {
			return nil, apperr.Newf(apperr.KindValidation, "Row %d must include both input and output values", index)
		}

		number := cell(record, numberCol)
		if number == "" {
			number = strconv.Itoa(index)
		}
		rows = append(rows, Row{Number: number, Question: question, ExpectedAnswer: answer})
	}

	return rows, nil
}

// ResolveCSVPath validates that the given path points at a CSV file inside
// one of the allowed evaluation directories.
func ResolveCSVPath(csvPath string, allowedRoots []string) (string, error) {
	candidate := csvPath
	if !filepath.IsAbs(candidate) && len(allowedRoots) > 0 {
		candidate = filepath.Join(allowedRoots[0], candidate)
	}
	candidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve evaluation path: %w", err)
	}
	candidate = filepath.Clean(candidate)

	if !withinAny(candidate, allowedRoots) {
		return "", apperr.Newf(apperr.KindForbidden,
			"Evaluation CSV must reside within one of the allowed directories: %s",
			strings.Join(allowedRoots, ", "))
	}

	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		return "", apperr.Newf(apperr.KindNotFound, "Evaluation CSV file '%s' was not found", candidate)
	}

	if strings.ToLower(filepath.Ext(candidate)) != ".csv" {
		return "", apperr.New(apperr.KindValidation, "Evaluation file must be a CSV")
	}

	return candidate, nil
}

func withinAny(path string, roots []string) bool {
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		abs = filepath.Clean(abs)
		if path == abs || strings.HasPrefix(path, abs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// MaterializeCSVContent decodes base64 CSV content into a temporary file
// under the first allowed root. The caller removes the file when done.
func MaterializeCSVContent(content, originalFilename string, allowedRoots []string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", apperr.New(apperr.KindValidation, "Evaluation CSV payload is invalid; provide base64 content")
	}
	if strings.TrimSpace(string(decoded)) == "" {
		return "", apperr.New(apperr.KindValidation, "Evaluation CSV content is empty")
	}

	suffix := filepath.Ext(originalFilename)
	if suffix == "" {
		suffix = ".csv"
	}

	if len(allowedRoots) == 0 {
		return "", apperr.New(apperr.KindConfig, "No evaluation directory is configured")
	}
	root, err := filepath.Abs(allowedRoots[0])
	if err != nil {
		return "", fmt.Errorf("resolve evaluation root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "Unable to prepare evaluation workspace", err)
	}

	handle, err := os.CreateTemp(root, "evaluation-*"+suffix)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "Unable to prepare evaluation workspace", err)
	}
	defer handle.Close()

	if _, err := handle.Write(decoded); err != nil {
		os.Remove(handle.Name())
		return "", apperr.Wrap(apperr.KindInternal, "Unable to prepare evaluation workspace", err)
	}

	return handle.Name(), nil
}
