package dataset

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/observability"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", ServiceName: "test"})
	loader, err := NewLoader(t.TempDir(), logger, nil)
	require.NoError(t, err)
	return loader
}

func writeUpload(t *testing.T, loader *Loader, name, content string) string {
	t.Helper()
	path := filepath.Join(loader.UploadsDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return name
}

func TestLoadCSVStructuredRows(t *testing.T) {
	loader := newTestLoader(t)
	name := writeUpload(t, loader, "people.csv", "name,age,city\nalice,30,berlin\nbob,,paris\n")

	chunks, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), name, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, Chunk{Order: 0, Text: "Row 1: name: alice; age: 30; city: berlin"}, chunks[0])
	// Empty cells are omitted from the row text.
	assert.Equal(t, Chunk{Order: 1, Text: "Row 2: name: bob; city: paris"}, chunks[1])
}

func TestLoadCSVBlankHeadersAndExtraCells(t *testing.T) {
	loader := newTestLoader(t)
	name := writeUpload(t, loader, "odd.csv", "name,,city\nalice,30,berlin,extra\n")

	chunks, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), name, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Row 1: name: alice; column_2: 30; city: berlin; column_4: extra", chunks[0].Text)
}

func TestLoadCSVSkipsBlankRows(t *testing.T) {
	loader := newTestLoader(t)
	name := writeUpload(t, loader, "blank.csv", "a,b\n , \nx,y\n")

	chunks, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), name, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Row 1: a: x; b: y", chunks[0].Text)
}

func TestLoadCSVEmpty(t *testing.T) {
	loader := newTestLoader(t)
	name := writeUpload(t, loader, "empty.csv", " \n  \n")

	_, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), name, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CSV file is empty")
}

func TestLoadCSVHeaderOnly(t *testing.T) {
	loader := newTestLoader(t)
	name := writeUpload(t, loader, "headers.csv", "a,b,c\n")

	_, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), name, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not contain meaningful rows")
}

func TestLoadJSONFlattening(t *testing.T) {
	loader := newTestLoader(t)
	name := writeUpload(t, loader, "data.json", `{"title":"Guide","tags":["go","rag"],"meta":{"pages":42,"draft":false,"editor":null}}`)

	chunks, err := loader.LoadAndChunk(context.Background(), "json", DefaultChunkingOptions(), name, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	text := chunks[0].Text
	assert.Contains(t, text, "title: Guide")
	assert.Contains(t, text, "tags[0]: go")
	assert.Contains(t, text, "tags[1]: rag")
	assert.Contains(t, text, "meta.pages: 42")
	assert.Contains(t, text, "meta.draft: false")
	assert.Contains(t, text, "meta.editor: null")
}

func TestLoadJSONPreservesDocumentOrder(t *testing.T) {
	loader := newTestLoader(t)
	name := writeUpload(t, loader, "ordered.json", `{"z":1,"a":2,"m":3}`)

	chunks, err := loader.LoadAndChunk(context.Background(), "json", DefaultChunkingOptions(), name, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "z: 1 a: 2 m: 3", chunks[0].Text)
}

func TestLoadJSONRootArray(t *testing.T) {
	loader := newTestLoader(t)
	name := writeUpload(t, loader, "list.json", `["first","second"]`)

	chunks, err := loader.LoadAndChunk(context.Background(), "json", DefaultChunkingOptions(), name, nil)
	require.NoError(t, err)
	assert.Contains(t, chunks[0].Text, "[0]: first")
	assert.Contains(t, chunks[0].Text, "[1]: second")
}

func TestLoadJSONNoLeaves(t *testing.T) {
	loader := newTestLoader(t)
	name := writeUpload(t, loader, "hollow.json", `{}`)

	_, err := loader.LoadAndChunk(context.Background(), "json", DefaultChunkingOptions(), name, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not contain extractable data")
}

func TestUnsupportedDatasetType(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.LoadAndChunk(context.Background(), "xml", DefaultChunkingOptions(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnsupported, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Unsupported dataset type: xml")
}

func TestResolveFilePathTraversalForbidden(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), "../outside.csv", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, "Access to the specified file path is not permitted", apperr.MessageOf(err))
}

func TestResolveFilePathAbsoluteOutsideForbidden(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), "/etc/hosts", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestResolveFilePathMissingFile(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), "nope.csv", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestResolveFilePathRequired(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), "", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestResolveFilePathUploadsPrefix(t *testing.T) {
	loader := newTestLoader(t)
	writeUpload(t, loader, "data.csv", "a\n1\n")

	// A relative path repeating the uploads directory name resolves to the
	// same file as the bare name.
	prefixed := filepath.Join(filepath.Base(loader.UploadsDir()), "data.csv")
	chunks, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), prefixed, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestMaterializeContent(t *testing.T) {
	loader := newTestLoader(t)
	encoded := base64.StdEncoding.EncodeToString([]byte("name\nalice\n"))

	path, err := loader.MaterializeContent(encoded, "csv")
	require.NoError(t, err)
	defer os.Remove(path)

	assert.Equal(t, loader.UploadsDir(), filepath.Dir(path))
	assert.Equal(t, ".csv", filepath.Ext(path))

	chunks, err := loader.LoadAndChunk(context.Background(), "csv", DefaultChunkingOptions(), path, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Row 1: name: alice", chunks[0].Text)
}

func TestMaterializeContentInvalid(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.MaterializeContent("not-base64!!!", "csv")
	require.Error(t, err)
	assert.Equal(t, "Dataset payload is invalid; provide base64 content", apperr.MessageOf(err))

	empty := base64.StdEncoding.EncodeToString([]byte("  \n"))
	_, err = loader.MaterializeContent(empty, "json")
	require.Error(t, err)
	assert.Equal(t, "Dataset content is empty", apperr.MessageOf(err))

	_, err = loader.MaterializeContent(base64.StdEncoding.EncodeToString([]byte("x")), "website")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestWebsiteRequiresURLs(t *testing.T) {
	loader := newTestLoader(t)

	_, err := loader.LoadAndChunk(context.Background(), "website", DefaultChunkingOptions(), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "At least one URL is required")

	_, err = loader.LoadAndChunk(context.Background(), "website", DefaultChunkingOptions(), "", []string{"  ", ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No valid URLs provided")
}
