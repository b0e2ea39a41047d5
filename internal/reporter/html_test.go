package reporter_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ui-qa/internal/reporter"
)

func TestWriteHTML_RendersPairs(t *testing.T) {
	runDir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, reporter.WriteHTML(&buf, sampleResult(runDir), runDir))

	doc, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)

	assert.Equal(t, 4, doc.Find(".card").Length())
	assert.Equal(t, "FAIL", doc.Find(".summary strong").Text())

	failed := doc.Find(".card").Eq(1)
	assert.Contains(t, failed.Find("h2").Text(), "export <csv>")
	assert.Equal(t, "FAILED", failed.Find("h2 .badge.failed").Text())

	src, ok := failed.Find("img.shot").Attr("src")
	require.True(t, ok)
	assert.Equal(t, "chromium/export-csv/attempt-2/screenshot.png", src, "artifact links are relative to the run dir")
	href, ok := failed.Find(`a[href$="console.log"]`).Attr("href")
	require.True(t, ok, "console log should be linked")
	assert.Equal(t, "chromium/export-csv/attempt-2/console.log", href)
	assert.Contains(t, failed.Find("pre").Text(), "Failed to load resource")
	assert.Equal(t, 2, failed.Find("details[open]").Length())
}

func TestWriteHTMLFromJSONPath(t *testing.T) {
	runDir := t.TempDir()
	path := filepath.Join(runDir, "results.json")

	var js bytes.Buffer
	require.NoError(t, reporter.WriteJSON(&js, sampleResult(runDir)))
	require.NoError(t, os.WriteFile(path, js.Bytes(), 0o644))

	var out bytes.Buffer
	require.NoError(t, reporter.WriteHTMLFromJSONPath(&out, path))

	doc, err := goquery.NewDocumentFromReader(&out)
	require.NoError(t, err)
	assert.Contains(t, doc.Find("title").Text(), "Gmail Storage Analyzer")
	assert.Equal(t, 1, doc.Find(".badge.skipped").Length())

	_, err = os.Stat(filepath.Join(runDir, "missing.json"))
	require.Error(t, err)
	assert.Error(t, reporter.WriteHTMLFromJSONPath(&out, filepath.Join(runDir, "missing.json")))
}
