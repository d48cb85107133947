package bulkexport

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriter_WritesNDJSONLines(t *testing.T) {
	dir := t.TempDir()
	fw := newFileWriter(dir, "job1", "Patient", 0)

	require.NoError(t, fw.Write(map[string]interface{}{"resourceType": "Patient", "id": "1"}))
	require.NoError(t, fw.Write(map[string]interface{}{"resourceType": "Patient", "id": "2"}))

	shards, err := fw.Close()
	require.NoError(t, err)
	require.Len(t, shards, 1)
	assert.Equal(t, 2, shards[0].count)

	lines := readLines(t, filepath.Join(dir, shards[0].filename))
	assert.Len(t, lines, 2)
}

func TestFileWriter_RotatesAtMaxPerFile(t *testing.T) {
	dir := t.TempDir()
	fw := newFileWriter(dir, "job2", "Observation", 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, fw.Write(map[string]interface{}{"resourceType": "Observation", "id": i}))
	}

	shards, err := fw.Close()
	require.NoError(t, err)
	require.Len(t, shards, 3)
	assert.Equal(t, 2, shards[0].count)
	assert.Equal(t, 2, shards[1].count)
	assert.Equal(t, 1, shards[2].count)
}

func TestFileWriter_EmptyWriterProducesNoShards(t *testing.T) {
	dir := t.TempDir()
	fw := newFileWriter(dir, "job3", "Condition", 0)

	shards, err := fw.Close()
	require.NoError(t, err)
	assert.Empty(t, shards)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}
