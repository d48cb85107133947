// Package bulkexport implements the FHIR Bulk Data $export family: kick
// off a system- or Patient-level export, stream matching resources to
// NDJSON files on disk, and report status/manifest through the durable
// job table in internal/asyncjob rather than the teacher's in-memory
// ExportManager (internal/platform/fhir/export.go), so a job survives a
// server restart and status polling works across replicas sharing the
// same Postgres.
package bulkexport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// fileWriter buffers NDJSON lines for one (resourceType, file index) shard
// of an export job, rotating to a new file once maxPerFile resources have
// been written to the current one.
type fileWriter struct {
	dir         string
	jobID       string
	resourceType string
	maxPerFile  int

	index   int
	count   int
	total   int
	f       *os.File
	w       *bufio.Writer
	files   []shardResult
}

type shardResult struct {
	filename string
	count    int
}

func newFileWriter(dir, jobID, resourceType string, maxPerFile int) *fileWriter {
	if maxPerFile <= 0 {
		maxPerFile = 1 << 30 // effectively unbounded
	}
	return &fileWriter{dir: dir, jobID: jobID, resourceType: resourceType, maxPerFile: maxPerFile}
}

func (fw *fileWriter) filename(index int) string {
	return fmt.Sprintf("%s_%s_%d.ndjson", fw.jobID, fw.resourceType, index)
}

func (fw *fileWriter) openCurrent() error {
	if fw.f != nil {
		return nil
	}
	path := fw.dir + string(os.PathSeparator) + fw.filename(fw.index)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bulkexport: create %s: %w", path, err)
	}
	fw.f = f
	fw.w = bufio.NewWriter(f)
	return nil
}

// Write appends one resource as an NDJSON line, rotating to a new shard
// file if the current one has reached maxPerFile resources.
func (fw *fileWriter) Write(resource map[string]interface{}) error {
	if fw.count >= fw.maxPerFile {
		if err := fw.rotate(); err != nil {
			return err
		}
	}
	if err := fw.openCurrent(); err != nil {
		return err
	}
	data, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("bulkexport: marshal %s resource: %w", fw.resourceType, err)
	}
	if _, err := fw.w.Write(data); err != nil {
		return err
	}
	if err := fw.w.WriteByte('\n'); err != nil {
		return err
	}
	fw.count++
	fw.total++
	return nil
}

func (fw *fileWriter) rotate() error {
	if err := fw.closeCurrent(); err != nil {
		return err
	}
	fw.index++
	fw.count = 0
	return nil
}

func (fw *fileWriter) closeCurrent() error {
	if fw.f == nil {
		return nil
	}
	if err := fw.w.Flush(); err != nil {
		return err
	}
	if fw.count > 0 {
		fw.files = append(fw.files, shardResult{filename: fw.filename(fw.index), count: fw.count})
	} else {
		// empty shard from a rotate with no intervening write; discard it.
		_ = os.Remove(fw.f.Name())
	}
	err := fw.f.Close()
	fw.f = nil
	fw.w = nil
	return err
}

// Close flushes and closes any open shard, returning the manifest entries
// produced for this resource type.
func (fw *fileWriter) Close() ([]shardResult, error) {
	if err := fw.closeCurrent(); err != nil {
		return nil, err
	}
	return fw.files, nil
}
