package bulkexport

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fhircore/fhircore/internal/asyncjob"
	"github.com/fhircore/fhircore/internal/graph"
	"github.com/fhircore/fhircore/internal/storage"
	"github.com/rs/zerolog"
)

// JobType identifies a bulk export row in the async_job table.
const JobType = "bulk-export"

// defaultResourceTypes mirrors the teacher's ExportManager.kickOff default
// when the caller's _type parameter is empty.
var defaultResourceTypes = []string{"Patient", "Observation", "Condition", "Encounter", "MedicationRequest"}

// Request describes one $export invocation, either system-level
// (PatientID empty) or Patient-level.
type Request struct {
	ResourceTypes []string
	PatientID     string
	Since         time.Time
}

// Service runs bulk export jobs, writing NDJSON shards to Dir and
// recording status/manifest through Jobs (internal/asyncjob) instead of
// the teacher's in-memory job map.
type Service struct {
	store      *storage.Store
	everything *graph.Everything
	jobs       *asyncjob.Store
	logger     zerolog.Logger

	dir              string
	maxPerFile       int
	baseURL          string // used to build manifest file URLs, e.g. "/fhir/$export-data"
}

func NewService(store *storage.Store, everything *graph.Everything, jobs *asyncjob.Store, dir string, maxPerFile int, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		everything: everything,
		jobs:       jobs,
		logger:     logger,
		dir:        dir,
		maxPerFile: maxPerFile,
		baseURL:    "/fhir/$export-data",
	}
}

// KickOff creates an accepted job and starts processing it in the
// background, returning the job id for the caller's Content-Location
// header.
func (s *Service) KickOff(ctx context.Context, req Request) (string, error) {
	if len(req.ResourceTypes) == 0 {
		req.ResourceTypes = defaultResourceTypes
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("bulkexport: prepare output dir: %w", err)
	}

	job := &asyncjob.Job{Type: JobType, Request: fmt.Sprintf("types=%v patient=%s since=%s", req.ResourceTypes, req.PatientID, req.Since)}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", err
	}

	go s.run(job.ID, req)

	return job.ID, nil
}

func (s *Service) run(jobID string, req Request) {
	ctx := context.Background()
	manifest, err := s.export(ctx, jobID, req)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("bulk export failed")
		if ferr := s.jobs.Fail(ctx, jobID, err); ferr != nil {
			s.logger.Error().Err(ferr).Str("job_id", jobID).Msg("bulk export: record failure")
		}
		return
	}
	if err := s.jobs.Complete(ctx, jobID, manifest); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("bulk export: record completion")
	}
}

func (s *Service) export(ctx context.Context, jobID string, req Request) ([]asyncjob.ManifestFile, error) {
	if req.PatientID != "" {
		return s.exportPatient(ctx, jobID, req)
	}
	return s.exportSystem(ctx, jobID, req)
}

// exportSystem scans every requested resource type's table directly,
// streaming rows to NDJSON shards.
func (s *Service) exportSystem(ctx context.Context, jobID string, req Request) ([]asyncjob.ManifestFile, error) {
	var manifest []asyncjob.ManifestFile
	total, processed := 0, 0

	for _, rt := range req.ResourceTypes {
		fw := newFileWriter(s.dir, jobID, rt, s.maxPerFile)
		count := 0
		err := s.store.ScanResourceType(ctx, rt, req.Since, func(id string, versionID int, content map[string]interface{}) error {
			count++
			total++
			processed++
			if processed%asyncjob.ProgressReportInterval == 0 {
				_ = s.jobs.UpdateProgress(ctx, jobID, processed, total)
			}
			return fw.Write(content)
		})
		if err != nil {
			_, _ = fw.Close()
			return nil, fmt.Errorf("bulkexport: export %s: %w", rt, err)
		}
		shards, err := fw.Close()
		if err != nil {
			return nil, err
		}
		for _, sh := range shards {
			manifest = append(manifest, asyncjob.ManifestFile{Type: rt, URL: fmt.Sprintf("%s/%s/%s", s.baseURL, jobID, sh.filename), Count: sh.count})
		}
	}

	_ = s.jobs.UpdateProgress(ctx, jobID, total, total)
	return manifest, nil
}

// exportPatient walks the Patient's compartment via internal/graph and
// shards the resulting resources into per-type NDJSON files.
func (s *Service) exportPatient(ctx context.Context, jobID string, req Request) ([]asyncjob.ManifestFile, error) {
	types := make(map[string]bool, len(req.ResourceTypes))
	for _, t := range req.ResourceTypes {
		types[t] = true
	}

	bundle, err := s.everything.Run(ctx, "Patient", req.PatientID, graph.EverythingParams{
		Since: req.Since,
		Types: types,
	})
	if err != nil {
		return nil, fmt.Errorf("bulkexport: walk patient compartment: %w", err)
	}

	writers := make(map[string]*fileWriter)
	total := len(bundle.Entry)
	processed := 0
	for _, entry := range bundle.Entry {
		content, ok := entry.Resource.(map[string]interface{})
		if !ok {
			continue
		}
		rt, _ := content["resourceType"].(string)
		if rt == "" {
			continue
		}
		fw, ok := writers[rt]
		if !ok {
			fw = newFileWriter(s.dir, jobID, rt, s.maxPerFile)
			writers[rt] = fw
		}
		if err := fw.Write(content); err != nil {
			return nil, err
		}
		processed++
		if processed%asyncjob.ProgressReportInterval == 0 {
			_ = s.jobs.UpdateProgress(ctx, jobID, processed, total)
		}
	}

	var manifest []asyncjob.ManifestFile
	for rt, fw := range writers {
		shards, err := fw.Close()
		if err != nil {
			return nil, err
		}
		for _, sh := range shards {
			manifest = append(manifest, asyncjob.ManifestFile{Type: rt, URL: fmt.Sprintf("%s/%s/%s", s.baseURL, jobID, sh.filename), Count: sh.count})
		}
	}

	_ = s.jobs.UpdateProgress(ctx, jobID, total, total)
	return manifest, nil
}
