package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one patient in a batch.
type BatchResult struct {
	PatientID string `json:"patient_id"`
	Dir       string `json:"dir,omitempty"`
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
}

// RunBatch runs and writes every patient under outDir/<patient id> with at
// most concurrency runs in flight. A failed patient does not stop the
// others; all failures are joined in the returned error.
func (p *Pipeline) RunBatch(ctx context.Context, patientIDs []string, outDir string, concurrency int) ([]BatchResult, error) {
	results := make([]BatchResult, len(patientIDs))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for idx, id := range patientIDs {
		idx, id := idx, id
		g.Go(func() error {
			results[idx] = p.runOne(ctx, id, outDir)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("patient %s: %w", r.PatientID, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (p *Pipeline) runOne(ctx context.Context, patientID, outDir string) BatchResult {
	r := BatchResult{PatientID: patientID}
	if err := ctx.Err(); err != nil {
		r.Err, r.Error = err, err.Error()
		return r
	}
	dir, err := PatientDir(outDir, patientID)
	if err == nil {
		var res *Result
		if res, err = p.Run(ctx, patientID); err == nil {
			if err = Write(dir, res); err == nil {
				r.Dir = dir
			}
		}
	}
	if err != nil {
		p.logger.Error().Err(err).Str("patient_id", patientID).Msg("patient run failed")
		r.Err, r.Error = err, err.Error()
	}
	return r
}

// ErrInvalidPatientID is returned for ids that cannot name a directory of
// their own under the output directory.
var ErrInvalidPatientID = errors.New("patient id is not usable as a directory name")

// PatientDir is the output directory of one patient. Ids that are empty, are
// "." or "..", or contain a path separator are rejected so that distinct
// patients never share a directory and no package lands outside outDir.
func PatientDir(outDir, patientID string) (string, error) {
	if patientID == "" || patientID == "." || patientID == ".." ||
		strings.ContainsAny(patientID, `/\`) || strings.ContainsRune(patientID, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPatientID, patientID)
	}
	return filepath.Join(outDir, patientID), nil
}
