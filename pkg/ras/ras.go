// Package ras is the port to the result archive store, which records run results.
package ras

import (
	"context"

	"github.com/opst/testpod-controller/pkg/domain/run"
	"github.com/sirupsen/logrus"
)

// TestStructure is the archived record of a run.
//
// Document is the whole record; Status and Result mirror the fields of it
// that this controller updates.
type TestStructure struct {
	RunID  string
	Status string
	Result string

	Document map[string]any
}

type Archive interface {
	// TestStructure returns the record of runID, or (nil, nil) when it is unknown.
	TestStructure(ctx context.Context, runID string) (*TestStructure, error)

	// UpdateTestStructure overwrites the record of runID.
	UpdateTestStructure(ctx context.Context, runID string, ts *TestStructure) error
}

// ApplyActions brings archived records to the status and the result actions desire.
//
// Records already in the desired status are not updated.
// Failures are logged per action, and remaining actions are still applied.
// It returns the number of records updated.
func ApplyActions(ctx context.Context, logger logrus.FieldLogger, archive Archive, runName string, actions run.RasActions) int {
	updated := 0
	for _, action := range actions {
		log := logger.WithFields(logrus.Fields{
			"run":    runName,
			"rasRun": action.RunID,
		})

		ts, err := archive.TestStructure(ctx, action.RunID)
		if err != nil {
			log.WithError(err).Error("failed to read archived record")
			continue
		}
		if ts == nil {
			log.Warn("archived record is not found. skipped")
			continue
		}
		if ts.Status == action.DesiredRunStatus {
			log.WithField("status", ts.Status).Debug("archived record is up to date")
			continue
		}

		ts.Status = action.DesiredRunStatus
		ts.Result = action.DesiredRunResult
		if err := archive.UpdateTestStructure(ctx, action.RunID, ts); err != nil {
			log.WithError(err).Error("failed to update archived record")
			continue
		}
		log.WithFields(logrus.Fields{
			"status": action.DesiredRunStatus,
			"result": action.DesiredRunResult,
		}).Info("archived record is updated")
		updated += 1
	}
	return updated
}

// None is an archive without records.
type None struct{}

var _ Archive = None{}

func (None) TestStructure(context.Context, string) (*TestStructure, error) {
	return nil, nil
}

func (None) UpdateTestStructure(context.Context, string, *TestStructure) error {
	return nil
}
