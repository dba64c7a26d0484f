package categorysync

import (
	"context"
	"strings"
	"time"

	"github.com/deviceops/categorysync/internal/mdm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// CategoryUpdater issues a single update binding a device to a category.
// The returned string is the raw acknowledgment body; empty means success.
type CategoryUpdater interface {
	UpdateDeviceCategory(ctx context.Context, deviceID, categoryID string) (string, error)
}

// OutcomeJournal persists per-device outcomes; wiring one is optional.
type OutcomeJournal interface {
	RecordOutcome(ctx context.Context, res RowResult) error
}

// Collaborators bundles the remote-facing dependencies of a run. The session
// they carry is established once by the caller and reused for every record.
type Collaborators struct {
	Resolver CategoryResolver
	Updater  CategoryUpdater
	Fetcher  DeviceFetcher
	// Journal may be nil.
	Journal OutcomeJournal
}

// Options controls verification and concurrency for a run.
type Options struct {
	// MaxRetries is the verification retry budget; 0 disables verification.
	MaxRetries int
	// PollInterval is the fixed wait between verification fetches
	// (DefaultPollInterval when zero).
	PollInterval time.Duration
	// Workers caps concurrent record processing; values below 2 keep the
	// run strictly sequential.
	Workers int
}

// Run processes records in order and returns the aggregated summary plus the
// per-row results (indexed like the input, so sheet write-back stays ordered
// even with Workers > 1).
//
// Recoverable per-device errors are folded into outcomes; the returned error
// is non-nil only for invalid collaborators or context cancellation.
func Run(ctx context.Context, records []DeviceRecord, opts Options, collab Collaborators) (Summary, []RowResult, error) {
	if collab.Resolver == nil || collab.Updater == nil {
		return Summary{}, nil, errors.New("resolver and updater collaborators are required")
	}
	if opts.MaxRetries > 0 && collab.Fetcher == nil {
		return Summary{}, nil, errors.New("fetcher collaborator is required when verification is enabled")
	}

	results := make([]RowResult, len(records))
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	if workers == 1 {
		for i, record := range records {
			if err := ctx.Err(); err != nil {
				return Summary{}, nil, err
			}
			results[i] = processRecord(ctx, record, opts, collab)
		}
	} else {
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(workers)
		for i, record := range records {
			i, record := i, record
			group.Go(func() error {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				results[i] = processRecord(groupCtx, record, opts, collab)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return Summary{}, nil, err
		}
	}

	var summary Summary
	for _, res := range results {
		summary.add(res.Outcome)
	}
	log.Info().
		Int("total", summary.Total()).
		Int("succeeded", summary.Succeeded).
		Int("unexpected", summary.Unexpected).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("timed_out", summary.TimedOut).
		Msg("category reassignment run finished")
	return summary, results, nil
}

func processRecord(ctx context.Context, record DeviceRecord, opts Options, collab Collaborators) RowResult {
	record.DeviceID = strings.TrimSpace(record.DeviceID)
	record.DeviceName = strings.TrimSpace(record.DeviceName)
	record.NewCategory = strings.TrimSpace(record.NewCategory)

	res := RowResult{Record: record}
	defer func() {
		recordJournalOutcome(ctx, collab.Journal, res)
	}()

	if record.DeviceID == "" || record.DeviceName == "" || record.NewCategory == "" {
		res.Outcome = OutcomeSkipped
		res.Detail = "missing required fields"
		log.Warn().
			Int("row", record.Row).
			Str("device_id", record.DeviceID).
			Str("device_name", record.DeviceName).
			Str("category", record.NewCategory).
			Msg("row is missing required fields; skipping device")
		return res
	}

	logger := log.With().
		Str("device_id", record.DeviceID).
		Str("device_name", record.DeviceName).
		Str("category", record.NewCategory).
		Logger()

	categoryID, err := collab.Resolver.ResolveCategory(ctx, record.NewCategory)
	if err != nil {
		if errors.Is(err, mdm.ErrCategoryNotFound) {
			res.Outcome = OutcomeSkipped
			res.Detail = "category not found"
			logger.Warn().Msg("category name did not match any platform category; skipping device")
			return res
		}
		res.Outcome = OutcomeFailed
		res.Detail = err.Error()
		logger.Error().Err(err).Msg("category lookup failed; marking device failed")
		return res
	}
	res.CategoryID = categoryID

	logger.Info().Str("category_id", categoryID).Msg("updating device category")
	body, err := collab.Updater.UpdateDeviceCategory(ctx, record.DeviceID, categoryID)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Detail = err.Error()
		logger.Error().Err(err).Msg("device category update failed")
		return res
	}
	unexpected := strings.TrimSpace(body) != ""
	if unexpected {
		// Documented tolerance: a non-empty acknowledgment is suspicious but
		// has never been observed to indicate a failed write.
		logger.Warn().Str("body", strings.TrimSpace(body)).Msg("update returned unexpected response body")
	}

	verdict, err := VerifyDeviceCategory(ctx, collab.Fetcher, record.DeviceID, record.NewCategory, opts.MaxRetries, opts.PollInterval)
	if err != nil {
		res.Outcome = OutcomeTimedOut
		res.Detail = err.Error()
		logger.Warn().Err(err).Msg("verification interrupted")
		return res
	}
	switch verdict {
	case OutcomeSuccess:
		res.Outcome = OutcomeSuccess
		logger.Info().Msg("device category confirmed")
	case OutcomeTimedOut:
		res.Outcome = OutcomeTimedOut
		res.Detail = "verification retry budget exhausted"
		logger.Warn().Int("max_retries", opts.MaxRetries).Msg("device category not confirmed; manual follow-up required")
	default: // verification disabled
		if unexpected {
			res.Outcome = OutcomeUnexpected
			res.Detail = "unexpected update response body"
		} else {
			res.Outcome = OutcomeSuccess
			logger.Info().Msg("device category updated (verification disabled)")
		}
	}
	return res
}

func recordJournalOutcome(ctx context.Context, journal OutcomeJournal, res RowResult) {
	if journal == nil {
		return
	}
	if err := journal.RecordOutcome(ctx, res); err != nil {
		log.Error().Err(err).
			Str("device_id", res.Record.DeviceID).
			Msg("journal outcome write failed")
	}
}
