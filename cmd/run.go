package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	categorysync "github.com/deviceops/categorysync"
	"github.com/deviceops/categorysync/internal/config"
	"github.com/deviceops/categorysync/internal/feishusdk"
	"github.com/deviceops/categorysync/internal/mdm"
	"github.com/deviceops/categorysync/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type journalRecorder struct {
	journal *storage.Journal
}

func (r journalRecorder) RecordOutcome(ctx context.Context, res categorysync.RowResult) error {
	return r.journal.RecordOutcome(ctx, storage.OutcomeRow{
		DeviceID:   res.Record.DeviceID,
		DeviceName: res.Record.DeviceName,
		Category:   res.Record.NewCategory,
		CategoryID: res.CategoryID,
		Outcome:    string(res.Outcome),
		Detail:     res.Detail,
	})
}

func newRunCmd() *cobra.Command {
	var (
		flagInput      string
		flagSheetURL   string
		flagMaxRetries int
		flagInterval   time.Duration
		flagWorkers    int
		flagNoJournal  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reassign device categories from a spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sheetURL := firstNonEmpty(flagSheetURL, config.String(categorysync.EnvSourceSheetURL, ""))
			input := strings.TrimSpace(flagInput)
			if input == "" && sheetURL == "" {
				return fmt.Errorf("--input or --sheet-url (or $%s) is required", categorysync.EnvSourceSheetURL)
			}
			if input != "" && sheetURL != "" {
				return fmt.Errorf("--input and --sheet-url are mutually exclusive")
			}

			maxRetries := flagMaxRetries
			if !cmd.Flags().Changed("max-retries") {
				maxRetries = config.Int(categorysync.EnvVerifyMaxRetries, maxRetries)
			}
			if maxRetries < 0 {
				maxRetries = 0
			}
			interval := flagInterval
			if !cmd.Flags().Changed("poll-interval") {
				interval = config.Duration(categorysync.EnvVerifyPollInterval, interval)
			}
			workers := flagWorkers
			if !cmd.Flags().Changed("workers") {
				workers = config.Int(categorysync.EnvWorkers, workers)
			}
			noJournal := flagNoJournal
			if !cmd.Flags().Changed("no-journal") {
				noJournal = config.Bool(categorysync.EnvNoJournal, noJournal)
			}

			client, err := mdm.NewClientFromEnv()
			if err != nil {
				return err
			}

			var records []categorysync.DeviceRecord
			var sheetSource *categorysync.SheetSource
			if input != "" {
				records, err = categorysync.ReadDeviceRecords(input)
				if err != nil {
					return err
				}
			} else {
				sheetClient, err := feishusdk.NewClientFromEnv()
				if err != nil {
					return err
				}
				sheetSource, err = categorysync.NewSheetSource(sheetClient, sheetURL)
				if err != nil {
					return err
				}
				records, err = sheetSource.FetchRecords(ctx)
				if err != nil {
					return err
				}
			}
			if len(records) == 0 {
				log.Info().Msg("no device records in source; nothing to do")
				return nil
			}

			collab := categorysync.Collaborators{
				Resolver: categorysync.NewCachedResolver(client),
				Updater:  client,
				Fetcher:  client,
			}
			if !noJournal {
				journal, err := storage.OpenJournal()
				if err != nil {
					log.Warn().Err(err).Msg("open outcome journal failed; continuing without it")
				} else {
					defer journal.Close()
					collab.Journal = journalRecorder{journal: journal}
				}
			}

			summary, results, err := categorysync.Run(ctx, records, categorysync.Options{
				MaxRetries:   maxRetries,
				PollInterval: interval,
				Workers:      workers,
			}, collab)
			if err != nil {
				return err
			}

			if sheetSource != nil {
				if err := sheetSource.WriteOutcomes(ctx, results); err != nil {
					log.Error().Err(err).Msg("sheet outcome write-back failed")
				}
			}

			if code := summary.ExitCode(); code != 0 {
				return fmt.Errorf("run finished with %d failed and %d timed out devices", summary.Failed, summary.TimedOut)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagInput, "input", "", "Local CSV file with DeviceID/DeviceName/NewCategory columns")
	cmd.Flags().StringVar(&flagSheetURL, "sheet-url", "", "Feishu spreadsheet URL overriding $SOURCE_SHEET_URL")
	cmd.Flags().IntVar(&flagMaxRetries, "max-retries", 3, "Verification retry budget per device (0 disables verification)")
	cmd.Flags().DurationVar(&flagInterval, "poll-interval", categorysync.DefaultPollInterval, "Fixed wait between verification fetches")
	cmd.Flags().IntVar(&flagWorkers, "workers", 1, "Concurrent device workers (1 keeps the run strictly sequential)")
	cmd.Flags().BoolVar(&flagNoJournal, "no-journal", false, "Disable the local SQLite outcome journal (or set $CATSYNC_NO_JOURNAL)")

	return cmd
}
