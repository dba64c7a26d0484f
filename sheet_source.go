package categorysync

import (
	"context"
	"strings"

	"github.com/deviceops/categorysync/internal/feishusdk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	sheetDeviceIDColumn   = "DeviceID"
	sheetDeviceNameColumn = "DeviceName"
	sheetCategoryColumn   = "NewCategory"
	sheetOutcomeColumn    = "Outcome"

	sheetRowPageSize = 500
)

// SheetClient is the Feishu surface the sheet source depends on.
type SheetClient interface {
	FetchSheetMeta(ctx context.Context, rawURL string) (*feishusdk.SheetMeta, error)
	FetchSheetRowsByRange(ctx context.Context, meta *feishusdk.SheetMeta, startRow, endRow int) ([][]string, error)
	UpdateSheetCells(ctx context.Context, rawURL string, updates []feishusdk.SheetCellUpdate) error
}

type sheetColumnIndex struct {
	deviceID   int
	deviceName int
	category   int
	outcome    int
}

// SheetSource reads device records from a Feishu spreadsheet and writes
// per-row outcomes back into an optional Outcome column.
type SheetSource struct {
	client SheetClient
	url    string

	// outcomeCol is the 1-based Outcome column index; 0 when the sheet has
	// no such column and write-back is disabled.
	outcomeCol int
}

// NewSheetSource constructs a source for the given spreadsheet URL.
func NewSheetSource(client SheetClient, rawURL string) (*SheetSource, error) {
	if client == nil {
		return nil, errors.New("sheet client is nil")
	}
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("sheet url is required")
	}
	return &SheetSource{client: client, url: strings.TrimSpace(rawURL)}, nil
}

// FetchRecords pages through the sheet and returns all data rows in order.
// The values API pads in-grid ranges with blank rows below the data, so rows
// whose required cells are all empty are dropped here; partially-filled rows
// are kept and reported as skipped downstream.
func (s *SheetSource) FetchRecords(ctx context.Context) ([]DeviceRecord, error) {
	meta, err := s.client.FetchSheetMeta(ctx, s.url)
	if err != nil {
		return nil, errors.Wrap(err, "fetch sheet meta failed")
	}
	cols, err := sheetColumnsFromHeader(meta.Header)
	if err != nil {
		return nil, err
	}
	s.outcomeCol = 0
	if cols.outcome >= 0 {
		s.outcomeCol = cols.outcome + 1
	}

	records := make([]DeviceRecord, 0)
	startRow := 2
	maxRows := meta.RowCount
	for {
		if maxRows > 0 && startRow > maxRows {
			break
		}
		endRow := startRow + sheetRowPageSize - 1
		if maxRows > 0 && endRow > maxRows {
			endRow = maxRows
		}
		rows, err := s.client.FetchSheetRowsByRange(ctx, meta, startRow, endRow)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch sheet rows %d-%d failed", startRow, endRow)
		}
		log.Debug().Int("fetched", len(rows)).
			Int("row_start", startRow).
			Int("row_end", endRow).Str("source", s.url).
			Msg("fetched sheet rows")
		if len(rows) == 0 {
			break
		}
		for i, row := range rows {
			record := DeviceRecord{
				Row:         startRow + i,
				DeviceID:    cellValue(row, cols.deviceID),
				DeviceName:  cellValue(row, cols.deviceName),
				NewCategory: cellValue(row, cols.category),
			}
			if record.DeviceID == "" && record.DeviceName == "" && record.NewCategory == "" {
				continue
			}
			records = append(records, record)
		}
		startRow = endRow + 1
	}
	return records, nil
}

// WriteOutcomes reports per-row outcomes back into the sheet's Outcome
// column. It is a no-op when the sheet carries no such column.
func (s *SheetSource) WriteOutcomes(ctx context.Context, results []RowResult) error {
	if s.outcomeCol <= 0 {
		log.Debug().Str("source", s.url).Msg("sheet has no outcome column; skipping write-back")
		return nil
	}
	updates := make([]feishusdk.SheetCellUpdate, 0, len(results))
	for _, res := range results {
		if res.Record.Row <= 0 {
			continue
		}
		updates = append(updates, feishusdk.SheetCellUpdate{
			Row:   res.Record.Row,
			Col:   s.outcomeCol,
			Value: string(res.Outcome),
		})
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.client.UpdateSheetCells(ctx, s.url, updates); err != nil {
		return errors.Wrap(err, "write outcomes to sheet failed")
	}
	log.Info().Int("updated", len(updates)).Str("source", s.url).Msg("sheet outcomes updated")
	return nil
}

func sheetColumnsFromHeader(header []string) (sheetColumnIndex, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	required := []string{sheetDeviceIDColumn, sheetDeviceNameColumn, sheetCategoryColumn}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return sheetColumnIndex{}, errors.Errorf("source sheet missing column %q", name)
		}
	}
	cols := sheetColumnIndex{
		deviceID:   idx[sheetDeviceIDColumn],
		deviceName: idx[sheetDeviceNameColumn],
		category:   idx[sheetCategoryColumn],
		outcome:    -1,
	}
	if outcome, ok := idx[sheetOutcomeColumn]; ok {
		cols.outcome = outcome
	}
	return cols, nil
}
