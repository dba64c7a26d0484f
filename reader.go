package categorysync

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	csvDeviceIDColumn   = "DeviceID"
	csvDeviceNameColumn = "DeviceName"
	csvCategoryColumn   = "NewCategory"
)

type csvColumnIndex struct {
	deviceID   int
	deviceName int
	category   int
}

// ReadDeviceRecords loads reassignment rows from a local CSV file.
//
// The file must carry a header row with the DeviceID, DeviceName and
// NewCategory columns; a missing file or missing column aborts the whole run.
// Rows with empty required cells are kept so the orchestrator can report them
// as skipped.
func ReadDeviceRecords(path string) ([]DeviceRecord, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("input file path is required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open input file %s failed", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s failed", path)
	}
	cols, err := csvColumnsFromHeader(header)
	if err != nil {
		return nil, err
	}

	records := make([]DeviceRecord, 0)
	rowNum := 1
	for {
		row, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "read row %d of %s failed", rowNum+1, path)
		}
		rowNum++
		records = append(records, DeviceRecord{
			Row:         rowNum,
			DeviceID:    cellValue(row, cols.deviceID),
			DeviceName:  cellValue(row, cols.deviceName),
			NewCategory: cellValue(row, cols.category),
		})
	}
	log.Debug().Int("rows", len(records)).Str("path", path).Msg("device records loaded from csv")
	return records, nil
}

func csvColumnsFromHeader(header []string) (csvColumnIndex, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[stripBOM(strings.TrimSpace(name))] = i
	}
	required := []string{csvDeviceIDColumn, csvDeviceNameColumn, csvCategoryColumn}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return csvColumnIndex{}, errors.Errorf("input file missing column %q", name)
		}
	}
	return csvColumnIndex{
		deviceID:   idx[csvDeviceIDColumn],
		deviceName: idx[csvDeviceNameColumn],
		category:   idx[csvCategoryColumn],
	}, nil
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
