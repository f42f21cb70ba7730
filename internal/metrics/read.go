package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"hubctl/internal/model"
)

func readCSV(r io.Reader) ([]model.UsageSample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]model.UsageSample, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		items = append(items, model.UsageSample{
			Timestamp: ts,
			Source:    rec[1],
			SessionRx: parseUint(rec[2]),
			SessionTx: parseUint(rec[3]),
			TotalRx:   parseUint(rec[4]),
			TotalTx:   parseUint(rec[5]),
		})
	}

	return items, nil
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
