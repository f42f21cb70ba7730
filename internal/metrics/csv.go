// Package metrics records the data-usage history as CSV and summarizes it.
package metrics

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"hubctl/internal/model"
)

var header = []string{
	"timestamp",
	"source",
	"session_rx",
	"session_tx",
	"total_rx",
	"total_tx",
}

// WriteCSV writes samples to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.UsageSample) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	return writeRecords(writer, items)
}

// AppendCSV appends samples to the file at path, writing the header only
// when the file is new or empty.
func AppendCSV(path string, items []model.UsageSample) error {
	if len(items) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			_ = file.Close()
			return err
		}
	}
	if err := writeRecords(writer, items); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func writeRecords(writer *csv.Writer, items []model.UsageSample) error {
	for _, s := range items {
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.Source,
			strconv.FormatUint(s.SessionRx, 10),
			strconv.FormatUint(s.SessionTx, 10),
			strconv.FormatUint(s.TotalRx, 10),
			strconv.FormatUint(s.TotalTx, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadCSV loads samples from a CSV file. A missing file has no samples.
func ReadCSV(path string) ([]model.UsageSample, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}
