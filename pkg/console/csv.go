package console

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/itohio/voicelog/pkg/sensor"
)

// StampLayout formats the capture time in CSV file names.
const StampLayout = "20060102-150405"

// Header returns the CSV column names of c.
func Header(c sensor.Channel) []string {
	switch c {
	case sensor.Temperature:
		return []string{"Temperature (Celsius)"}
	case sensor.Humidity:
		return []string{"Humidity (%)"}
	case sensor.Accelerometer:
		return []string{"Acceleration X (m/s^2)", "Acceleration Y (m/s^2)", "Acceleration Z (m/s^2)"}
	case sensor.Gyroscope:
		return []string{"Gyroscope X (deg/s)", "Gyroscope Y (deg/s)", "Gyroscope Z (deg/s)"}
	default:
		return nil
	}
}

// FileName is the CSV file name of c for a capture taken at stamp.
func FileName(c sensor.Channel, stamp time.Time) string {
	prefix := map[sensor.Channel]string{
		sensor.Temperature:   "temp",
		sensor.Humidity:      "hum",
		sensor.Accelerometer: "acc",
		sensor.Gyroscope:     "gyro",
	}[c]
	if prefix == "" {
		prefix = fmt.Sprintf("sensor%d", uint8(c))
	}
	return fmt.Sprintf("%s_data_%s.csv", prefix, stamp.Format(StampLayout))
}

// WriteCSV writes the header of c followed by one row per reading.
func WriteCSV(w io.Writer, c sensor.Channel, rows [][]float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(c)); err != nil {
		return err
	}

	record := make([]string, c.Scalars())
	for i, row := range rows {
		if len(row) != len(record) {
			return fmt.Errorf("row %d of %s has %d values, want %d", i, c, len(row), len(record))
		}
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Export writes one CSV file per channel into dir and returns their paths.
func Export(dir string, d *Dump, stamp time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := make([]string, 0, sensor.NumChannels)
	for _, c := range sensor.Channels {
		path := filepath.Join(dir, FileName(c, stamp))
		if err := writeFile(path, c, d.Readings[c]); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, c sensor.Channel, rows [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCSV(f, c, rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
