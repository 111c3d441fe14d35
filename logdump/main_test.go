package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/voicelog/pkg/console"
)

var stamp = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

const capturedLog = "Listening...\n\r" +
	"Dumping QSPI data\n\r" +
	"Reading data for sensor 0\n\r" +
	"    Temperature = 21.254902\n\r" +
	"Finished reading data for sensor 0\n\r" +
	"Reading data for sensor 1\n\r" +
	"Finished reading data for sensor 1\n\r" +
	"Reading data for sensor 2\n\r" +
	"    Accelerometer x = 0.011765, y = -0.011765, z = 1.000000\n\r" +
	"Finished reading data for sensor 2\n\r" +
	"Reading data for sensor 3\n\r" +
	"Finished reading data for sensor 3\n\r" +
	"Finished dumping QSPI data\n\r"

func TestCapture(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, capture(strings.NewReader(capturedLog), dir, stamp, zerolog.Nop()))

	temp, err := os.ReadFile(filepath.Join(dir, "temp_data_20240501-123000.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Temperature (Celsius)\n21.254902\n", string(temp))

	acc, err := os.ReadFile(filepath.Join(dir, "acc_data_20240501-123000.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Acceleration X (m/s^2),Acceleration Y (m/s^2),Acceleration Z (m/s^2)\n0.011765,-0.011765,1\n", string(acc))
}

func TestCapture_PartialDumpIsExported(t *testing.T) {
	dir := t.TempDir()
	cut := capturedLog[:strings.Index(capturedLog, "Reading data for sensor 1")]

	err := capture(strings.NewReader(cut), dir, stamp, zerolog.Nop())
	assert.ErrorIs(t, err, console.ErrIncomplete)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestCapture_NoDump(t *testing.T) {
	dir := t.TempDir()
	err := capture(strings.NewReader("Listening...\n"), dir, stamp, zerolog.Nop())
	assert.ErrorIs(t, err, console.ErrNoDump)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// timeoutReader returns io.EOF for the first idle reads, then its data.
type timeoutReader struct {
	idle int
	data io.Reader
}

func (r *timeoutReader) Read(p []byte) (int, error) {
	if r.idle > 0 {
		r.idle--
		return 0, io.EOF
	}
	return r.data.Read(p)
}

func TestPatientReader(t *testing.T) {
	r := &patientReader{r: &timeoutReader{idle: 3, data: strings.NewReader("abc")}}

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRecordMic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, recordMic(strings.NewReader("12\r\n-34\r\n"), dir, stamp, zerolog.Nop()))

	data, err := os.ReadFile(filepath.Join(dir, "audio_data_20240501-123000.csv"))
	require.NoError(t, err)
	assert.Equal(t, "12\n-34\n", string(data))
}

func TestConvertBuffers(t *testing.T) {
	dir := t.TempDir()
	in := "audioBufferLeft[0]\tint32_t\t5\naudioBufferRight[0]\tint32_t\t-6\n"
	require.NoError(t, convertBuffers(strings.NewReader(in), dir, stamp, zerolog.Nop()))

	data, err := os.ReadFile(filepath.Join(dir, "audio_data_20240501-123000.csv"))
	require.NoError(t, err)
	assert.Equal(t, "audioBufferLeft,audioBufferRight\n5,-6\n", string(data))

	assert.Error(t, convertBuffers(strings.NewReader("empty\n"), dir, stamp, zerolog.Nop()))
}
