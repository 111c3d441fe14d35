package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLines(t *testing.T) {
	in := "Dominant Frequency: 437.50 Hz\r\n\r\nsensor choice: 0 \r\n-1234\r\n"

	var buf bytes.Buffer
	n, err := RecordLines(strings.NewReader(in), &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "Dominant Frequency: 437.50 Hz\nsensor choice: 0\n-1234\n", buf.String())
}

func TestRecordLines_Quotes(t *testing.T) {
	var buf bytes.Buffer
	n, err := RecordLines(strings.NewReader("a, b\n"), &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "\"a, b\"\n", buf.String())
}

func TestParseBuffers(t *testing.T) {
	in := `audioBufferLeft[0]	int32_t	-512
audioBufferRight[0]	int32_t	256
audioBufferLeft[1]	int32_t	1024
	some other variable	int32_t	7
audioBufferRight[1]	int32_t	-768
audioBufferLeft[2]	int32_t	3
`
	b, err := ParseBuffers(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []int32{-512, 1024}, b.Left)
	assert.Equal(t, []int32{256, -768}, b.Right)

	var buf bytes.Buffer
	require.NoError(t, b.WriteCSV(&buf))
	assert.Equal(t, "audioBufferLeft,audioBufferRight\n-512,256\n1024,-768\n", buf.String())
}

func TestParseBuffers_Empty(t *testing.T) {
	b, err := ParseBuffers(strings.NewReader("nothing here\n"))
	require.NoError(t, err)
	assert.Empty(t, b.Left)

	var buf bytes.Buffer
	require.NoError(t, b.WriteCSV(&buf))
	assert.Equal(t, "audioBufferLeft,audioBufferRight\n", buf.String())
}

func TestMicFileName(t *testing.T) {
	stamp := time.Date(2024, 12, 1, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "audio_data_20241201-150405.csv", MicFileName(stamp))
}
