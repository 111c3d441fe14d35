package flashlog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/voicelog/pkg/flash"
	"github.com/itohio/voicelog/pkg/layout"
	"github.com/itohio/voicelog/pkg/quant"
	"github.com/itohio/voicelog/pkg/sensor"
)

var testRanges = [sensor.NumChannels]quant.Range{
	sensor.Temperature:   {Min: -40, Max: 120},
	sensor.Humidity:      {Min: 0, Max: 100},
	sensor.Accelerometer: {Min: -3, Max: 3},
	sensor.Gyroscope:     {Min: -1000, Max: 1000},
}

// tiny has room for 4 temperature, 2 humidity, 2 accelerometer and 1 gyroscope readings.
var tinyGeom = flash.Geometry{Size: 0x100, SectorSize: 0x40, PageSize: 0x10}

func newTiny(t *testing.T) (*Log, *flash.Mem) {
	t.Helper()
	l, err := layout.New(tinyGeom, tinyGeom, 0x10, [sensor.NumChannels]uint32{16, 8, 24, 12})
	require.NoError(t, err)

	dev := flash.NewMem(tinyGeom)
	log, err := New(dev, l, testRanges)
	require.NoError(t, err)
	return log, dev
}

func newDefault(t *testing.T) (*Log, *flash.Mem) {
	t.Helper()
	dev := flash.NewMem(flash.MX25R6435F())
	log, err := New(dev, layout.Default(), testRanges)
	require.NoError(t, err)
	return log, dev
}

func collect(t *testing.T, log *Log) []Record {
	t.Helper()
	var out []Record
	for rec, err := range log.DumpAll() {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestNew_CursorsAtBase(t *testing.T) {
	log, dev := newDefault(t)
	for _, r := range layout.Default().Regions() {
		assert.Equal(t, r.Base, log.Cursor(r.Channel))
		assert.Equal(t, 0, log.Count(r.Channel))
		assert.Equal(t, int(r.Records()), log.Remaining(r.Channel))
	}
	assert.Equal(t, 0, dev.Count(flash.OpErase), "New must not touch the device")
}

func TestNew_InvalidRange(t *testing.T) {
	ranges := testRanges
	ranges[sensor.Humidity] = quant.Range{Min: 100, Max: 0}
	_, err := New(flash.NewMem(flash.MX25R6435F()), layout.Default(), ranges)
	assert.Error(t, err)
}

func TestAppend_AdvancesCursor(t *testing.T) {
	log, dev := newDefault(t)
	base := log.Cursor(sensor.Accelerometer)

	require.NoError(t, log.Append(sensor.Accelerometer, []float32{0, 1.5, -3}))
	assert.Equal(t, base+12, log.Cursor(sensor.Accelerometer))
	assert.Equal(t, 1, log.Count(sensor.Accelerometer))

	// three codes, the written mark, then erased padding up to the 12 byte slot
	want := []byte{128, 191, 0, Written, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	assert.Equal(t, want, dev.Bytes(base, 12))
}

func TestAppend_WrongWidth(t *testing.T) {
	log, dev := newDefault(t)

	err := log.Append(sensor.Temperature, []float32{1, 2})
	assert.ErrorIs(t, err, ErrRecordWidth)
	err = log.Append(sensor.Gyroscope, []float32{1})
	assert.ErrorIs(t, err, ErrRecordWidth)
	assert.Equal(t, 0, dev.Count(flash.OpWrite))
}

func TestAppend_InvalidSelector(t *testing.T) {
	log, dev := newDefault(t)

	err := log.Append(sensor.Channel(5), []float32{1})
	assert.ErrorIs(t, err, ErrInvalidSelector)
	assert.False(t, Fatal(err))
	assert.Equal(t, 0, dev.Count(flash.OpWrite))
}

func TestAppend_RegionFull(t *testing.T) {
	log, dev := newTiny(t)

	for i := range 4 {
		require.NoError(t, log.Append(sensor.Temperature, []float32{float32(i)}))
	}
	assert.Equal(t, 0, log.Remaining(sensor.Temperature))
	writes := dev.Count(flash.OpWrite)

	err := log.Append(sensor.Temperature, []float32{5})
	require.ErrorIs(t, err, ErrRegionFull)
	assert.False(t, Fatal(err))

	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, sensor.Temperature, capErr.Channel)
	assert.Equal(t, uint32(0x20), capErr.Cursor)
	assert.Equal(t, uint32(0x20), capErr.End)

	assert.Equal(t, writes, dev.Count(flash.OpWrite), "a full region must not be written")
	assert.Equal(t, uint32(0x20), log.Cursor(sensor.Temperature))

	// neighbouring region is untouched and still accepts data
	require.NoError(t, log.Append(sensor.Humidity, []float32{50}))
	assert.Equal(t, []byte{128, Written, 0xFF, 0xFF}, dev.Bytes(0x20, 4))
}

func TestAppend_GyroscopeSingleSlot(t *testing.T) {
	log, _ := newTiny(t)

	require.NoError(t, log.Append(sensor.Gyroscope, []float32{1, 2, 3}))
	err := log.Append(sensor.Gyroscope, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrRegionFull)
	assert.Equal(t, 1, log.Count(sensor.Gyroscope))
}

func TestAppend_DeviceFault(t *testing.T) {
	log, dev := newDefault(t)
	base := log.Cursor(sensor.Humidity)

	dev.Fail(flash.OpWrite, errors.New("qspi busy"))
	err := log.Append(sensor.Humidity, []float32{40})
	require.Error(t, err)
	assert.True(t, Fatal(err))
	assert.ErrorIs(t, err, flash.ErrDevice)

	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "write", devErr.Op)
	assert.Equal(t, base, devErr.Addr)
	assert.Equal(t, base, log.Cursor(sensor.Humidity), "cursor must not move on failure")
}

func TestDumpAll_AccelerometerRoundTrip(t *testing.T) {
	log, _ := newDefault(t)

	samples := [][]float32{
		{0.01, -0.02, 0.98},
		{1.25, 2.9, -2.5},
		{-3, 3, 0},
	}
	for _, s := range samples {
		require.NoError(t, log.Append(sensor.Accelerometer, s))
	}

	records := collect(t, log)
	require.Len(t, records, 3)

	step := testRanges[sensor.Accelerometer].Step()
	for i, rec := range records {
		assert.Equal(t, sensor.Accelerometer, rec.Channel)
		assert.Equal(t, i, rec.Index)
		require.Len(t, rec.Values, 3)
		for j, v := range rec.Values {
			assert.LessOrEqual(t, math32.Abs(v-samples[i][j]), step, "record %d scalar %d", i, j)
		}
	}
}

func TestDumpAll_ChannelOrder(t *testing.T) {
	log, _ := newDefault(t)

	require.NoError(t, log.Append(sensor.Gyroscope, []float32{100, -100, 0}))
	require.NoError(t, log.Append(sensor.Temperature, []float32{21.5}))
	require.NoError(t, log.Append(sensor.Humidity, []float32{45}))
	require.NoError(t, log.Append(sensor.Temperature, []float32{22}))

	records := collect(t, log)
	require.Len(t, records, 4)

	got := make([]sensor.Channel, len(records))
	for i, rec := range records {
		got[i] = rec.Channel
	}
	assert.Equal(t, []sensor.Channel{sensor.Temperature, sensor.Temperature, sensor.Humidity, sensor.Gyroscope}, got)
	assert.InDelta(t, 21.5, records[0].Values[0], float64(testRanges[sensor.Temperature].Step()))
	assert.InDelta(t, 22, records[1].Values[0], float64(testRanges[sensor.Temperature].Step()))
}

func TestDumpAll_Restartable(t *testing.T) {
	log, dev := newDefault(t)
	require.NoError(t, log.Append(sensor.Humidity, []float32{10}))
	require.NoError(t, log.Append(sensor.Humidity, []float32{20}))

	first := collect(t, log)
	reads := dev.Count(flash.OpRead)
	second := collect(t, log)

	assert.Equal(t, first, second)
	assert.Equal(t, 2*reads, dev.Count(flash.OpRead), "a second pass must re-read storage")
}

func TestDumpAll_Lazy(t *testing.T) {
	log, dev := newDefault(t)
	for i := range 5 {
		require.NoError(t, log.Append(sensor.Temperature, []float32{float32(i)}))
	}

	for range log.DumpAll() {
		break
	}
	assert.Equal(t, 1, dev.Count(flash.OpRead))
}

func TestDumpAll_ReadFaultAborts(t *testing.T) {
	log, dev := newDefault(t)
	require.NoError(t, log.Append(sensor.Temperature, []float32{1}))
	require.NoError(t, log.Append(sensor.Gyroscope, []float32{1, 2, 3}))

	dev.Fail(flash.OpRead, errors.New("bus error"))

	var errs []error
	n := 0
	for _, err := range log.DumpAll() {
		n++
		if err != nil {
			errs = append(errs, err)
		}
	}
	assert.Equal(t, 1, n, "dump must stop at the first failed read")
	require.Len(t, errs, 1)
	assert.True(t, Fatal(errs[0]))
}

func TestDump_SingleChannel(t *testing.T) {
	log, _ := newDefault(t)
	require.NoError(t, log.Append(sensor.Temperature, []float32{1}))
	require.NoError(t, log.Append(sensor.Humidity, []float32{2}))

	n := 0
	for rec, err := range log.Dump(sensor.Humidity) {
		require.NoError(t, err)
		assert.Equal(t, sensor.Humidity, rec.Channel)
		n++
	}
	assert.Equal(t, 1, n)

	for _, err := range log.Dump(sensor.Channel(8)) {
		assert.ErrorIs(t, err, ErrInvalidSelector)
	}
}

func TestEraseAll(t *testing.T) {
	log, dev := newTiny(t)
	for range 4 {
		require.NoError(t, log.Append(sensor.Temperature, []float32{20}))
	}
	require.NoError(t, log.Append(sensor.Accelerometer, []float32{0, 0, 1}))

	require.NoError(t, log.EraseAll())
	for _, r := range log.Layout().Regions() {
		assert.Equal(t, r.Base, log.Cursor(r.Channel), r.String())
	}
	assert.Empty(t, collect(t, log))

	// the erased slots can be programmed again
	require.NoError(t, log.Append(sensor.Temperature, []float32{30}))
	assert.Equal(t, 1, dev.Count(flash.OpErase))
}

func TestEraseAll_Fault(t *testing.T) {
	log, dev := newTiny(t)
	require.NoError(t, log.Append(sensor.Temperature, []float32{20}))
	cursor := log.Cursor(sensor.Temperature)

	dev.Fail(flash.OpErase, errors.New("erase timeout"))
	err := log.EraseAll()
	assert.True(t, Fatal(err))
	assert.Equal(t, cursor, log.Cursor(sensor.Temperature))
}

func TestResume_ImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	l, err := layout.New(tinyGeom, tinyGeom, 0x10, [sensor.NumChannels]uint32{16, 8, 24, 12})
	require.NoError(t, err)

	dev, err := flash.OpenFile(path, tinyGeom)
	require.NoError(t, err)
	first, err := New(dev, l, testRanges)
	require.NoError(t, err)
	require.NoError(t, first.EraseAll())
	require.NoError(t, first.Append(sensor.Temperature, []float32{-40}))
	require.NoError(t, first.Append(sensor.Gyroscope, []float32{1000, 0, -1000}))
	require.NoError(t, dev.Close())

	dev, err = flash.OpenFile(path, tinyGeom)
	require.NoError(t, err)
	defer dev.Close()
	second, err := New(dev, l, testRanges)
	require.NoError(t, err)
	require.NoError(t, second.Resume())

	assert.Equal(t, 1, second.Count(sensor.Temperature))
	assert.Equal(t, 0, second.Count(sensor.Humidity))
	assert.Equal(t, 0, second.Remaining(sensor.Gyroscope))

	// code 0xFF over the earlier code 0x00 would need an erase
	require.NoError(t, second.Append(sensor.Temperature, []float32{120}))

	var temps []float32
	for rec, err := range second.Dump(sensor.Temperature) {
		require.NoError(t, err)
		temps = append(temps, rec.Values[0])
	}
	assert.Equal(t, []float32{-40, 120}, temps)
}

func TestResume_Counts(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4} {
		log, dev := newTiny(t)
		for i := range n {
			require.NoError(t, log.Append(sensor.Temperature, []float32{float32(i)}))
		}
		require.NoError(t, log.Append(sensor.Accelerometer, []float32{0, 0, 1}))

		again, err := New(dev, log.Layout(), testRanges)
		require.NoError(t, err)
		require.NoError(t, again.Resume())
		for _, c := range sensor.Channels {
			assert.Equal(t, log.Cursor(c), again.Cursor(c), "%d readings, %s", n, c)
		}
	}
}

func TestResume_ReadFault(t *testing.T) {
	log, dev := newTiny(t)
	require.NoError(t, log.Append(sensor.Humidity, []float32{10}))

	again, err := New(dev, log.Layout(), testRanges)
	require.NoError(t, err)
	dev.Fail(flash.OpRead, errors.New("bus error"))

	err = again.Resume()
	assert.True(t, Fatal(err))
	assert.Equal(t, uint32(0x20), again.Cursor(sensor.Humidity), "cursors stay at base")
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("halt")
	require.NoError(t, err)
	assert.Equal(t, DumpAndHalt, p)
	assert.Equal(t, "halt", p.String())

	p, err = ParsePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, RejectWhenFull, p)

	_, err = ParsePolicy("panic")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	log, dev := newTiny(t)
	require.NoError(t, log.Verify())

	dev.Fail(flash.OpInfo, errors.New("no response"))
	err := log.Verify()
	assert.True(t, Fatal(err))
	assert.EqualError(t, err, "failed to get info from chip: flash device error: info: no response")

	other, err := New(flash.NewMem(flash.MX25R6435F()), log.Layout(), testRanges)
	require.NoError(t, err)
	err = other.Verify()
	assert.ErrorIs(t, err, layout.ErrConfiguration)
	assert.False(t, Fatal(err))
}

func TestDeviceError_Message(t *testing.T) {
	err := &DeviceError{Op: "write", Addr: 0x50, Err: errors.New("timeout")}
	assert.Equal(t, "failed to write data at address: 0x00000050: timeout", err.Error())

	err = &DeviceError{Op: "erase", Err: errors.New("timeout")}
	assert.Equal(t, "failed to erase chip: timeout", err.Error())
}
