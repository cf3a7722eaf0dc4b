package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"op":"sleep","sleep_time_ms":0}`)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteFrameHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abc")))

	raw := buf.Bytes()
	require.Len(t, raw, 7)
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(raw[:4]))
	assert.Equal(t, []byte("abc"), raw[4:])
}

func TestEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadFramePartialReads(t *testing.T) {
	// Reads must be retried to completion even when the reader returns
	// one byte at a time.
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0xAB}, 300)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(iotest.OneByteReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameTruncated(t *testing.T) {
	// Header promises 10 bytes but the stream ends after 2.
	raw := []byte{0, 0, 0, 10, 1, 2}
	_, err := ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestReadFrameOversized(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 1<<31)
	_, err := ReadFrame(bytes.NewReader(header[:]))
	assert.Error(t, err)
}
