package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-scan-service/internal/client"
	"receipt-scan-service/internal/service"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestReadImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))

	t.Run("png accepted by content", func(t *testing.T) {
		path := writeFile(t, "scan", buf.Bytes())
		content, contentType, err := readImage(path)
		require.NoError(t, err)
		assert.Equal(t, "image/png", contentType)
		assert.Equal(t, buf.Bytes(), content)
	})

	t.Run("gif rejected", func(t *testing.T) {
		path := writeFile(t, "scan.gif", []byte("GIF89a\x01\x00\x01\x00"))
		_, _, err := readImage(path)
		assert.ErrorIs(t, err, service.ErrInvalidFile)
	})

	t.Run("oversized rejected before upload", func(t *testing.T) {
		big := make([]byte, service.DefaultMaxUploadBytes+1)
		copy(big, buf.Bytes())
		path := writeFile(t, "big.png", big)
		_, _, err := readImage(path)
		assert.ErrorIs(t, err, service.ErrFileTooLarge)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := readImage(filepath.Join(t.TempDir(), "nope.jpg"))
		assert.Error(t, err)
	})
}

func TestScanError(t *testing.T) {
	err := scanError(&client.JobFailedError{Reason: "OCR timeout"}, "abc")
	assert.EqualError(t, err, "processing failed: OCR timeout")
	var failed *client.JobFailedError
	assert.ErrorAs(t, err, &failed)

	err = scanError(client.ErrTimeout, "abc")
	assert.ErrorIs(t, err, client.ErrTimeout)
	assert.Contains(t, err.Error(), "timed out")
	assert.Contains(t, err.Error(), "abc")

	assert.Equal(t, client.ErrJobNotFound, scanError(client.ErrJobNotFound, "abc"))
}
