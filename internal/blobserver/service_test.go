package blobserver

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00}

func TestUpload_ImageRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	req := httptest.NewRequest("POST", "/upload?profile=image", bytes.NewReader(pngHeader))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	s.Upload(rec, req)

	require.Equal(t, 200, rec.Code, rec.Body.String())
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.URL, "/blob/"))
	require.Equal(t, int64(len(pngHeader)), resp.Size)

	name := strings.TrimPrefix(resp.URL, "/blob/")
	getRec := httptest.NewRecorder()
	s.Serve(getRec, httptest.NewRequest("GET", resp.URL, nil), name)
	require.Equal(t, 200, getRec.Code)
	require.Equal(t, pngHeader, getRec.Body.Bytes())
	require.Equal(t, "image/png", getRec.Header().Get("Content-Type"))
}

func TestUpload_RejectsUnknownProfile(t *testing.T) {
	s := New(t.TempDir())
	req := httptest.NewRequest("POST", "/upload?profile=video", bytes.NewReader(pngHeader))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	s.Upload(rec, req)
	require.Equal(t, 400, rec.Code)
}

func TestUpload_RejectsTypeOutsideProfile(t *testing.T) {
	s := New(t.TempDir())
	// An image content type is not acceptable under the voice profile.
	req := httptest.NewRequest("POST", "/upload?profile=voice", bytes.NewReader(pngHeader))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	s.Upload(rec, req)
	require.Equal(t, 415, rec.Code)
}

func TestUpload_RejectsMismatchedMagic(t *testing.T) {
	s := New(t.TempDir())
	req := httptest.NewRequest("POST", "/upload?profile=image", strings.NewReader("not a png at all"))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	s.Upload(rec, req)
	require.Equal(t, 400, rec.Code)
}

func TestServe_UnknownObject(t *testing.T) {
	s := New(t.TempDir())
	rec := httptest.NewRecorder()
	s.Serve(rec, httptest.NewRequest("GET", "/blob/nope.png", nil), "nope.png")
	require.Equal(t, 404, rec.Code)
}
