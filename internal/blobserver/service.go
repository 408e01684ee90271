package blobserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/beamchat/internal/logger"
)

// profileRule is one upload profile: which content types are accepted, how
// large the object may be and which extension the stored name carries.
type profileRule struct {
	maxSize int64
	exts    map[string]string // content type -> extension
}

var profiles = map[string]profileRule{
	"image": {
		maxSize: 10 << 20,
		exts: map[string]string{
			"image/jpeg": ".jpg",
			"image/png":  ".png",
			"image/gif":  ".gif",
			"image/webp": ".webp",
		},
	},
	"voice": {
		maxSize: 25 << 20,
		exts: map[string]string{
			"audio/webm": ".webm",
			"audio/ogg":  ".ogg",
			"audio/mpeg": ".mp3",
			"audio/mp4":  ".m4a",
			"audio/wav":  ".wav",
		},
	},
}

type uploadResponse struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Service stores uploaded blobs on disk under uuid names and serves them back.
type Service struct {
	Dir string
}

func New(dir string) *Service {
	return &Service{Dir: dir}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("blobserver writeJSON: %v", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Upload handles POST /upload?profile=image|voice with the raw object as the
// request body and its type in Content-Type.
func (s *Service) Upload(w http.ResponseWriter, r *http.Request) {
	rule, ok := profiles[r.URL.Query().Get("profile")]
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown profile")
		return
	}
	contentType := r.Header.Get("Content-Type")
	ext, ok := rule.exts[contentType]
	if !ok {
		s.writeError(w, http.StatusUnsupportedMediaType, "content type not allowed for profile")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rule.maxSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "object too large")
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "empty body")
		return
	}
	if !matchMagic(contentType, data) {
		s.writeError(w, http.StatusBadRequest, "content does not match type")
		return
	}

	name := uuid.New().String() + ext
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create blob dir")
		return
	}
	if err := os.WriteFile(filepath.Join(s.Dir, name), data, 0o644); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store object")
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{URL: "/blob/" + name, Size: int64(len(data))})
}

// Serve handles GET /blob/{name}.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, name string) {
	name = filepath.Base(name)
	f, err := os.Open(filepath.Join(s.Dir, name))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "object not found")
		return
	}
	defer f.Close()
	if ct := contentTypeByExt(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

func contentTypeByExt(ext string) string {
	for _, rule := range profiles {
		for ct, e := range rule.exts {
			if e == ext {
				return ct
			}
		}
	}
	return ""
}

// matchMagic sniffs the leading bytes for the formats we can cheaply verify;
// formats without a stable signature pass through.
func matchMagic(contentType string, data []byte) bool {
	switch contentType {
	case "image/jpeg":
		return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
	case "image/png":
		return len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case "image/gif":
		return len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a")))
	case "image/webp":
		return len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP"))
	case "audio/webm":
		return len(data) >= 4 && bytes.Equal(data[:4], []byte{0x1A, 0x45, 0xDF, 0xA3})
	case "audio/ogg":
		return len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS"))
	case "audio/wav":
		return len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
	}
	return true
}
