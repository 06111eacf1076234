package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxUploadBytes caps upload payloads at 50MB.
const maxUploadBytes = 50 << 20

var supportedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".m4a":  true,
	".aac":  true,
	".flac": true,
	".opus": true,
}

// Notifier receives the playlist-changed signal after a successful upload or
// delete. Implemented by the realtime server.
type Notifier interface {
	NotifyPlaylistChanged(ctx context.Context, filename string)
}

// Server manages the shared audio file directory: listing, upload, delete,
// and raw streaming.
type Server struct {
	dir    string
	notify Notifier
}

func NewServer(dir string, notify Notifier) *Server {
	return &Server{dir: dir, notify: notify}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/api/audio-files", s.HandleList)
	r.Post("/api/upload", s.HandleUpload)
	r.Delete("/api/delete/{filename}", s.HandleDelete)
	r.Get("/audio/{filename}", s.HandleServe)

	return r
}

// HandleList returns the filenames of every supported audio file in the
// directory.
func (s *Server) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("syncroom: library: scan %s: %v", s.dir, err)
		writeError(w, http.StatusInternalServerError, "cannot read audio directory")
		return
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the 50MB limit")
		return
	}

	file, header, err := r.FormFile("audioFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audioFile field")
		return
	}
	defer file.Close()

	filename, err := cleanFilename(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !supportedExtensions[strings.ToLower(filepath.Ext(filename))] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", filepath.Ext(filename)))
		return
	}

	dst, err := os.Create(filepath.Join(s.dir, filename))
	if err != nil {
		log.Printf("syncroom: library: create %s: %v", filename, err)
		writeError(w, http.StatusInternalServerError, "cannot store file")
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		log.Printf("syncroom: library: write %s: %v", filename, err)
		_ = os.Remove(dst.Name())
		writeError(w, http.StatusInternalServerError, "cannot store file")
		return
	}

	if s.notify != nil {
		s.notify.NotifyPlaylistChanged(r.Context(), filename)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "file uploaded",
		"filename": filename,
	})
}

func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	filename, err := cleanFilename(chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("file %q not found", filename))
			return
		}
		log.Printf("syncroom: library: delete %s: %v", filename, err)
		writeError(w, http.StatusInternalServerError, "cannot delete file")
		return
	}

	if s.notify != nil {
		s.notify.NotifyPlaylistChanged(r.Context(), filename)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("file %q deleted", filename),
	})
}

func (s *Server) HandleServe(w http.ResponseWriter, r *http.Request) {
	filename, err := cleanFilename(chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	http.ServeFile(w, r, filepath.Join(s.dir, filename))
}

// cleanFilename rejects anything that could escape the audio directory.
func cleanFilename(name string) (string, error) {
	if name == "" {
		return "", errors.New("missing filename")
	}
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", errors.New("invalid filename")
	}
	return name, nil
}
