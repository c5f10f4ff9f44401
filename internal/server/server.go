// Package server exposes the song library over a JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"songbook/internal/library"
	"songbook/internal/store"
)

// maxImportBytes bounds an uploaded backup document. Payloads travel as
// base64 inside the JSON, so this has to be generous.
const maxImportBytes = 256 << 20

// Server routes API requests to the library.
type Server struct {
	library *library.Library

	readLimiter  *limiter
	writeLimiter *limiter
	stopCleanup  chan struct{}
}

// New builds the server and its rate limiters from the library config.
func New(l *library.Library, limits store.RateLimits) *Server {
	s := &Server{
		library:      l,
		readLimiter:  newLimiter(limits.ReadPerMin),
		writeLimiter: newLimiter(limits.WritePerMin),
		stopCleanup:  make(chan struct{}),
	}
	go s.readLimiter.cleanupLoop(s.stopCleanup)
	go s.writeLimiter.cleanupLoop(s.stopCleanup)
	return s
}

// Close stops the limiter cleanup goroutines.
func (s *Server) Close() {
	close(s.stopCleanup)
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := &http.ServeMux{}
	mux.HandleFunc("GET /api/health", s.health)

	mux.HandleFunc("GET /api/songs", s.listSongs)
	mux.HandleFunc("POST /api/songs", s.saveSong)
	mux.HandleFunc("GET /api/songs/{id}", s.getSong)
	mux.HandleFunc("DELETE /api/songs/{id}", s.deleteSong)
	mux.HandleFunc("GET /api/songs/{id}/pdf", s.servePDF)
	mux.HandleFunc("GET /api/songs/{id}/audio", s.serveAudio)

	mux.HandleFunc("GET /api/categories", s.listCategories)
	mux.HandleFunc("POST /api/categories", s.addCategory)
	mux.HandleFunc("DELETE /api/categories/{name}", s.removeCategory)

	mux.HandleFunc("GET /api/tags", s.listTags)

	mux.HandleFunc("GET /api/playlists", s.listPlaylists)
	mux.HandleFunc("POST /api/playlists", s.createPlaylist)
	mux.HandleFunc("GET /api/playlists/{id}", s.getPlaylist)
	mux.HandleFunc("PUT /api/playlists/{id}", s.renamePlaylist)
	mux.HandleFunc("DELETE /api/playlists/{id}", s.deletePlaylist)
	mux.HandleFunc("POST /api/playlists/{id}/songs", s.addPlaylistSong)
	mux.HandleFunc("DELETE /api/playlists/{id}/songs/{songID}", s.removePlaylistSong)

	mux.HandleFunc("GET /api/export", s.export)
	mux.HandleFunc("POST /api/import", s.importBackup)

	return s.rateLimit(mux)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r, w, map[string]any{"status": "ok", "songs": s.library.Store().CountSongs()})
}

func (s *Server) listSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := s.library.ListSongsByTitle()
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"songs": songs})
}

// saveSongRequest is the POST /api/songs body: song fields plus optional
// inline payloads. A save without payload fields keeps the attachments the
// stored song already has.
type saveSongRequest struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Artist    string   `json:"artist"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	PDFName   string   `json:"pdfName"`
	AudioName string   `json:"audioName"`
	PDFB64    string   `json:"pdfB64"`
	PDFMime   string   `json:"pdfMime"`
	AudioB64  string   `json:"audioB64"`
	AudioMime string   `json:"audioMime"`
}

func (s *Server) saveSong(w http.ResponseWriter, r *http.Request) {
	var req saveSongRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	song := &store.Song{
		ID:        req.ID,
		Title:     req.Title,
		Artist:    req.Artist,
		Category:  req.Category,
		Tags:      req.Tags,
		PDFName:   req.PDFName,
		AudioName: req.AudioName,
	}
	if req.ID != "" {
		prev, err := s.library.GetSong(req.ID)
		if err != nil {
			writeFailure(r, w, err)
			return
		}
		if prev != nil {
			song.PDF = prev.PDF
			song.Audio = prev.Audio
		}
	}
	if req.PDFB64 != "" {
		mime := req.PDFMime
		if mime == "" {
			mime = library.DefaultPDFMime
		}
		blob, err := s.library.Store().PutBlobBase64(req.PDFB64, mime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pdf payload")
			return
		}
		song.PDF = blob
	}
	if req.AudioB64 != "" {
		mime := req.AudioMime
		if mime == "" {
			mime = library.DefaultAudioMime
		}
		blob, err := s.library.Store().PutBlobBase64(req.AudioB64, mime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid audio payload")
			return
		}
		song.Audio = blob
	}

	saved, err := s.library.SaveSong(song)
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, saved)
}

func (s *Server) getSong(w http.ResponseWriter, r *http.Request) {
	song, err := s.library.GetSong(r.PathValue("id"))
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	if song == nil {
		writeError(w, http.StatusNotFound, "song not found")
		return
	}
	writeJSON(r, w, song)
}

func (s *Server) deleteSong(w http.ResponseWriter, r *http.Request) {
	if err := s.library.DeleteSong(r.PathValue("id")); err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"deleted": true})
}

func (s *Server) servePDF(w http.ResponseWriter, r *http.Request) {
	s.serveBlob(w, r, func(song *store.Song) (store.Blob, string) { return song.PDF, song.PDFName })
}

func (s *Server) serveAudio(w http.ResponseWriter, r *http.Request) {
	s.serveBlob(w, r, func(song *store.Song) (store.Blob, string) { return song.Audio, song.AudioName })
}

// serveBlob streams a song attachment with its stored MIME type.
func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request, pick func(*store.Song) (store.Blob, string)) {
	song, err := s.library.GetSong(r.PathValue("id"))
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	if song == nil {
		writeError(w, http.StatusNotFound, "song not found")
		return
	}
	blob, name := pick(song)
	if blob.IsZero() {
		writeError(w, http.StatusNotFound, "no attachment")
		return
	}
	rc, err := s.library.Store().OpenBlob(blob.Ref)
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	defer func() {
		_ = rc.Close()
	}()
	w.Header().Set("Content-Type", blob.Mime)
	w.Header().Set("Content-Length", strconv.FormatInt(blob.Ref.Size(), 10))
	if name != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.WarnContext(r.Context(), "Failed to stream attachment", "song", song.ID, "err", err)
	}
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.library.Registry().Categories()
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"categories": cats})
}

func (s *Server) addCategory(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.library.Registry().AddCategory(req.Name); err != nil {
		writeFailure(r, w, err)
		return
	}
	s.listCategories(w, r)
}

func (s *Server) removeCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.library.Registry().RemoveCategory(r.PathValue("name")); err != nil {
		writeFailure(r, w, err)
		return
	}
	s.listCategories(w, r)
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.library.Registry().Tags()
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"tags": tags})
}

func (s *Server) listPlaylists(w http.ResponseWriter, r *http.Request) {
	pls, err := s.library.Registry().Playlists()
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"playlists": pls})
}

func (s *Server) createPlaylist(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	pl, err := s.library.Registry().CreatePlaylist(req.Name)
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, pl)
}

func (s *Server) getPlaylist(w http.ResponseWriter, r *http.Request) {
	pl, songs, err := s.library.ResolvePlaylist(r.PathValue("id"))
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	if pl == nil {
		writeError(w, http.StatusNotFound, "playlist not found")
		return
	}
	writeJSON(r, w, map[string]any{"playlist": pl, "songs": songs})
}

func (s *Server) renamePlaylist(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.library.Registry().RenamePlaylist(r.PathValue("id"), req.Name); err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"renamed": true})
}

func (s *Server) deletePlaylist(w http.ResponseWriter, r *http.Request) {
	if err := s.library.Registry().DeletePlaylist(r.PathValue("id")); err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"deleted": true})
}

type playlistSongRequest struct {
	SongID string `json:"songId"`
}

func (s *Server) addPlaylistSong(w http.ResponseWriter, r *http.Request) {
	var req playlistSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SongID == "" {
		writeError(w, http.StatusBadRequest, "songId is required")
		return
	}
	if err := s.library.Registry().AddSongToPlaylist(r.PathValue("id"), req.SongID); err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"added": true})
}

func (s *Server) removePlaylistSong(w http.ResponseWriter, r *http.Request) {
	if err := s.library.Registry().RemoveSongFromPlaylist(r.PathValue("id"), r.PathValue("songID")); err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"removed": true})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	includeFiles := r.URL.Query().Get("files") != "0"
	doc, err := s.library.Export(includeFiles)
	if err != nil {
		writeFailure(r, w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="songbook-backup.json"`)
	writeJSON(r, w, doc)
}

func (s *Server) importBackup(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r, maxImportBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := s.library.Import(data); err != nil {
		writeFailure(r, w, err)
		return
	}
	writeJSON(r, w, map[string]any{"imported": true, "songs": s.library.Store().CountSongs()})
}

// readBody reads the request body with a size cap.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, limit)
	data, err := io.ReadAll(body)
	if err2 := body.Close(); err == nil {
		err = err2
	}
	return data, err
}

// writeFailure maps domain errors onto HTTP status codes.
func writeFailure(r *http.Request, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, library.ErrInvalidBackup), errors.Is(err, library.ErrTitleRequired):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Handler error", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

func writeJSON(r *http.Request, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "Failed to encode response", "err", err)
	}
}
