package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bodul/xwindex/internal/convert"
	"github.com/bodul/xwindex/internal/puzzle"
	"github.com/bodul/xwindex/internal/store"
)

const (
	maxPuzzleSize = 1 << 20  // 1 Mo
	maxUploadSize = 10 << 20 // 10 Mo
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter allows n requests per interval, in bursts of up to n.
// Values of n below 1 mean 1.
func newRateLimiter(n int, interval time.Duration) *rateLimiter {
	n = max(n, 1)
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(interval / time.Duration(n)),
		burst:    n,
	}
	// Cleanup stale entries every minute.
	go func() {
		for {
			time.Sleep(time.Minute)
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > 5*time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}()
	return rl
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Scanner extracts a puzzle from a photo of a solved grid.
type Scanner interface {
	ScanPuzzle(ctx context.Context, imageData []byte, mimeType string) (*puzzle.Puzzle, error)
}

// Server is the main HTTP server.
type Server struct {
	mux      *http.ServeMux
	store    store.Store
	conv     *convert.Converter
	scanner  Scanner
	sse      *Broadcaster
	uploadRL *rateLimiter
	log      *slog.Logger
}

// NewServer creates a configured HTTP server. A nil scanner disables photo
// scans.
func NewServer(st store.Store, conv *convert.Converter, scanner Scanner, uploadsPerMinute int, log *slog.Logger) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		store:    st,
		conv:     conv,
		scanner:  scanner,
		sse:      NewBroadcaster(),
		uploadRL: newRateLimiter(uploadsPerMinute, time.Minute),
		log:      log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Puzzle API
	s.mux.HandleFunc("POST /api/puzzles", s.handleCreatePuzzle)
	s.mux.HandleFunc("GET /api/puzzles", s.handleListPuzzles)
	s.mux.HandleFunc("GET /api/puzzles/{id}", s.handleGetPuzzle)
	s.mux.HandleFunc("POST /api/scans", s.handleScan)

	// Lookups
	s.mux.HandleFunc("GET /api/words/{word}", s.handleFindWord)
	s.mux.HandleFunc("POST /api/locate", s.handleLocate)

	s.mux.HandleFunc("GET /api/events", s.handleEvents)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	s.mux.ServeHTTP(w, r)
}

// Indexed stores an index produced outside the HTTP API (the watcher) and
// notifies subscribers.
func (s *Server) Indexed(ctx context.Context, source string, idx puzzle.Index) {
	rec, err := s.store.Save(ctx, &store.Record{Source: source, Index: idx})
	if err != nil {
		s.log.Error("store index", "source", source, "err", err)
		return
	}
	s.publishIndexed(rec)
}

// Removed drops the record of a removed input file and notifies subscribers.
func (s *Server) Removed(ctx context.Context, source string) {
	err := s.store.DeleteSource(ctx, source)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error("delete index", "source", source, "err", err)
		return
	}
	err = s.sse.Publish(feedPuzzles, Event{Type: "puzzle_removed", Data: map[string]string{"source": source}})
	if err != nil {
		s.log.Error("publish", "feed", feedPuzzles, "err", err)
	}
}

func (s *Server) publishIndexed(rec *store.Record) {
	err := s.sse.Publish(feedPuzzles, Event{Type: "puzzle_indexed", Data: map[string]any{
		"id":     rec.ID,
		"source": rec.Source,
		"across": len(rec.Index.A),
		"down":   len(rec.Index.D),
	}})
	if err != nil {
		s.log.Error("publish", "feed", feedPuzzles, "err", err)
	}
}

// --- Puzzle handlers ---

// POST /api/puzzles: index a puzzle JSON body and store it.
func (s *Server) handleCreatePuzzle(w http.ResponseWriter, r *http.Request) {
	if !s.uploadRL.allow(clientIP(r)) {
		jsonError(w, "Trop de requêtes, réessayez plus tard", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPuzzleSize)
	var p puzzle.Puzzle
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		jsonError(w, "Grille JSON invalide", http.StatusBadRequest)
		return
	}

	s.indexAndStore(w, r, &p)
}

// POST /api/scans: extract a puzzle from a photo, then index it.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if !s.uploadRL.allow(clientIP(r)) {
		jsonError(w, "Trop de requêtes, réessayez plus tard", http.StatusTooManyRequests)
		return
	}

	if s.scanner == nil {
		jsonError(w, "Analyse d'image non configurée", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		jsonError(w, "Image trop volumineuse (max 10 Mo)", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		jsonError(w, "Champ 'image' requis", http.StatusBadRequest)
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if !allowedMIME[mimeType] {
		jsonError(w, "Format accepté : JPEG ou PNG", http.StatusBadRequest)
		return
	}

	imageData, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "Erreur de lecture de l'image", http.StatusInternalServerError)
		return
	}

	s.publishScan("scan_started", header.Filename, nil)
	p, err := s.scanner.ScanPuzzle(r.Context(), imageData, mimeType)
	if err != nil {
		s.log.Error("scan", "file", header.Filename, "err", err)
		s.publishScan("scan_failed", header.Filename, err)
		jsonError(w, "Erreur lors de l'analyse de la grille", http.StatusUnprocessableEntity)
		return
	}

	s.indexAndStore(w, r, p)
}

func (s *Server) publishScan(kind, filename string, scanErr error) {
	payload := map[string]string{"file": filename}
	if scanErr != nil {
		payload["error"] = scanErr.Error()
	}
	if err := s.sse.Publish(feedScans, Event{Type: kind, Data: payload}); err != nil {
		s.log.Error("publish", "feed", feedScans, "err", err)
	}
}

func (s *Server) indexAndStore(w http.ResponseWriter, r *http.Request, p *puzzle.Puzzle) {
	idx, err := s.conv.Index(p)
	if err != nil {
		jsonError(w, "Grille invalide : "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	rec, err := s.store.Save(r.Context(), &store.Record{Index: idx})
	if err != nil {
		s.log.Error("store index", "err", err)
		jsonError(w, "Erreur d'enregistrement", http.StatusInternalServerError)
		return
	}
	s.publishIndexed(rec)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

// GET /api/puzzles: list stored indices, most recent first.
func (s *Server) handleListPuzzles(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.log.Error("list puzzles", "err", err)
		jsonError(w, "Erreur de lecture", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*store.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// GET /api/puzzles/{id}: get a single stored index.
func (s *Server) handleGetPuzzle(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "Grille introuvable", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("get puzzle", "err", err)
		jsonError(w, "Erreur de lecture", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// --- Lookup handlers ---

// GET /api/words/{word}: every stored entry for an answer.
func (s *Server) handleFindWord(w http.ResponseWriter, r *http.Request) {
	word := strings.TrimSpace(r.PathValue("word"))
	if word == "" {
		jsonError(w, "Mot requis", http.StatusBadRequest)
		return
	}

	hits, err := s.store.FindWord(r.Context(), word)
	if err != nil {
		s.log.Error("find word", "word", word, "err", err)
		jsonError(w, "Erreur de lecture", http.StatusInternalServerError)
		return
	}
	if hits == nil {
		hits = []store.Hit{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"word": word, "hits": hits})
}

// POST /api/locate: run a matcher on a single haystack.
func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Word     string   `json:"word"`
		Haystack []string `json:"haystack"`
		Matcher  string   `json:"matcher"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPuzzleSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Word == "" {
		jsonError(w, "Champs 'word' et 'haystack' requis", http.StatusBadRequest)
		return
	}

	loc, err := puzzle.LocatorByName(req.Matcher)
	if err != nil {
		jsonError(w, "Matcher inconnu : forward ou restart", http.StatusBadRequest)
		return
	}

	m := loc.Locate(req.Word, req.Haystack)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"offset": m.Offset, "found": m.Found()})
}

// GET /api/events?feed=puzzles|scans: SSE stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	feed := r.URL.Query().Get("feed")
	switch feed {
	case "":
		feed = feedPuzzles
	case feedPuzzles, feedScans:
	default:
		jsonError(w, "Flux inconnu", http.StatusBadRequest)
		return
	}
	s.sse.ServeSSE(w, r, feed)
}

// --- Helpers ---

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusWriter captures the HTTP status for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// requestLogger logs method, path, status and duration of each request.
func requestLogger(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"dur", time.Since(start).Round(time.Millisecond),
		)
	})
}
