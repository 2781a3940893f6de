package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/bodul/xwindex/internal/convert"
	"github.com/bodul/xwindex/internal/puzzle"
	"github.com/bodul/xwindex/internal/store"
)

const catPuzzleJSON = `{
	"size": {"rows": 3, "cols": 3},
	"grid": ["C","A","T","A","R","E","T","E","N"],
	"gridnums": [1,2,3,4,0,0,5,0,0],
	"answers": {"across": ["CAT","ARE","TEN"], "down": ["CAT","ARE","TEN"]}
}`

func newTestServer() *Server {
	return NewServer(store.NewMemory(), convert.New(convert.Options{}), nil, 5, slog.New(slog.DiscardHandler))
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetPuzzle(t *testing.T) {
	srv := newTestServer()

	w := do(srv, "POST", "/api/puzzles", catPuzzleJSON)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var rec store.Record
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Fatal("record ID is empty")
	}
	if rec.Index.S != 3 {
		t.Fatalf("expected s=3, got %d", rec.Index.S)
	}
	wantA := puzzle.Entries{{"CAT", 0}, {"ARE", 3}, {"TEN", 6}}
	if len(rec.Index.A) != len(wantA) {
		t.Fatalf("across: got %v", rec.Index.A)
	}
	for i, e := range wantA {
		if rec.Index.A[i] != e {
			t.Fatalf("across[%d]: expected %v, got %v", i, e, rec.Index.A[i])
		}
	}

	w = do(srv, "GET", "/api/puzzles/"+rec.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var got store.Record
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != rec.ID {
		t.Fatalf("get: expected id %s, got %s", rec.ID, got.ID)
	}
}

func TestCreatePuzzleBadJSON(t *testing.T) {
	srv := newTestServer()
	w := do(srv, "POST", "/api/puzzles", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreatePuzzleStrict(t *testing.T) {
	srv := NewServer(store.NewMemory(), convert.New(convert.Options{Strict: true}), nil, 5, slog.New(slog.DiscardHandler))
	body := `{"size":{"rows":2,"cols":2},"grid":["A","B","C"],"gridnums":[1,2,3,0],"answers":{"across":[],"down":[]}}`
	w := do(srv, "POST", "/api/puzzles", body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetPuzzleNotFound(t *testing.T) {
	srv := newTestServer()
	w := do(srv, "GET", "/api/puzzles/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListPuzzles(t *testing.T) {
	srv := newTestServer()

	w := do(srv, "GET", "/api/puzzles", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Fatalf("expected empty list, got %s", body)
	}

	do(srv, "POST", "/api/puzzles", catPuzzleJSON)
	do(srv, "POST", "/api/puzzles", catPuzzleJSON)

	w = do(srv, "GET", "/api/puzzles", "")
	var list []store.Record
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 2 {
		t.Fatalf("expected 2 puzzles, got %d", len(list))
	}
}

func TestFindWord(t *testing.T) {
	srv := newTestServer()
	do(srv, "POST", "/api/puzzles", catPuzzleJSON)

	w := do(srv, "GET", "/api/words/TEN", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Word string      `json:"word"`
		Hits []store.Hit `json:"hits"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Word != "TEN" {
		t.Fatalf("expected word TEN, got %q", resp.Word)
	}
	if len(resp.Hits) != 2 {
		t.Fatalf("expected across and down hits, got %v", resp.Hits)
	}
	for _, h := range resp.Hits {
		switch h.Direction {
		case store.Across:
			if h.Position != 6 {
				t.Fatalf("across TEN: expected 6, got %d", h.Position)
			}
		case store.Down:
			if h.Position != 2 {
				t.Fatalf("down TEN: expected 2, got %d", h.Position)
			}
		default:
			t.Fatalf("unexpected direction %q", h.Direction)
		}
	}

	w = do(srv, "GET", "/api/words/ZZZ", "")
	if body := w.Body.String(); !strings.Contains(body, `"hits":[]`) {
		t.Fatalf("expected empty hits, got %s", body)
	}
}

func TestLocate(t *testing.T) {
	srv := newTestServer()

	tests := []struct {
		body string
		want int
	}{
		{`{"word":"AT","haystack":["C","A","T"]}`, 1},
		{`{"word":"ABA","haystack":["A","A","B","A"]}`, -1},
		{`{"word":"ABA","haystack":["A","A","B","A"],"matcher":"restart"}`, 1},
	}
	for _, tt := range tests {
		w := do(srv, "POST", "/api/locate", tt.body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tt.body, w.Code)
		}
		var resp struct {
			Offset int  `json:"offset"`
			Found  bool `json:"found"`
		}
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Offset != tt.want || resp.Found != (tt.want >= 0) {
			t.Fatalf("%s: expected %d, got %+v", tt.body, tt.want, resp)
		}
	}
}

func TestLocateBadRequest(t *testing.T) {
	srv := newTestServer()

	if w := do(srv, "POST", "/api/locate", `{"haystack":["A"]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing word: expected 400, got %d", w.Code)
	}
	if w := do(srv, "POST", "/api/locate", `{"word":"A","haystack":["A"],"matcher":"kmp"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown matcher: expected 400, got %d", w.Code)
	}
}

type fakeScanner struct {
	p   *puzzle.Puzzle
	err error
}

func (f fakeScanner) ScanPuzzle(context.Context, []byte, string) (*puzzle.Puzzle, error) {
	return f.p, f.err
}

func scanRequest(t *testing.T, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="grid.png"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("\x89PNG"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/scans", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestScan(t *testing.T) {
	var p puzzle.Puzzle
	if err := json.Unmarshal([]byte(catPuzzleJSON), &p); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(store.NewMemory(), convert.New(convert.Options{}), fakeScanner{p: &p}, 5, slog.New(slog.DiscardHandler))
	sub := srv.sse.Subscribe(feedScans)
	defer srv.sse.Unsubscribe(sub)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, scanRequest(t, "image/png"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var rec store.Record
	json.NewDecoder(w.Body).Decode(&rec)
	if len(rec.Index.D) != 3 {
		t.Fatalf("expected 3 down entries, got %v", rec.Index.D)
	}

	select {
	case msg := <-sub.ch:
		if !strings.HasPrefix(string(msg), "event: scan_started") {
			t.Fatalf("unexpected event %q", msg)
		}
	default:
		t.Fatal("scan_started not published")
	}
}

func TestScanRejectsMIME(t *testing.T) {
	srv := NewServer(store.NewMemory(), convert.New(convert.Options{}), fakeScanner{}, 5, slog.New(slog.DiscardHandler))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, scanRequest(t, "image/gif"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestScanFailure(t *testing.T) {
	srv := NewServer(store.NewMemory(), convert.New(convert.Options{}), fakeScanner{err: errors.New("blurry")}, 5, slog.New(slog.DiscardHandler))
	sub := srv.sse.Subscribe(feedScans)
	defer srv.sse.Unsubscribe(sub)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, scanRequest(t, "image/jpeg"))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}

	<-sub.ch // scan_started
	select {
	case msg := <-sub.ch:
		if !strings.Contains(string(msg), "scan_failed") || !strings.Contains(string(msg), "blurry") {
			t.Fatalf("unexpected event %q", msg)
		}
	default:
		t.Fatal("scan_failed not published")
	}
}

func TestScanWithoutScanner(t *testing.T) {
	srv := newTestServer()
	w := do(srv, "POST", "/api/scans", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestEventsUnknownFeed(t *testing.T) {
	srv := newTestServer()
	w := do(srv, "GET", "/api/events?feed=games", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestIndexedStoresAndBroadcasts(t *testing.T) {
	srv := newTestServer()
	sub := srv.sse.Subscribe(feedPuzzles)
	defer srv.sse.Unsubscribe(sub)

	idx := puzzle.Index{A: puzzle.Entries{{"CAT", 0}}, D: puzzle.Entries{}, S: 3}
	srv.Indexed(context.Background(), "2020/01/05.json", idx)

	select {
	case msg := <-sub.ch:
		if !strings.Contains(string(msg), `"source":"2020/01/05.json"`) {
			t.Fatalf("unexpected event %s", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no event received")
	}

	list, _ := srv.store.List(context.Background())
	if len(list) != 1 || list[0].Source != "2020/01/05.json" {
		t.Fatalf("expected stored record, got %v", list)
	}
}

func TestRemovedDropsRecord(t *testing.T) {
	srv := newTestServer()
	ctx := context.Background()
	idx := puzzle.Index{A: puzzle.Entries{{Word: "CAT", Position: 0}}, D: puzzle.Entries{}, S: 3}
	srv.Indexed(ctx, "2020/01/05.json", idx)

	sub := srv.sse.Subscribe(feedPuzzles)
	defer srv.sse.Unsubscribe(sub)
	srv.Removed(ctx, "2020/01/05.json")

	select {
	case msg := <-sub.ch:
		if !strings.HasPrefix(string(msg), "event: puzzle_removed") {
			t.Fatalf("unexpected event %q", msg)
		}
	default:
		t.Fatal("puzzle_removed not published")
	}

	w := do(srv, "GET", "/api/words/CAT", "")
	if body := w.Body.String(); !strings.Contains(body, `"hits":[]`) {
		t.Fatalf("removed puzzle still found: %s", body)
	}

	// Unknown sources are ignored silently.
	srv.Removed(ctx, "never-indexed.json")
	select {
	case msg := <-sub.ch:
		t.Fatalf("unexpected event %q", msg)
	default:
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer()
	w := do(srv, "GET", "/api/puzzles", "")

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for k, v := range headers {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s: expected %q, got %q", k, v, got)
		}
	}
	if csp := w.Header().Get("Content-Security-Policy"); csp == "" {
		t.Error("Content-Security-Policy header missing")
	}
}

func TestUploadRateLimit(t *testing.T) {
	srv := NewServer(store.NewMemory(), convert.New(convert.Options{}), nil, 2, slog.New(slog.DiscardHandler))

	for i := range 2 {
		if w := do(srv, "POST", "/api/puzzles", catPuzzleJSON); w.Code != http.StatusCreated {
			t.Fatalf("upload %d: expected 201, got %d", i+1, w.Code)
		}
	}
	if w := do(srv, "POST", "/api/puzzles", catPuzzleJSON); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestRateLimiterZeroRate(t *testing.T) {
	rl := newRateLimiter(0, time.Minute)
	if !rl.allow("1.2.3.4") {
		t.Fatal("first request should be allowed")
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("second request should be rate limited")
	}

	srv := NewServer(store.NewMemory(), convert.New(convert.Options{}), nil, 0, slog.New(slog.DiscardHandler))
	if w := do(srv, "POST", "/api/puzzles", catPuzzleJSON); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3, time.Second)

	for i := range 3 {
		if !rl.allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("4th request should be rate limited")
	}

	// Different IP should still be allowed.
	if !rl.allow("5.6.7.8") {
		t.Fatal("different IP should be allowed")
	}
}

func TestRequestLoggerKeepsStatus(t *testing.T) {
	srv := newTestServer()
	h := requestLogger(slog.New(slog.DiscardHandler), srv)

	req := httptest.NewRequest("GET", "/api/puzzles/nope", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
