// package testing contains shared testing utilities
package testing

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/reelsync/internal/models"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper returns the same response (or error) for every request
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// Reply is one scripted outcome for [SequenceRoundTripper].
type Reply struct {
	Status int
	Header http.Header
	Body   string
	Err    error
}

// SequenceRoundTripper replays scripted replies in order and records every request it sees.
// The last reply repeats once the script is exhausted.
type SequenceRoundTripper struct {
	mu       sync.Mutex
	replies  []Reply
	Requests []*http.Request
	Bodies   []string
}

func NewSequenceRoundTripper(replies ...Reply) *SequenceRoundTripper {
	return &SequenceRoundTripper{replies: replies}
}

func (s *SequenceRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		req.Body.Close()
		body = string(b)
	}
	s.Requests = append(s.Requests, req)
	s.Bodies = append(s.Bodies, body)

	idx := len(s.Requests) - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	r := s.replies[idx]
	if r.Err != nil {
		return nil, r.Err
	}

	header := r.Header
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: r.Status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewBufferString(r.Body)),
		Request:    req,
	}, nil
}

// Calls reports how many requests were made.
func (s *SequenceRoundTripper) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

// FakeClock is a [shared.Clock] whose After fires immediately and advances Now by the requested duration.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	Sleeps []time.Duration
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sleeps = append(c.Sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Slept returns a copy of every duration passed to After.
func (c *FakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.Sleeps...)
}

// MustDate parses a YYYY-MM-DD date in UTC.
func MustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		t.Fatalf("invalid date %q: %v", s, err)
	}
	return d
}

// Movie builds a movie record added at the given date.
func Movie(t *testing.T, id, added string) models.Record {
	t.Helper()
	return models.Record{ExternalID: id, Kind: models.KindMovie, Title: id, AddedAt: MustDate(t, added)}
}

// Rated builds a movie record carrying rating, rated at the given date.
func Rated(t *testing.T, id string, rating int, date string) models.Record {
	t.Helper()
	r := Movie(t, id, date)
	r.Value.Rating = rating
	return r
}

// Records builds n movies with sequential IDs starting at tt0000001.
func Records(n int) []models.Record {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Record, n)
	for i := range out {
		id := "tt" + pad(i+1)
		out[i] = models.Record{ExternalID: id, Kind: models.KindMovie, Title: id, AddedAt: base.Add(time.Duration(i) * time.Hour)}
	}
	return out
}

func pad(n int) string {
	s := []byte("0000000")
	for i := len(s) - 1; i >= 0 && n > 0; i-- {
		s[i] = byte('0' + n%10)
		n /= 10
	}
	return string(s)
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

// MustWriteFile writes content to path, failing the test on error.
func MustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}
