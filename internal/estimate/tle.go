package estimate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "isswatch/pkg/logx"
)

var ErrNoTLE = errors.New("estimate: no TLE available")

// TLE is a two-line element set.
type TLE struct {
	Name  string    `json:"name,omitempty"`
	Line1 string    `json:"line1"`
	Line2 string    `json:"line2"`
	Epoch time.Time `json:"epoch"`
}

// ParseTLE returns the first element set found in text. The name is the line
// before line 1 unless that is a "0 " title line.
func ParseTLE(text string) (TLE, error) {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return TLE{}, fmt.Errorf("reading TLE data: %w", err)
	}

	for i := 0; i+1 < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "1 ") || !strings.HasPrefix(lines[i+1], "2 ") {
			continue
		}
		t := TLE{Line1: lines[i], Line2: lines[i+1]}
		if i > 0 && !strings.HasPrefix(lines[i-1], "0 ") {
			t.Name = lines[i-1]
		}
		if err := ValidateTLE(t.Line1, t.Line2); err != nil {
			return TLE{}, err
		}
		epoch, err := parseEpoch(strings.TrimSpace(t.Line1[18:32]))
		if err != nil {
			return TLE{}, err
		}
		t.Epoch = epoch
		return t, nil
	}
	return TLE{}, fmt.Errorf("%w: unexpected TLE format", ErrNoTLE)
}

// ValidateTLE rejects lines the SGP4 parser would choke on.
func ValidateTLE(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// parseEpoch converts YYDDD.DDDDDDDD to a time. Years 57-99 are 19xx.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}
	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((day - 1) * float64(24*time.Hour))), nil
}

// TLEStore keeps the latest ISS element set, refreshed from the network and
// mirrored to an optional cache file so a restart works offline.
type TLEStore struct {
	url       string
	cachePath string
	f         *fetcher
	log       logx.Logger

	mu      sync.RWMutex
	current *TLE
	fetched time.Time
}

func NewTLEStore(url, cachePath string, hc *http.Client, log logx.Logger) *TLEStore {
	if url == "" {
		url = DefaultTLEURL
	}
	return &TLEStore{url: url, cachePath: cachePath, f: newFetcher(hc, 0), log: log}
}

// Current returns the cached element set, loading it on first use.
func (s *TLEStore) Current(ctx context.Context) (TLE, error) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur != nil {
		return *cur, nil
	}

	if t, err := s.loadCache(); err == nil {
		s.set(t, time.Time{})
		return t, nil
	} else if s.cachePath != "" && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("tle cache unreadable", logx.String("path", s.cachePath), logx.Err(err))
	}
	return s.Refresh(ctx)
}

// Refresh downloads a fresh element set. On failure the previous one stays.
func (s *TLEStore) Refresh(ctx context.Context) (TLE, error) {
	body, err := s.f.get(ctx, s.url)
	if err != nil {
		return TLE{}, fmt.Errorf("tle refresh: %w", err)
	}
	t, err := ParseTLE(string(body))
	if err != nil {
		return TLE{}, fmt.Errorf("tle refresh: %w", err)
	}
	s.set(t, time.Now())
	if err := s.saveCache(body); err != nil {
		s.log.Warn("tle cache write failed", logx.String("path", s.cachePath), logx.Err(err))
	}
	s.log.Info("tle refreshed", logx.String("name", t.Name), logx.Time("epoch", t.Epoch))
	return t, nil
}

// Set installs an element set directly.
func (s *TLEStore) Set(t TLE) { s.set(t, time.Now()) }

// FetchedAt reports when the element set was last downloaded.
func (s *TLEStore) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetched
}

func (s *TLEStore) set(t TLE, at time.Time) {
	s.mu.Lock()
	s.current = &t
	s.fetched = at
	s.mu.Unlock()
}

func (s *TLEStore) loadCache() (TLE, error) {
	if s.cachePath == "" {
		return TLE{}, os.ErrNotExist
	}
	b, err := os.ReadFile(s.cachePath)
	if err != nil {
		return TLE{}, err
	}
	return ParseTLE(string(b))
}

func (s *TLEStore) saveCache(body []byte) error {
	if s.cachePath == "" {
		return nil
	}
	if dir := filepath.Dir(s.cachePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.cachePath + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.cachePath)
}
