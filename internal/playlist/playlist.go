// Package playlist parses M3U8 documents into ordered segment lists.
//
// The parser is deliberately line-oriented rather than tag-complete: the
// engine only needs segment URIs in playback order and their EXTINF
// durations, and it must accept documents exactly as the upstream packager
// emits them, including header-less lists and partially malformed EXTINF
// directives.
package playlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrNoSegments is returned when a document contains no segment lines.
var ErrNoSegments = errors.New("playlist: no segments found")

// Segment is one media segment referenced by a playlist. URL is the resolved
// source location; LocalPath is filled in by the fetcher once the segment is
// materialized on disk. Duration is the preceding EXTINF value in seconds,
// 0 if the playlist did not declare one.
type Segment struct {
	URL       string
	LocalPath string
	Duration  float64
}

// Parse reads an M3U8 document and returns its segments in file order.
// Lines with an absolute http(s) URL are kept verbatim; all other segment
// lines are resolved by concatenating baseURL in front of them.
func Parse(r io.Reader, baseURL string) ([]Segment, error) {
	var segments []Segment
	duration := 0.0

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")

		if line == "" || strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#EXTINF:") {
				// Both the colon and the comma must be present, else the
				// directive is ignored and the next segment keeps duration 0.
				colon := strings.Index(line, ":")
				comma := strings.Index(line, ",")
				if colon >= 0 && comma > colon {
					if d, err := strconv.ParseFloat(line[colon+1:comma], 64); err == nil {
						duration = d
					}
				}
			}
			continue
		}

		seg := Segment{Duration: duration}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			seg.URL = line
		} else {
			seg.URL = baseURL + line
		}
		segments = append(segments, seg)
		duration = 0
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("playlist: read: %w", err)
	}

	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	return segments, nil
}

// ParseFile parses the M3U8 document at path. See Parse.
func ParseFile(path, baseURL string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("playlist: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, baseURL)
}

// BaseURL returns everything up to and including the last slash of url,
// suitable for resolving relative segment lines against.
func BaseURL(url string) string {
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[:i+1]
	}
	return url
}
