package bandwidth

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devrayat000/media-pipeline/models"
)

var (
	ErrMalformed  = errors.New("malformed log line")
	ErrNotSegment = errors.New("not a segment request")
)

const (
	fieldCount    = 6
	segmentSuffix = ".ts"
	hlsPrefix     = "/media/hls/"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// ParseLine parses one access log line in the layout
// client|iso-time|request-uri|bytes-sent|status|request-time.
// Lines for anything other than a media segment return ErrNotSegment.
func ParseLine(line string) (models.BandwidthRecord, error) {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, "|")
	if len(fields) != fieldCount {
		return models.BandwidthRecord{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(fields))
	}

	ip := strings.TrimSpace(fields[0])
	uri := strings.TrimSpace(fields[2])
	if ip == "" || uri == "" {
		return models.BandwidthRecord{}, fmt.Errorf("%w: empty client or uri", ErrMalformed)
	}

	ts, err := parseTimestamp(strings.TrimSpace(fields[1]))
	if err != nil {
		return models.BandwidthRecord{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	bytesSent, err := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil || bytesSent < 0 {
		return models.BandwidthRecord{}, fmt.Errorf("%w: bytes %q", ErrMalformed, fields[3])
	}
	status, err := strconv.Atoi(strings.TrimSpace(fields[4]))
	if err != nil {
		return models.BandwidthRecord{}, fmt.Errorf("%w: status %q", ErrMalformed, fields[4])
	}

	var requestTime *float64
	if rt := strings.TrimSpace(fields[5]); rt != "" && rt != "-" {
		v, err := strconv.ParseFloat(rt, 64)
		if err != nil {
			return models.BandwidthRecord{}, fmt.Errorf("%w: request time %q", ErrMalformed, rt)
		}
		requestTime = &v
	}

	path, query, _ := strings.Cut(uri, "?")
	if !strings.HasSuffix(path, segmentSuffix) {
		return models.BandwidthRecord{}, ErrNotSegment
	}

	return models.BandwidthRecord{
		IPAddress:   ip,
		Timestamp:   ts,
		RequestURI:  uri,
		BytesSent:   bytesSent,
		StatusCode:  status,
		RequestTime: requestTime,
		MediaID:     ExtractMediaID(path),
		SessionID:   sessionID(query),
	}, nil
}

// ExtractMediaID returns the {id} in /media/hls/{id}/..., or nil.
func ExtractMediaID(uri string) *string {
	i := strings.Index(uri, hlsPrefix)
	if i < 0 {
		return nil
	}
	rest := uri[i+len(hlsPrefix):]
	id, _, found := strings.Cut(rest, "/")
	if !found || id == "" {
		return nil
	}
	return &id
}

func sessionID(rawQuery string) *string {
	if rawQuery == "" {
		return nil
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil
	}
	for _, key := range []string{"session", "sid"} {
		if v := q.Get(key); v != "" {
			return &v
		}
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
