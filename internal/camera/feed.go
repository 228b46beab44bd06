// Package camera turns a barcode detection stream into scan candidates.
//
// The stream is JSON lines in the shape the device camera callback reports:
//
//	{"data":"abc-123","bounds":{"origin":{"x":120,"y":180},"size":{"width":80,"height":80}}}
//
// Decoding never blocks on the consumer. When the candidate channel is full
// the detection is dropped, the same way a camera frame is lost while the
// screen is busy.
package camera

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"gate-checkin/internal/geometry"
	"gate-checkin/models"
)

const (
	DefaultBuffer = 8
	maxLineBytes  = 64 * 1024
)

type detection struct {
	Data   string         `json:"data"`
	Bounds *geometry.Rect `json:"bounds"`
}

// Stats counts what happened to decoded lines.
type Stats struct {
	Emitted   int64
	Dropped   int64
	Malformed int64
}

type Feed struct {
	r      io.Reader
	out    chan models.ScanCandidate
	logger *slog.Logger

	emitted   atomic.Int64
	dropped   atomic.Int64
	malformed atomic.Int64
}

func NewFeed(r io.Reader, buffer int, logger *slog.Logger) *Feed {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{r: r, out: make(chan models.ScanCandidate, buffer), logger: logger}
}

// Candidates is closed when Run returns.
func (f *Feed) Candidates() <-chan models.ScanCandidate {
	return f.out
}

func (f *Feed) Stats() Stats {
	return Stats{
		Emitted:   f.emitted.Load(),
		Dropped:   f.dropped.Load(),
		Malformed: f.malformed.Load(),
	}
}

// Run reads until EOF, a read error, or ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.out)

	sc := bufio.NewScanner(f.r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		c, err := parseLine(text)
		if err != nil {
			f.malformed.Add(1)
			f.logger.Warn("skipping malformed camera line", "line", line, "error", err)
			continue
		}

		select {
		case f.out <- c:
			f.emitted.Add(1)
		default:
			f.dropped.Add(1)
			f.logger.Debug("camera candidate dropped, consumer busy", "line", line)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseLine(text string) (models.ScanCandidate, error) {
	var d detection
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return models.ScanCandidate{}, err
	}
	if strings.TrimSpace(d.Data) == "" {
		return models.ScanCandidate{}, errors.New("camera: empty barcode data")
	}
	c := models.ScanCandidate{Data: d.Data, Origin: models.OriginCamera}
	if d.Bounds != nil {
		b := *d.Bounds
		c.Bounds = &b
	}
	return c, nil
}
