package bandwidth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/devrayat000/media-pipeline/models"
)

// DefaultMaxLines bounds one batch so a large backlog is committed in pieces.
const DefaultMaxLines = 10000

// Batch is the result of one ingest pass.
type Batch struct {
	Records []models.BandwidthRecord
	// Cursor is the byte offset just past the last complete line consumed.
	Cursor  int64
	Skipped int
	Ignored int
	// More is set when the line limit stopped the pass before EOF.
	More bool
}

// Bytes sums BytesSent over the batch.
func (b Batch) Bytes() int64 {
	var total int64
	for _, r := range b.Records {
		total += r.BytesSent
	}
	return total
}

// Ingestor reads complete lines appended to a log after a cursor. It holds no
// position of its own.
type Ingestor struct {
	MaxLines int
	log      *slog.Logger
}

func NewIngestor(log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{MaxLines: DefaultMaxLines, log: log}
}

// Ingest parses lines after cursor. A missing file returns the cursor
// unchanged. A file shorter than the cursor was rotated or truncated and is
// read from the start. A trailing line without a newline is left for the next
// pass.
func (in *Ingestor) Ingest(path string, cursor int64) (Batch, error) {
	batch := Batch{Cursor: cursor}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			in.log.Debug("bandwidth log not found", "path", path)
			return batch, nil
		}
		return batch, fmt.Errorf("open bandwidth log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return batch, fmt.Errorf("stat bandwidth log: %w", err)
	}
	if cursor < 0 || info.Size() < cursor {
		in.log.Info("bandwidth log truncated or rotated, restarting", "path", path, "cursor", cursor, "size", info.Size())
		cursor = 0
		batch.Cursor = 0
	}
	if info.Size() == cursor {
		return batch, nil
	}

	if _, err := f.Seek(cursor, io.SeekStart); err != nil {
		return batch, fmt.Errorf("seek bandwidth log: %w", err)
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	offset := cursor
	lines := 0
	for {
		if in.MaxLines > 0 && lines >= in.MaxLines {
			batch.More = true
			break
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return batch, fmt.Errorf("read bandwidth log: %w", err)
		}
		offset += int64(len(line))
		lines++

		rec, perr := ParseLine(line)
		switch {
		case perr == nil:
			batch.Records = append(batch.Records, rec)
		case errors.Is(perr, ErrNotSegment):
			batch.Ignored++
		default:
			batch.Skipped++
			in.log.Warn("skipping malformed bandwidth log line", "offset", offset-int64(len(line)), "error", perr)
		}
	}

	batch.Cursor = offset
	return batch, nil
}
