package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimestampFormat is the wire format for all timestamps surfaced over RPC
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// Timestamp marshals a time.Time in the wire format, always in UTC
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(TimestampFormat))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(TimestampFormat, s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// LogRecord is one structured log line captured during execution
type LogRecord struct {
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
	LevelName string    `json:"levelname"`
	Level     int       `json:"level"`
}

// LogBuffer is an append-only, concurrency-safe capture of structured log
// records. It doubles as a zerolog sink: writing zerolog's JSON output to
// the buffer appends parsed records, so a task-scoped logger feeds the
// buffer directly. Records are visible to readers while writes continue.
type LogBuffer struct {
	mu      sync.Mutex
	records []LogRecord
	limit   int
}

// NewLogBuffer returns an unbounded buffer
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// NewRingBuffer returns a buffer that retains only the most recent limit
// records. Used for the server-level log surfaced by the status method.
func NewRingBuffer(limit int) *LogBuffer {
	return &LogBuffer{limit: limit}
}

// Write implements io.Writer for zerolog output. Each write is one JSON
// event; lines that do not parse are kept verbatim as info records rather
// than dropped.
func (b *LogBuffer) Write(p []byte) (int, error) {
	var event struct {
		Level   string `json:"level"`
		Time    string `json:"time"`
		Message string `json:"message"`
	}

	record := LogRecord{
		Timestamp: Timestamp(time.Now()),
		LevelName: zerolog.InfoLevel.String(),
		Level:     int(zerolog.InfoLevel),
	}
	if err := json.Unmarshal(p, &event); err == nil {
		record.Message = event.Message
		if level, err := zerolog.ParseLevel(event.Level); err == nil {
			record.LevelName = level.String()
			record.Level = int(level)
		}
		if ts, err := time.Parse(time.RFC3339, event.Time); err == nil {
			record.Timestamp = Timestamp(ts)
		}
	} else {
		record.Message = string(p)
	}

	b.Append(record)
	return len(p), nil
}

// Append adds a record to the buffer
func (b *LogBuffer) Append(record LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, record)
	if b.limit > 0 && len(b.records) > b.limit {
		b.records = b.records[len(b.records)-b.limit:]
	}
}

// Records returns a copy of the captured records in emission order
func (b *LogBuffer) Records() []LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogRecord, len(b.records))
	copy(out, b.records)
	return out
}

// Len returns the number of captured records
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
