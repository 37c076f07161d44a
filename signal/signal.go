package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Direction of an externally supplied trading signal.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// Signal is one record from the ingestion collaborator. Staleness is the
// consuming strategy's problem, not the source's: a restarted source may
// replay old records.
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Confidence float64   `json:"confidence"` // 0..1
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// Age returns how old the signal is at the given time.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Source yields signals one at a time. Next blocks until a signal arrives,
// the source ends (ok=false, err=nil), or ctx is done. Implementations
// must be restartable.
type Source interface {
	Next(ctx context.Context) (s Signal, ok bool, err error)
}

// SliceSource replays a fixed set of signals; used in tests and dry runs.
type SliceSource struct {
	signals []Signal
	pos     int
}

func NewSliceSource(signals ...Signal) *SliceSource {
	return &SliceSource{signals: signals}
}

func (s *SliceSource) Next(ctx context.Context) (Signal, bool, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, false, err
	}
	if s.pos >= len(s.signals) {
		return Signal{}, false, nil
	}
	sig := s.signals[s.pos]
	s.pos++
	return sig, true, nil
}

// FileSource streams signals from a JSON-lines file, one object per
// line. The file is read front to back; EOF ends the stream.
type FileSource struct {
	f   *os.File
	dec *json.Decoder
}

func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signal file: %w", err)
	}
	return &FileSource{f: f, dec: json.NewDecoder(f)}, nil
}

func (s *FileSource) Next(ctx context.Context) (Signal, bool, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, false, err
	}
	var sig Signal
	if err := s.dec.Decode(&sig); err != nil {
		if errors.Is(err, io.EOF) {
			return Signal{}, false, nil
		}
		return Signal{}, false, fmt.Errorf("decode signal: %w", err)
	}
	return sig, true, nil
}

func (s *FileSource) Close() error {
	return s.f.Close()
}
