// Package report publishes the outcome of a forecast run: a compressed JSON
// snapshot in S3 for the staffing sheets, a "forecast ready" message on SQS,
// and accuracy metrics in CloudWatch. Every target is optional and a failing
// target never blocks the others.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"turnover/internal/types"
)

// Snapshot is the document written once per forecast run.
type Snapshot struct {
	RunID       string                  `json:"run_id"`
	RunDate     time.Time               `json:"run_date"`
	GeneratedAt time.Time               `json:"generated_at"`
	Params      types.ModelParameters   `json:"params"`
	Summaries   []types.GroupSummary    `json:"summaries"`
	Totals      []types.DailyTotal      `json:"totals"`
	Predictions []types.Prediction      `json:"predictions"`
	Accuracy    []types.AccuracyMetrics `json:"accuracy,omitempty"`
	Tuning      []types.TuningRecord    `json:"tuning,omitempty"`
}

// SnapshotKey returns the object key of a run snapshot:
// reports/YYYYMMDD/run-<id>.json.zst.
func SnapshotKey(runDate time.Time, runID string) string {
	return fmt.Sprintf("reports/%s/run-%s.json.zst", runDate.Format("20060102"), runID)
}

// codec encodes and decodes snapshots with pooled zstd state.
type codec struct {
	encoders sync.Pool
	decoders sync.Pool
}

func newCodec() *codec {
	return &codec{
		encoders: sync.Pool{
			New: func() any {
				e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
				if err != nil {
					// Only invalid options make NewWriter fail.
					panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
				}
				return e
			},
		},
		decoders: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

func (c *codec) encode(snap *Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)
	enc.Reset(&buf)
	if _, err := enc.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *codec) decode(r io.Reader) (*Snapshot, error) {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)
	if err := dec.Reset(r); err != nil {
		return nil, fmt.Errorf("failed to open snapshot stream: %w", err)
	}
	var snap Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

var defaultCodec = newCodec()

// EncodeSnapshot returns the zstd-compressed JSON form of snap.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	return defaultCodec.encode(snap)
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	return defaultCodec.decode(r)
}
