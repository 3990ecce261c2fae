package feed

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"papertrader/internal/models"
)

// Row is the CSV representation of a tick.
type Row struct {
	Asset     string  `csv:"asset"`
	Timestamp string  `csv:"timestamp"`
	Price     float64 `csv:"price"`
	Volume    float64 `csv:"volume"`
	Bid       float64 `csv:"bid"`
	Ask       float64 `csv:"ask"`
	Spread    float64 `csv:"spread"`
}

// NewRow converts a tick into a CSV row.
func NewRow(asset string, p models.MarketDataPoint) Row {
	return Row{
		Asset:     asset,
		Timestamp: p.Timestamp.UTC().Format(time.RFC3339Nano),
		Price:     p.Price,
		Volume:    p.Volume,
		Bid:       p.Bid,
		Ask:       p.Ask,
		Spread:    p.Spread,
	}
}

// Point converts the row back into a market data point.
func (r Row) Point() (models.MarketDataPoint, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return models.MarketDataPoint{}, fmt.Errorf("parsing timestamp %q: %w", r.Timestamp, err)
	}
	return models.MarketDataPoint{
		Price:     r.Price,
		Timestamp: ts,
		Volume:    r.Volume,
		Bid:       r.Bid,
		Ask:       r.Ask,
		Spread:    r.Spread,
	}, nil
}

// ReadCSV parses recorded ticks.
func ReadCSV(r io.Reader) ([]Row, error) {
	var rows []*Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decoding market data csv: %w", err)
	}

	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

// WriteCSV writes ticks with a header row.
func WriteCSV(w io.Writer, rows []Row) error {
	ptrs := make([]*Row, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	return gocsv.Marshal(ptrs, w)
}

// ReplayFile replays a recorded CSV file into hub. See Replay.
func ReplayFile(ctx context.Context, path string, hub *Hub, pace time.Duration) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return 0, err
	}
	return Replay(ctx, hub, rows, pace)
}

// Replay publishes rows in order, waiting pace between points. Unlike live
// publishing it waits for buffer space rather than dropping. It returns
// the number of points published.
func Replay(ctx context.Context, hub *Hub, rows []Row, pace time.Duration) (int, error) {
	for i, row := range rows {
		point, err := row.Point()
		if err != nil {
			return i, fmt.Errorf("row %d: %w", i+1, err)
		}
		if err := hub.PublishWait(ctx, row.Asset, point); err != nil {
			return i, err
		}

		if pace > 0 {
			select {
			case <-ctx.Done():
				return i + 1, ctx.Err()
			case <-time.After(pace):
			}
		}
	}
	return len(rows), nil
}

// Recorder forwards points to another publisher while keeping a copy.
type Recorder struct {
	next Publisher
	mu   sync.Mutex
	rows []Row
}

// NewRecorder wraps next.
func NewRecorder(next Publisher) *Recorder {
	return &Recorder{next: next}
}

// Publish implements Publisher.
func (r *Recorder) Publish(asset string, point models.MarketDataPoint) {
	r.mu.Lock()
	r.rows = append(r.rows, NewRow(asset, point))
	r.mu.Unlock()

	if r.next != nil {
		r.next.Publish(asset, point)
	}
}

// Rows returns a copy of everything recorded so far.
func (r *Recorder) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Row(nil), r.rows...)
}

// Save writes the recording to path.
func (r *Recorder) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, r.Rows()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
