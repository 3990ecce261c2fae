// Package export renders trade history for download.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"papertrader/internal/models"
)

// ErrNoTrades is returned when there is nothing to export.
var ErrNoTrades = errors.New("no trades to export")

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// TradeRow is one exported trade. Column order is fixed by field order.
type TradeRow struct {
	Timestamp string `csv:"Timestamp"`
	Side      string `csv:"Side"`
	Asset     string `csv:"Asset"`
	Price     string `csv:"Price"`
	Quantity  string `csv:"Quantity"`
	Value     string `csv:"Value"`
	Fee       string `csv:"Fee"`
	PnL       string `csv:"PnL"`
	Strategy  string `csv:"Strategy"`
	Reason    string `csv:"Reason"`
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NewTradeRow converts a trade into its exported form.
func NewTradeRow(t models.Trade) TradeRow {
	return TradeRow{
		Timestamp: t.Timestamp.UTC().Format(TimestampLayout),
		Side:      string(t.Side),
		Asset:     t.Asset,
		Price:     num(t.Price),
		Quantity:  num(t.Quantity),
		Value:     num(t.Value),
		Fee:       num(t.Fee),
		PnL:       num(t.PnL),
		Strategy:  t.Strategy,
		Reason:    t.Reason,
	}
}

// WriteTradesCSV writes trades, oldest first, with a header row.
func WriteTradesCSV(w io.Writer, trades []models.Trade) error {
	if len(trades) == 0 {
		return ErrNoTrades
	}
	rows := make([]*TradeRow, 0, len(trades))
	for _, t := range trades {
		row := NewTradeRow(t)
		rows = append(rows, &row)
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("encoding trades csv: %w", err)
	}
	return nil
}

// TradesCSV returns the CSV document as bytes.
func TradesCSV(trades []models.Trade) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTradesCSV(&buf, trades); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileName returns the suggested download name for an export made at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("paper-trades-%d.csv", now.UnixMilli())
}
