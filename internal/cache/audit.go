package cache

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

var auditHeader = []string{
	"id", "created_at", "symbol", "side", "kind", "score", "mode",
	"price", "stop_loss", "take_profit_1", "take_profit_2", "threshold", "rsi",
}

// CSVAuditLog appends every emitted signal as one CSV row.
type CSVAuditLog struct {
	path string
	mu   sync.Mutex
}

// NewCSVAuditLog creates an audit log at path. The header is written when
// the file is first created.
func NewCSVAuditLog(path string) *CSVAuditLog {
	return &CSVAuditLog{path: path}
}

// Record appends sig.
func (l *CSVAuditLog) Record(_ context.Context, sig *models.Signal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat audit log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(auditHeader); err != nil {
			return fmt.Errorf("write audit header: %w", err)
		}
	}
	row := []string{
		sig.ID,
		sig.CreatedAt.UTC().Format(time.RFC3339),
		sig.Symbol,
		string(sig.Side),
		string(sig.Kind),
		strconv.FormatFloat(sig.Score, 'f', 2, 64),
		string(sig.Mode),
		sig.Price.String(),
		sig.StopLoss.String(),
		sig.TakeProfit1.String(),
		sig.TakeProfit2.String(),
		strconv.FormatFloat(sig.Threshold, 'f', 4, 64),
		strconv.FormatFloat(sig.RSI, 'f', 2, 64),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write audit row: %w", err)
	}
	w.Flush()
	return w.Error()
}
