package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/api/dto"
	"github.com/deskline/support-bot/internal/repository"
	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/view"
)

// Exporter periodically dumps the store as zstd-compressed JSON and sends
// the file to every super-admin.
type Exporter struct {
	store    repository.Store
	roster   SuperAdminLister
	files    transport.FileSender
	dir      string
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewExporter constructs the exporter. files may be nil, in which case the
// export is only written to dir.
func NewExporter(store repository.Store, roster SuperAdminLister, files transport.FileSender, dir string, interval time.Duration, logger *zap.Logger) *Exporter {
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	return &Exporter{
		store:    store,
		roster:   roster,
		files:    files,
		dir:      dir,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run exports every interval until ctx is done. The first export happens
// one interval after start.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	e.logger.Info("export loop started", zap.Duration("interval", e.interval), zap.String("dir", e.dir))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("export loop stopped")
			return
		case <-ticker.C:
			if _, err := e.Export(ctx); err != nil {
				e.logger.Error("export failed", zap.Error(err))
			}
		}
	}
}

// Export writes one snapshot and returns its path. Delivery failures are
// logged and do not fail the export.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	now := e.now().UTC()
	doc, err := e.collect(ctx, now)
	if err != nil {
		return "", err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	compressed, err := compress(raw)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("export_%s.json.zst", now.Format("2006-01-02"))
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, compressed, 0o600); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	e.logger.Info("export written",
		zap.String("path", path),
		zap.Int("tickets", len(doc.Tickets)),
		zap.Int("bytes", len(compressed)))

	e.deliver(ctx, name, compressed, view.ExportCaption(now.Format("02.01.2006")))
	return path, nil
}

func (e *Exporter) collect(ctx context.Context, now time.Time) (*dto.Export, error) {
	tickets, err := e.store.Tickets.List(ctx, repository.TicketFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	requesters, err := e.store.Requesters.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list requesters: %w", err)
	}
	handlers, err := e.store.Handlers.List(ctx, repository.HandlerFilter{})
	if err != nil {
		return nil, fmt.Errorf("list handlers: %w", err)
	}
	broadcasts, err := e.store.Broadcasts.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}

	doc := &dto.Export{
		GeneratedAt: now,
		Tickets:     make([]dto.Ticket, 0, len(tickets)),
		Requesters:  make([]dto.Requester, 0, len(requesters)),
		Handlers:    make([]dto.Handler, 0, len(handlers)),
		Broadcasts:  make([]dto.Broadcast, 0, len(broadcasts)),
		History:     []dto.History{},
	}
	for _, t := range tickets {
		doc.Tickets = append(doc.Tickets, dto.FromTicket(t))
		entries, err := e.store.History.ListByTicket(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("list history of %s: %w", t.ID, err)
		}
		for _, h := range entries {
			doc.History = append(doc.History, dto.FromHistory(h))
		}
	}
	for _, r := range requesters {
		doc.Requesters = append(doc.Requesters, dto.FromRequester(r))
	}
	for _, h := range handlers {
		doc.Handlers = append(doc.Handlers, dto.FromHandler(h))
	}
	for _, b := range broadcasts {
		doc.Broadcasts = append(doc.Broadcasts, dto.FromBroadcast(b))
	}
	return doc, nil
}

func (e *Exporter) deliver(ctx context.Context, name string, data []byte, caption string) {
	if e.files == nil {
		return
	}
	admins, err := e.roster.SuperAdmins(ctx)
	if err != nil {
		e.logger.Warn("export not sent: super-admin lookup failed", zap.Error(err))
		return
	}
	errs := Run(ctx, len(admins), 1, func(ctx context.Context, i int) error {
		return e.files.SendFile(ctx, admins[i].ID, name, data, caption)
	})
	for i, err := range errs {
		if err != nil {
			e.logger.Warn("export not delivered", zap.Int64("party_id", int64(admins[i].ID)), zap.Error(err))
		}
	}
}

func compress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}
