package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/view"
)

// Pinger checks a backend connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SuperAdminLister lists the parties that receive maintenance alerts.
type SuperAdminLister interface {
	SuperAdmins(ctx context.Context) ([]domain.Handler, error)
}

// HealthProbeConfig tunes the probe.
type HealthProbeConfig struct {
	Interval  time.Duration
	Threshold int
	// AlertIDs always receive alerts, on top of the cached super-admins.
	AlertIDs []domain.PartyID
}

// HealthProbe pings the store and tells super-admins when it goes down
// and when it comes back. Each outage is reported once.
type HealthProbe struct {
	store     Pinger
	roster    SuperAdminLister
	transport transport.Transport
	cfg       HealthProbeConfig
	logger    *zap.Logger

	mu       sync.Mutex
	failures int
	alerted  bool
	admins   []domain.PartyID
}

// NewHealthProbe constructs the probe.
func NewHealthProbe(store Pinger, roster SuperAdminLister, tr transport.Transport, cfg HealthProbeConfig, logger *zap.Logger) *HealthProbe {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	return &HealthProbe{store: store, roster: roster, transport: tr, cfg: cfg, logger: logger}
}

// Run probes every interval until ctx is done.
func (p *HealthProbe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	p.logger.Info("health probe started", zap.Duration("interval", p.cfg.Interval))
	for {
		_ = p.Probe(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("health probe stopped")
			return
		case <-ticker.C:
		}
	}
}

// Probe runs one check and returns the ping error.
func (p *HealthProbe) Probe(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
	err := p.store.Ping(pingCtx)
	cancel()

	var (
		notice     string
		recipients []domain.PartyID
	)
	if err == nil {
		admins, ok := p.lookupAdmins(ctx)
		p.mu.Lock()
		if p.alerted {
			notice, recipients = view.StoreRecovered, p.recipients()
			p.alerted = false
		}
		p.failures = 0
		if ok {
			p.admins = admins
		}
		p.mu.Unlock()
		if notice != "" {
			p.logger.Info("store connection restored")
			p.alert(ctx, recipients, notice)
		}
		return nil
	}

	p.mu.Lock()
	p.failures++
	failures := p.failures
	if failures >= p.cfg.Threshold && !p.alerted {
		notice, recipients = view.StoreDown(err), p.recipients()
		p.alerted = true
	}
	p.mu.Unlock()

	p.logger.Warn("store ping failed", zap.Int("consecutive", failures), zap.Error(err))
	if notice != "" {
		p.logger.Error("store unreachable", zap.Int("consecutive", failures), zap.Error(err))
		p.alert(ctx, recipients, notice)
	}
	return err
}

func (p *HealthProbe) lookupAdmins(ctx context.Context) ([]domain.PartyID, bool) {
	admins, err := p.roster.SuperAdmins(ctx)
	if err != nil {
		p.logger.Warn("super-admin lookup failed", zap.Error(err))
		return nil, false
	}
	ids := make([]domain.PartyID, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, a.ID)
	}
	return ids, true
}

// recipients requires p.mu.
func (p *HealthProbe) recipients() []domain.PartyID {
	seen := make(map[domain.PartyID]struct{})
	var ids []domain.PartyID
	for _, id := range append(append([]domain.PartyID{}, p.admins...), p.cfg.AlertIDs...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func (p *HealthProbe) alert(ctx context.Context, ids []domain.PartyID, text string) {
	if len(ids) == 0 {
		p.logger.Warn("no alert recipients")
		return
	}
	out := transport.Outgoing{Content: transport.Content{Text: text}}
	errs := Run(ctx, len(ids), 1, func(ctx context.Context, i int) error {
		_, err := p.transport.Send(ctx, ids[i], out)
		return err
	})
	for i, err := range errs {
		if err != nil {
			p.logger.Warn("maintenance alert not delivered", zap.Int64("party_id", int64(ids[i])), zap.Error(err))
		}
	}
}
