package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"livewatch/internal/eventbus"
	"livewatch/internal/transport"
	"livewatch/internal/twitch"
	"livewatch/internal/watch"
	logx "livewatch/pkg/logx"
)

var ErrNoSender = errors.New("notifier: no sender configured")

// Service implements watch.Notifier on top of a transport.Sender.
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender transport.Sender
	target transport.ChatTarget
	log    logx.Logger
	bus    eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

var _ watch.Notifier = (*Service)(nil)

func New(cfg Config, sender transport.Sender, target transport.ChatTarget, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{sender: sender, target: target, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	} else {
		s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		s.limiter.SetBurst(burst)
	}
	s.cfg = cfg
}

func (s *Service) config() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Notify sends the go-live message for b.
func (s *Service) Notify(ctx context.Context, b watch.Broadcaster, info twitch.LiveInfo) error {
	return s.deliver(ctx, b.Name, "live", LiveMessage(b.Name, info))
}

// NotifyOffline sends the went-offline message when AnnounceOffline is set,
// and is a no-op otherwise.
func (s *Service) NotifyOffline(ctx context.Context, b watch.Broadcaster) error {
	cfg, _ := s.config()
	if !cfg.AnnounceOffline {
		return nil
	}
	return s.deliver(ctx, b.Name, "offline", OfflineMessage(b.Name))
}

func (s *Service) deliver(ctx context.Context, name, kind, text string) error {
	cfg, lim := s.config()
	if s.sender == nil {
		return &DeliveryError{Broadcaster: name, Err: ErrNoSender}
	}
	if err := lim.Wait(ctx); err != nil {
		return s.failed(name, kind, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	ref, err := s.sender.SendText(callCtx, s.target, text, &transport.SendOptions{
		ParseMode:      transport.ParseModeHTML,
		DisablePreview: cfg.DisablePreview,
	})
	cancel()
	if err != nil {
		return s.failed(name, kind, err)
	}

	s.appendHistory(HistoryItem{At: time.Now(), Broadcaster: name, Kind: kind, MessageID: ref.MessageID})
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSent, Data: DeliveryEvent{
		Broadcaster: name, Kind: kind, ChatID: s.target.ChatID, ThreadID: s.target.ThreadID,
	}})
	s.log.Debug("notification sent", logx.Broadcaster(name), logx.String("kind", kind), logx.Int("message_id", ref.MessageID))
	return nil
}

func (s *Service) failed(name, kind string, err error) error {
	derr := &DeliveryError{Broadcaster: name, Err: err}
	s.appendHistory(HistoryItem{At: time.Now(), Broadcaster: name, Kind: kind, Error: err.Error()})
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeFailed, Data: DeliveryEvent{
		Broadcaster: name, Kind: kind, ChatID: s.target.ChatID, ThreadID: s.target.ThreadID, Error: err.Error(),
	}})
	s.log.Warn("notification not delivered", logx.Broadcaster(name), logx.String("kind", kind), logx.Err(err))
	return derr
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}
