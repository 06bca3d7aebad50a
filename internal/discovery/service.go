// Package discovery collects wallets announced over a Bus into a map keyed by
// reverse-domain id and publishes the list to subscribers.
package discovery

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/logging"
)

// Listener receives the full provider list after every change. Listeners
// must not call Subscribe.
type Listener func(providers []Announcement)

// Service tracks announced providers. Create one per application and share it.
type Service struct {
	bus    *Bus
	logger *zap.Logger

	// notifyMu orders deliveries so a subscriber never sees an update before its snapshot
	notifyMu sync.Mutex

	mu          sync.Mutex
	discovering bool
	sub         event.Subscription
	providers   map[string]Announcement
	order       []string
	listeners   map[uint64]Listener
	nextID      uint64
}

func NewService(bus *Bus, logger *zap.Logger) *Service {
	return &Service{
		bus:       bus,
		logger:    logging.OrNop(logger),
		providers: make(map[string]Announcement),
		listeners: make(map[uint64]Listener),
	}
}

// Discover starts listening for announcements and broadcasts one request.
// Calling it again before Teardown does nothing.
func (s *Service) Discover() {
	s.mu.Lock()
	if s.discovering {
		s.mu.Unlock()
		return
	}
	s.discovering = true

	ch := make(chan Announcement, 16)
	sub := s.bus.SubscribeAnnouncements(ch)
	s.sub = sub
	s.mu.Unlock()

	go s.listen(sub, ch)

	n := s.bus.RequestProviders()
	s.logger.Sugar().Debugw("requested wallet announcements", "wallets", n)
}

func (s *Service) listen(sub event.Subscription, ch <-chan Announcement) {
	for {
		select {
		case a := <-ch:
			s.upsert(sub, a)
		case <-sub.Err():
			return
		}
	}
}

func (s *Service) upsert(sub event.Subscription, a Announcement) {
	if a.Info.RDNS == "" || a.Provider == nil {
		s.logger.Sugar().Warnw("ignoring malformed wallet announcement", "name", a.Info.Name)
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	// Announcements queued before Teardown belong to a finished discovery
	if s.sub != sub {
		s.mu.Unlock()
		return
	}
	if _, ok := s.providers[a.Info.RDNS]; !ok {
		s.order = append(s.order, a.Info.RDNS)
	}
	s.providers[a.Info.RDNS] = a
	snapshot := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	s.logger.Sugar().Debugw("wallet announced", "rdns", a.Info.RDNS, "name", a.Info.Name)
	for _, l := range listeners {
		l(snapshot)
	}
}

// Subscribe registers listener and immediately delivers the current list
func (s *Service) Subscribe(listener Listener) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	listener(snapshot)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Providers returns the announced providers in first-announced order
func (s *Service) Providers() []Announcement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Provider returns the provider announced under rdns
func (s *Service) Provider(rdns string) (Announcement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.providers[rdns]
	return a, ok
}

// Teardown stops listening and clears the provider map. Subscribers stay
// registered and receive updates from the next Discover.
func (s *Service) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	s.providers = make(map[string]Announcement)
	s.order = nil
	s.discovering = false
}

func (s *Service) snapshotLocked() []Announcement {
	out := make([]Announcement, 0, len(s.order))
	for _, rdns := range s.order {
		out = append(out, s.providers[rdns])
	}
	return out
}
