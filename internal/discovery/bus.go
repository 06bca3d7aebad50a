package discovery

import (
	"context"

	"github.com/ethereum/go-ethereum/event"

	"github.com/yolodolo42/walletbridge/internal/provider"
)

// Info describes an announced wallet
type Info struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
	RDNS string `json:"rdns"`
}

// Announcement pairs a wallet's info with its provider
type Announcement struct {
	Info     Info
	Provider provider.Provider
}

// Request is the broadcast asking installed wallets to announce themselves
type Request struct{}

// Bus carries the announcement protocol: discoverers broadcast a Request and
// every wallet answers with an Announcement. Nothing is request/response;
// both directions are fire-and-forget.
type Bus struct {
	requests      event.Feed
	announcements event.Feed
}

func NewBus() *Bus {
	return &Bus{}
}

// RequestProviders broadcasts a Request and returns how many wallets received it
func (b *Bus) RequestProviders() int {
	return b.requests.Send(Request{})
}

// Announce publishes a to all discoverers
func (b *Bus) Announce(a Announcement) int {
	return b.announcements.Send(a)
}

func (b *Bus) SubscribeRequests(ch chan<- Request) event.Subscription {
	return b.requests.Subscribe(ch)
}

func (b *Bus) SubscribeAnnouncements(ch chan<- Announcement) event.Subscription {
	return b.announcements.Subscribe(ch)
}

// Serve makes a wallet discoverable: it announces a once, then again on
// every Request, until ctx is done.
func (b *Bus) Serve(ctx context.Context, a Announcement) {
	requests := make(chan Request, 1)
	sub := b.SubscribeRequests(requests)

	go func() {
		defer sub.Unsubscribe()
		b.Announce(a)
		for {
			select {
			case <-requests:
				b.Announce(a)
			case <-sub.Err():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}
