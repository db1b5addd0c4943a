package servicebus

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-longpoll"

	"github.com/fep3/participant/ferrors"
	"github.com/fep3/participant/flog"
)

// NotifyKind distinguishes the three SSDP/LSSDP-style discovery messages.
type NotifyKind string

const (
	NotifyAlive  NotifyKind = "notify_alive"
	NotifyByeBye NotifyKind = "notify_byebye"
	Response     NotifyKind = "response"
)

// DiscoveryMessage is the discovery wire format: any transport that
// carries these fields suffices, so this type is transport-agnostic.
type DiscoveryMessage struct {
	Kind           NotifyKind
	UniqueName     string // "<participant>@<system>"
	LocationURL    string
	ProductUID     string
	ProductVersion string
	SearchTarget   string
	TTLSeconds     int
}

// DiscoveryTransport carries DiscoveryMessage values between participants
// in a system. Production deployments multicast over UDP (SSDP's own
// transport); tests use an in-process fan-out, the same in-process-reference
// role dataregistry.MemoryBus plays for the data plane.
type DiscoveryTransport interface {
	// Publish broadcasts msg to every other subscriber on the system.
	Publish(ctx context.Context, msg DiscoveryMessage) error
	// Subscribe registers handler to be called for every message published
	// by any participant (including, potentially, this one — callers
	// distinguish by UniqueName). Returns an unsubscribe func.
	Subscribe(handler func(DiscoveryMessage)) (unsubscribe func())
}

// MemoryDiscoveryTransport is an in-process reference DiscoveryTransport,
// grounded on dataregistry.MemoryBus's subscriber-fan-out-under-mutex
// pattern: every participant sharing one MemoryDiscoveryTransport value
// observes every other's announcements directly, with no real networking.
type MemoryDiscoveryTransport struct {
	mu   sync.Mutex
	subs map[int]func(DiscoveryMessage)
	next int
}

// NewMemoryDiscoveryTransport constructs a shared in-process transport.
func NewMemoryDiscoveryTransport() *MemoryDiscoveryTransport {
	return &MemoryDiscoveryTransport{subs: make(map[int]func(DiscoveryMessage))}
}

// Publish implements DiscoveryTransport.
func (t *MemoryDiscoveryTransport) Publish(_ context.Context, msg DiscoveryMessage) error {
	t.mu.Lock()
	handlers := make([]func(DiscoveryMessage), 0, len(t.subs))
	for _, h := range t.subs {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// Subscribe implements DiscoveryTransport.
func (t *MemoryDiscoveryTransport) Subscribe(handler func(DiscoveryMessage)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = handler
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// PeerInfo is what SystemAccess remembers about a discovered participant.
type PeerInfo struct {
	UniqueName     string
	LocationURL    string
	ProductUID     string
	ProductVersion string
	LastSeen       time.Time
}

// Dialer resolves a discovered peer's location URL into an invoker able to
// reach its Service Bus. Mirrors grpc-proxy's ContextDialer — a single
// function type standing in for a connection-establishment strategy,
// swappable per deployment (real gRPC dial vs. an in-process lookup in
// tests).
type Dialer func(ctx context.Context, locationURL string) (invoker, error)

// SystemAccess is one participant's membership in a named System: it
// announces this participant's presence, listens for others', and answers
// Discover calls. Exactly one discovery goroutine runs per SystemAccess.
type SystemAccess struct {
	systemName  string
	uniqueName  string // "<participant>@<system>"
	locationURL string
	ttl         time.Duration
	transport   DiscoveryTransport
	dial        Dialer
	log         *flog.Logger

	// dedupeLimiter debounces repeated messages of the same kind from the
	// same peer (e.g. a flaky link re-announcing rapidly), so
	// peers-map churn and log volume stay bounded without suppressing a
	// genuinely new announcement.
	dedupeLimiter *catrate.Limiter

	mu       sync.Mutex
	peers    map[string]PeerInfo
	unsub    func()
	stopCh   chan struct{}
	doneCh   chan struct{}
	announceInterval time.Duration

	responses chan DiscoveryMessage
}

// SystemAccessConfig configures NewSystemAccess.
type SystemAccessConfig struct {
	ParticipantName  string
	SystemName       string
	LocationURL      string
	TTL              time.Duration // default 30s
	AnnounceInterval time.Duration // default TTL/2
	Transport        DiscoveryTransport
	Dial             Dialer
}

// NewSystemAccess constructs a SystemAccess. TTL and AnnounceInterval
// default per SystemAccessConfig's doc comment if zero.
func NewSystemAccess(cfg SystemAccessConfig, logger *flog.Logger) *SystemAccess {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	interval := cfg.AnnounceInterval
	if interval <= 0 {
		interval = ttl / 2
	}
	return &SystemAccess{
		systemName:  cfg.SystemName,
		uniqueName:  cfg.ParticipantName + "@" + cfg.SystemName,
		locationURL: cfg.LocationURL,
		ttl:         ttl,
		announceInterval: interval,
		transport:   cfg.Transport,
		dial:        cfg.Dial,
		log:         flog.Component(logger, "servicebus.discovery"),
		dedupeLimiter: catrate.NewLimiter(map[time.Duration]int{time.Second: 1}),
		peers:       make(map[string]PeerInfo),
		responses:   make(chan DiscoveryMessage, 64),
	}
}

// Start subscribes to the transport, sends an initial notify_alive, and
// begins the periodic re-announce loop (the system access's one discovery
// thread).
func (sa *SystemAccess) Start(ctx context.Context) error {
	sa.mu.Lock()
	if sa.stopCh != nil {
		sa.mu.Unlock()
		return ferrors.InvalidStatef("servicebus: system access %q already started", sa.uniqueName)
	}
	sa.unsub = sa.transport.Subscribe(sa.handleMessage)
	sa.stopCh = make(chan struct{})
	sa.doneCh = make(chan struct{})
	stopCh, doneCh := sa.stopCh, sa.doneCh
	sa.mu.Unlock()

	if err := sa.announce(ctx, NotifyAlive); err != nil {
		return err
	}
	go sa.announceLoop(stopCh, doneCh)
	return nil
}

// Stop sends notify_byebye and stops the announce loop.
func (sa *SystemAccess) Stop(ctx context.Context) error {
	sa.mu.Lock()
	stopCh, doneCh, unsub := sa.stopCh, sa.doneCh, sa.unsub
	sa.stopCh, sa.doneCh, sa.unsub = nil, nil, nil
	sa.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
	if unsub != nil {
		unsub()
	}
	return sa.announce(ctx, NotifyByeBye)
}

func (sa *SystemAccess) announceLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(sa.announceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := sa.announce(context.Background(), NotifyAlive); err != nil {
				sa.log.Warning().Str("error", err.Error()).Log("re-announce failed")
			}
		}
	}
}

func (sa *SystemAccess) announce(ctx context.Context, kind NotifyKind) error {
	return sa.transport.Publish(ctx, DiscoveryMessage{
		Kind:         kind,
		UniqueName:   sa.uniqueName,
		LocationURL:  sa.locationURL,
		SearchTarget: "fep3:participant",
		TTLSeconds:   int(sa.ttl / time.Second),
	})
}

func (sa *SystemAccess) handleMessage(msg DiscoveryMessage) {
	if msg.UniqueName == sa.uniqueName {
		return // ignore our own announcements
	}
	if _, ok := sa.dedupeLimiter.Allow(msg.UniqueName + "|" + string(msg.Kind)); !ok {
		return
	}

	switch msg.Kind {
	case NotifyByeBye:
		sa.mu.Lock()
		delete(sa.peers, msg.UniqueName)
		sa.mu.Unlock()
		return
	case NotifyAlive, Response:
		sa.mu.Lock()
		sa.peers[msg.UniqueName] = PeerInfo{
			UniqueName:     msg.UniqueName,
			LocationURL:    msg.LocationURL,
			ProductUID:     msg.ProductUID,
			ProductVersion: msg.ProductVersion,
			LastSeen:       time.Now(),
		}
		sa.mu.Unlock()
	}

	select {
	case sa.responses <- msg:
	default:
		// response backlog full; Discover callers already holding results
		// are unaffected, the peers map above is the source of truth.
	}
}

// Discover blocks (up to timeout) for at least minResults distinct peers to
// be observed, returning whatever was seen even if the deadline is reached
// first with fewer than minResults.
func (sa *SystemAccess) Discover(ctx context.Context, minResults int, timeout time.Duration) ([]PeerInfo, error) {
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sa.announce(ctx2, NotifyAlive); err != nil {
		return sa.snapshotPeers(), err
	}

	seen := make(map[string]struct{})
	cfg := &longpoll.ChannelConfig{MinSize: minResults, MaxSize: -1, PartialTimeout: timeout}
	err := longpoll.Channel(ctx2, cfg, sa.responses, func(msg DiscoveryMessage) error {
		seen[msg.UniqueName] = struct{}{}
		if len(seen) >= minResults {
			return errStopDiscover
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopDiscover) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, io.EOF) {
		return sa.snapshotPeers(), ferrors.Unexpectedf("servicebus: discover: %v", err)
	}
	return sa.snapshotPeers(), nil
}

// errStopDiscover is a sentinel longpoll.Channel handler error used purely
// to stop early once enough distinct peers are seen; it never escapes
// Discover.
var errStopDiscover = errors.New("servicebus: discover: satisfied")

func (sa *SystemAccess) snapshotPeers() []PeerInfo {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	out := make([]PeerInfo, 0, len(sa.peers))
	for _, p := range sa.peers {
		out = append(out, p)
	}
	return out
}

// Resolve looks up a previously discovered peer by unique name and dials
// it, returning an invoker for its Service Bus.
func (sa *SystemAccess) Resolve(ctx context.Context, uniqueName string) (invoker, error) {
	sa.mu.Lock()
	peer, ok := sa.peers[uniqueName]
	sa.mu.Unlock()
	if !ok {
		return nil, ferrors.NotFoundf("servicebus: peer %q not discovered", uniqueName)
	}
	if sa.dial == nil {
		return nil, ferrors.InvalidStatef("servicebus: system access %q has no dialer configured", sa.uniqueName)
	}
	return sa.dial(ctx, peer.LocationURL)
}
