package presence

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nfrund/roomchat/internal/pubsub"
)

const (
	// DefaultWebSocketPingInterval is the expected interval between WebSocket pings.
	// Keep in sync with the ping period of the websocket transport.
	DefaultWebSocketPingInterval = 54 * time.Second

	// StaleThresholdMultiplier determines how many missed pings to tolerate before considering a connection stale.
	StaleThresholdMultiplier = 2

	// DefaultStaleThreshold is the default time after which an untouched connection is swept.
	DefaultStaleThreshold = DefaultWebSocketPingInterval * StaleThresholdMultiplier

	// DefaultOfflineGrace is how long a user may have zero connections
	// before the offline event fires. Covers page reloads and flaky networks.
	DefaultOfflineGrace = 5 * time.Second

	defaultSweepInterval = 30 * time.Second
	clusterTimeout       = 2 * time.Second
)

// Tracker counts live connections per user and publishes online/offline
// transitions on the local bus.
type Tracker struct {
	mu      sync.Mutex
	conns   map[string]map[string]time.Time // userID -> connID -> last seen
	pending map[string]pendingOffline       // userID -> scheduled offline event
	seq     uint64

	// announced holds the users last published as online. gates serialize
	// the cluster call and publish of one user's transitions.
	announced map[string]bool
	gates     map[string]*userGate

	publisher  pubsub.Publisher
	cluster    Cluster
	instanceID string
	logger     *slog.Logger

	grace          time.Duration
	staleThreshold time.Duration
	sweepInterval  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type userGate struct {
	mu   sync.Mutex
	refs int
}

type pendingOffline struct {
	timer *time.Timer
	seq   uint64
}

// Option is a function that configures a Tracker.
type Option func(*Tracker)

// WithOfflineGrace sets the delay before an offline event fires. Zero
// publishes it immediately.
func WithOfflineGrace(d time.Duration) Option {
	return func(t *Tracker) {
		t.grace = d
	}
}

// WithStaleThreshold sets how long a connection may go untouched before the
// sweeper removes it.
func WithStaleThreshold(d time.Duration) Option {
	return func(t *Tracker) {
		t.staleThreshold = d
	}
}

// WithSweepInterval sets how often stale connections are looked for.
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.sweepInterval = d
	}
}

// WithCluster makes transitions cluster-wide: events fire only when the
// first instance gains or the last instance loses the user.
func WithCluster(c Cluster, instanceID string) Option {
	return func(t *Tracker) {
		t.cluster = c
		t.instanceID = instanceID
	}
}

// NewTracker creates a tracker and starts its stale-connection sweeper.
// Call Shutdown to stop it.
func NewTracker(publisher pubsub.Publisher, opts ...Option) *Tracker {
	t := &Tracker{
		conns:          make(map[string]map[string]time.Time),
		pending:        make(map[string]pendingOffline),
		announced:      make(map[string]bool),
		gates:          make(map[string]*userGate),
		publisher:      publisher,
		logger:         slog.Default().With("component", "presence"),
		grace:          DefaultOfflineGrace,
		staleThreshold: DefaultStaleThreshold,
		sweepInterval:  defaultSweepInterval,
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.sweepInterval > 0 && t.staleThreshold > 0 {
		go t.sweep()
	}
	return t
}

// RegisterConnection adds connID to the user's connection set and reports
// whether the set was empty before. A reconnect inside the offline grace
// window cancels the pending offline event and publishes nothing.
func (t *Tracker) RegisterConnection(userID, connID string) bool {
	t.mu.Lock()
	set, ok := t.conns[userID]
	first := !ok || len(set) == 0
	if !ok {
		set = make(map[string]time.Time)
		t.conns[userID] = set
	}
	set[connID] = time.Now()

	resumed := false
	if p, ok := t.pending[userID]; ok && first {
		p.timer.Stop()
		delete(t.pending, userID)
		resumed = true
	}
	t.mu.Unlock()

	if !first {
		t.logger.Debug("Additional connection for user", "user_id", userID, "conn_id", connID)
		return false
	}
	if resumed {
		t.logger.Info("User reconnected within grace period", "user_id", userID, "conn_id", connID)
		return true
	}

	t.announce(userID)
	return true
}

// RemoveConnection drops connID and reports whether the user has no
// connections left. Unknown connections are ignored.
func (t *Tracker) RemoveConnection(userID, connID string) bool {
	t.mu.Lock()
	set, ok := t.conns[userID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if _, ok := set[connID]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(set, connID)
	if len(set) > 0 {
		t.mu.Unlock()
		t.logger.Debug("Connection closed", "user_id", userID, "conn_id", connID, "remaining_connections", len(set))
		return false
	}
	delete(t.conns, userID)

	if t.grace <= 0 {
		t.mu.Unlock()
		t.announce(userID)
		return true
	}

	t.seq++
	seq := t.seq
	if p, ok := t.pending[userID]; ok {
		p.timer.Stop()
	}
	t.pending[userID] = pendingOffline{
		seq:   seq,
		timer: time.AfterFunc(t.grace, func() { t.fireOffline(userID, seq) }),
	}
	t.mu.Unlock()

	t.logger.Debug("User has no more connections, scheduling offline event", "user_id", userID, "grace", t.grace)
	return true
}

func (t *Tracker) fireOffline(userID string, seq uint64) {
	t.mu.Lock()
	p, ok := t.pending[userID]
	if !ok || p.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.pending, userID)
	t.mu.Unlock()

	t.announce(userID)
}

// announce publishes the user's current state when it differs from the one
// last published. The state is read after the user's gate is held, so a
// slow publish is followed by the correcting event, never overtaken by a
// stale one.
func (t *Tracker) announce(userID string) {
	gate := t.acquire(userID)
	defer t.release(userID, gate)

	t.mu.Lock()
	online := len(t.conns[userID]) > 0
	_, pending := t.pending[userID]
	was := t.announced[userID]
	if online {
		t.announced[userID] = true
	} else if !pending {
		delete(t.announced, userID)
	}
	t.mu.Unlock()

	switch {
	case pending || online == was:
		return
	case online:
		if t.clusterJoin(userID) {
			t.logger.Info("User came online", "user_id", userID)
			t.publish(UserOnline, userID)
		}
	default:
		if t.clusterLeave(userID) {
			t.logger.Info("User went offline", "user_id", userID)
			t.publish(UserOffline, userID)
		}
	}
}

func (t *Tracker) acquire(userID string) *userGate {
	t.mu.Lock()
	g, ok := t.gates[userID]
	if !ok {
		g = &userGate{}
		t.gates[userID] = g
	}
	g.refs++
	t.mu.Unlock()
	g.mu.Lock()
	return g
}

func (t *Tracker) release(userID string, g *userGate) {
	g.mu.Unlock()
	t.mu.Lock()
	g.refs--
	if g.refs == 0 {
		delete(t.gates, userID)
	}
	t.mu.Unlock()
}

// Touch records a heartbeat for the connection.
func (t *Tracker) Touch(userID, connID string) {
	t.mu.Lock()
	set, ok := t.conns[userID]
	if ok {
		if _, ok = set[connID]; ok {
			set[connID] = time.Now()
		}
	}
	t.mu.Unlock()

	if ok && t.cluster != nil {
		ctx, cancel := context.WithTimeout(context.Background(), clusterTimeout)
		defer cancel()
		if err := t.cluster.Refresh(ctx, userID); err != nil {
			t.logger.Warn("Failed to refresh cluster presence", "user_id", userID, "error", err)
		}
	}
}

// IsOnline reports whether the user has a connection on this instance.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID]) > 0
}

// IsOnlineAnywhere also consults the cluster when one is configured.
func (t *Tracker) IsOnlineAnywhere(ctx context.Context, userID string) bool {
	if t.IsOnline(userID) {
		return true
	}
	if t.cluster == nil {
		return false
	}
	online, err := t.cluster.IsOnline(ctx, userID)
	if err != nil {
		t.logger.Warn("Failed to query cluster presence", "user_id", userID, "error", err)
		return false
	}
	return online
}

// ConnectionsOf returns the user's connection ids in sorted order.
func (t *Tracker) ConnectionsOf(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.conns[userID]))
}

// OnlineUsers returns the users with at least one local connection, sorted.
func (t *Tracker) OnlineUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.conns))
}

// Shutdown stops the sweeper and drops pending offline events.
func (t *Tracker) Shutdown() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.mu.Lock()
		for userID, p := range t.pending {
			p.timer.Stop()
			delete(t.pending, userID)
		}
		t.mu.Unlock()
	})
}

func (t *Tracker) sweep() {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.removeStale()
		case <-t.stop:
			return
		}
	}
}

// removeStale drops connections not touched within the stale threshold
// through the regular removal path.
func (t *Tracker) removeStale() {
	cutoff := time.Now().Add(-t.staleThreshold)

	type key struct{ user, conn string }
	var stale []key
	t.mu.Lock()
	for userID, set := range t.conns {
		for connID, seen := range set {
			if seen.Before(cutoff) {
				stale = append(stale, key{userID, connID})
			}
		}
	}
	t.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	t.logger.Info("Removing stale connections", "connections_removed", len(stale))
	for _, k := range stale {
		t.RemoveConnection(k.user, k.conn)
	}
}

func (t *Tracker) publish(event pubsub.Event[StatusEvent], userID string) {
	if t.publisher == nil {
		return
	}
	err := pubsub.Publish(context.Background(), t.publisher, event, userID, StatusEvent{
		UserID: userID,
		At:     time.Now().UTC(),
	})
	if err != nil {
		t.logger.Error("Failed to publish presence event", "topic", event.Name(), "user_id", userID, "error", err)
	}
}

// clusterJoin reports whether this is the user's first instance. Without a
// cluster, or when the cluster is unreachable, the local view decides.
func (t *Tracker) clusterJoin(userID string) bool {
	if t.cluster == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), clusterTimeout)
	defer cancel()
	first, err := t.cluster.Join(ctx, userID, t.instanceID)
	if err != nil {
		t.logger.Warn("Cluster join failed, using local presence", "user_id", userID, "error", err)
		return true
	}
	return first
}

func (t *Tracker) clusterLeave(userID string) bool {
	if t.cluster == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), clusterTimeout)
	defer cancel()
	last, err := t.cluster.Leave(ctx, userID, t.instanceID)
	if err != nil {
		t.logger.Warn("Cluster leave failed, using local presence", "user_id", userID, "error", err)
		return true
	}
	return last
}
