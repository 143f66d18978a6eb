// Package dialer implements the client-side connection dialer: given a
// HostProfile, it races candidate connections to first-usable and then
// maintains a single logical channel with auto-reconnect and exponential
// backoff (spec §4.1.2).
package dialer

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paseo-dev/paseo/internal/common/logger"
)

// ConnectionType distinguishes a direct TCP/WS endpoint from a relay hop.
type ConnectionType string

const (
	ConnectionDirect ConnectionType = "direct"
	ConnectionRelay  ConnectionType = "relay"
)

// Connection is one candidate entry in a HostProfile.
type Connection struct {
	ID                 string
	Type               ConnectionType
	DirectEndpoint     string // set when Type == direct
	RelayEndpoint      string // set when Type == relay
	DaemonPublicKeyB64 string // required when Type == relay
}

// HostProfile is the client-side record of a known daemon (spec §3).
type HostProfile struct {
	ServerID              string
	Label                 string
	Connections           []Connection
	PreferredConnectionID string
	Metadata              map[string]string // includes legacyIds, comma-joined
}

// Candidate handshake timing (spec §4.1.2).
const (
	StaggerInterval   = 50 * time.Millisecond
	HandshakeTimeout  = 5 * time.Second
	MaxBackoff        = 30 * time.Second
	BaseBackoff       = 500 * time.Millisecond
	BackoffJitterFrac = 0.20
)

// ServerInfo is the handshake response a daemon sends once a candidate
// connects: its authoritative identity.
type ServerInfo struct {
	ServerID string
}

// Dial attempts to open and handshake one candidate. Implementations are
// transport-specific (direct websocket dial, or relay JOIN); Dial must
// respect ctx cancellation and return promptly when outraced.
type Dial func(ctx context.Context, c Connection) (Channel, *ServerInfo, error)

// Channel is a live bidirectional frame channel to a daemon, already past
// handshake.
type Channel interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

// ActiveConnection reports which candidate won the race, for UI display.
type ActiveConnection struct {
	ConnectionID string
	Type         ConnectionType
}

// Registry tracks HostProfiles and applies the rekey logic from spec §4.1.2.
type Registry struct {
	mu       sync.Mutex
	profiles map[string]*HostProfile // keyed by serverId
}

// NewRegistry creates an empty host profile registry.
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]*HostProfile)}
}

// Put inserts or replaces a profile keyed by its current serverId.
func (r *Registry) Put(p *HostProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ServerID] = p
}

// Get returns the profile for a given serverId, if present.
func (r *Registry) Get(serverID string) (*HostProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[serverID]
	return p, ok
}

// Rekey handles a handshake reply whose serverId differs from the profile's
// stored serverId: it moves the profile under the new key and records the
// old id under metadata.legacyIds (spec §4.1.2, scenario 6).
func (r *Registry) Rekey(oldServerID, newServerID string) *HostProfile {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[oldServerID]
	if !ok || oldServerID == newServerID {
		return p
	}

	delete(r.profiles, oldServerID)
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	legacy := p.Metadata["legacyIds"]
	if legacy == "" {
		legacy = oldServerID
	} else {
		legacy = legacy + "," + oldServerID
	}
	p.Metadata["legacyIds"] = legacy
	p.ServerID = newServerID
	r.profiles[newServerID] = p
	return p
}

// orderedCandidates builds the race order: preferred first, then remaining in
// stored order, direct preferred over relay when otherwise tied (spec §4.1.2).
func orderedCandidates(p *HostProfile) []Connection {
	ordered := make([]Connection, len(p.Connections))
	copy(ordered, p.Connections)

	sort.SliceStable(ordered, func(i, j int) bool {
		iPreferred := ordered[i].ID == p.PreferredConnectionID
		jPreferred := ordered[j].ID == p.PreferredConnectionID
		if iPreferred != jPreferred {
			return iPreferred
		}
		return false // preserve stored order otherwise; stable sort keeps it
	})

	// Secondary stable pass: within the non-preferred block, direct before relay.
	nonPreferred := ordered
	if len(ordered) > 0 && ordered[0].ID == p.PreferredConnectionID {
		nonPreferred = ordered[1:]
	}
	sort.SliceStable(nonPreferred, func(i, j int) bool {
		return nonPreferred[i].Type == ConnectionDirect && nonPreferred[j].Type == ConnectionRelay
	})

	return ordered
}

type raceResult struct {
	conn Connection
	ch   Channel
	info *ServerInfo
}

// Dialer races HostProfile candidates and maintains reconnect-with-backoff.
type Dialer struct {
	log  *logger.Logger
	dial Dial

	mu     sync.Mutex
	active *ActiveConnection
}

// New constructs a Dialer using the given transport-specific Dial function.
func New(log *logger.Logger, dial Dial) *Dialer {
	return &Dialer{log: log.WithFields(zap.String("component", "dialer")), dial: dial}
}

// Active returns the currently active connection, if any.
func (d *Dialer) Active() *ActiveConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Race opens every candidate in p in parallel with a staggered start and
// returns the first to complete a handshake; losers are cancelled. Returns an
// error if every candidate fails.
func (d *Dialer) Race(ctx context.Context, p *HostProfile) (Channel, *ServerInfo, *ActiveConnection, error) {
	candidates := orderedCandidates(p)
	if len(candidates) == 0 {
		return nil, nil, nil, errNoCandidates
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raceResult, len(candidates))
	errs := make(chan error, len(candidates))

	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c Connection) {
			defer wg.Done()
			if i > 0 {
				select {
				case <-time.After(time.Duration(i) * StaggerInterval):
				case <-raceCtx.Done():
					return
				}
			}
			hctx, hcancel := context.WithTimeout(raceCtx, HandshakeTimeout)
			defer hcancel()
			ch, info, err := d.dial(hctx, c)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
			select {
			case results <- raceResult{conn: c, ch: ch, info: info}:
			case <-raceCtx.Done():
				_ = ch.Close()
			}
		}(i, c)
	}

	go func() {
		wg.Wait()
		close(results)
		close(errs)
	}()

	select {
	case res, ok := <-results:
		if !ok {
			return nil, nil, nil, errAllCandidatesFailed
		}
		cancel() // cancel losers
		active := &ActiveConnection{ConnectionID: res.conn.ID, Type: res.conn.Type}
		d.mu.Lock()
		d.active = active
		d.mu.Unlock()
		d.log.Info("candidate won race",
			zap.String("connection_id", res.conn.ID),
			zap.String("type", string(res.conn.Type)))
		return res.ch, res.info, active, nil
	case <-ctx.Done():
		return nil, nil, nil, ctx.Err()
	}
}

// Backoff returns the reconnect delay for attempt n (0-indexed), following
// min(30s, 500ms*2^n) with ±20% jitter (spec §4.1.2).
func Backoff(n int) time.Duration {
	base := float64(BaseBackoff) * math.Pow(2, float64(n))
	capped := math.Min(float64(MaxBackoff), base)
	jitter := capped * BackoffJitterFrac * (2*rand.Float64() - 1)
	d := time.Duration(capped + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// Run drives the race-then-reconnect loop until ctx is cancelled. onConnect is
// invoked with each successfully established channel; it should block for the
// channel's lifetime and return when the channel breaks, at which point Run
// re-enters the race-and-backoff cycle.
func (d *Dialer) Run(ctx context.Context, p *HostProfile, onConnect func(ctx context.Context, ch Channel, info *ServerInfo, active *ActiveConnection)) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		ch, info, active, err := d.Race(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := Backoff(attempt)
			attempt++
			d.log.Warn("all candidates failed, backing off",
				zap.Error(err), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}

		attempt = 0
		connCtx, connCancel := context.WithCancel(ctx)
		onConnect(connCtx, ch, info, active)
		connCancel()
		_ = ch.Close()

		d.mu.Lock()
		d.active = nil
		d.mu.Unlock()
	}
}
