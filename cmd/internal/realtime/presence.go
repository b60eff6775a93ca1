package realtime

import (
	"hash/fnv"
	"sync"
	"time"

	v1 "carelink/contracts/realtime/v1"
)

const presenceShards = 16

// Presence is the in-memory connection registry: at most one live client per
// identity. It is sharded by identity id so unrelated identities never
// contend on a single lock.
//
// Single-process by design: state is lost on restart and clients are
// expected to reconnect.
type Presence struct {
	shards [presenceShards]presenceShard
}

type presenceShard struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewPresence constructs an empty registry.
func NewPresence() *Presence {
	p := &Presence{}
	for i := range p.shards {
		p.shards[i].clients = make(map[string]*Client)
	}
	return p
}

func (p *Presence) shard(identityID string) *presenceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identityID))
	return &p.shards[h.Sum32()%presenceShards]
}

// Register installs client as the single connection for its identity and
// returns the prior connection, if any. The caller owns evicting the prior
// (distinguishable close code); the registry never blocks on it.
func (p *Presence) Register(client *Client) (prior *Client) {
	s := p.shard(client.IdentityID)
	s.mu.Lock()
	prior = s.clients[client.IdentityID]
	s.clients[client.IdentityID] = client
	s.mu.Unlock()

	if prior == client {
		return nil
	}
	return prior
}

// Lookup returns the live client for an identity, or nil.
func (p *Presence) Lookup(identityID string) *Client {
	s := p.shard(identityID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[identityID]
}

// Touch updates liveness for the identity's current connection.
func (p *Presence) Touch(identityID string, now time.Time) bool {
	c := p.Lookup(identityID)
	if c == nil {
		return false
	}
	c.Touch(now)
	return true
}

// Remove deregisters client, but only if it is still the stored connection
// for its identity. A disconnecting old connection therefore never removes
// the registration of its replacement.
func (p *Presence) Remove(identityID string, client *Client) bool {
	s := p.shard(identityID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.clients[identityID]
	if !ok || cur != client {
		return false
	}
	delete(s.clients, identityID)
	return true
}

// BroadcastRole enqueues env to every connected client with the given role
// and returns the number of successful enqueues. Pushes are non-blocking;
// saturated clients are skipped.
func (p *Presence) BroadcastRole(role string, env v1.Envelope) int {
	var delivered int
	for i := range p.shards {
		s := &p.shards[i]

		s.mu.RLock()
		targets := make([]*Client, 0, len(s.clients))
		for _, c := range s.clients {
			if c.Role == role {
				targets = append(targets, c)
			}
		}
		s.mu.RUnlock()

		for _, c := range targets {
			if c.TryEnqueue(env) {
				delivered++
			}
		}
	}
	return delivered
}

// Len returns the number of live registrations (metrics/readiness).
func (p *Presence) Len() int {
	var n int
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.RLock()
		n += len(s.clients)
		s.mu.RUnlock()
	}
	return n
}
