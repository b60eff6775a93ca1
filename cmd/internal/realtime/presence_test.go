package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	v1 "carelink/contracts/realtime/v1"
)

func testClient(identityID, role string) *Client {
	return NewClient(NewRandomHex(8), identityID, role, "", time.Now().UTC(), 8)
}

func TestPresence_RegisterReturnsPrior(t *testing.T) {
	t.Parallel()

	p := NewPresence()
	first := testClient("01HAAAAAAAAAAAAAAAAAAAAAAA", "patient")
	second := testClient("01HAAAAAAAAAAAAAAAAAAAAAAA", "patient")

	if prior := p.Register(first); prior != nil {
		t.Fatalf("expected no prior for first registration")
	}
	if prior := p.Register(second); prior != first {
		t.Fatalf("expected first connection as prior, got %v", prior)
	}
	if got := p.Lookup("01HAAAAAAAAAAAAAAAAAAAAAAA"); got != second {
		t.Fatalf("lookup should return the replacement")
	}
	if p.Len() != 1 {
		t.Fatalf("expected single registration per identity, got %d", p.Len())
	}
}

func TestPresence_RemoveGuardedByHandle(t *testing.T) {
	t.Parallel()

	p := NewPresence()
	old := testClient("01HBBBBBBBBBBBBBBBBBBBBBBB", "clinician")
	replacement := testClient("01HBBBBBBBBBBBBBBBBBBBBBBB", "clinician")

	p.Register(old)
	p.Register(replacement)

	// The stale connection's disconnect must not unregister the replacement.
	if removed := p.Remove(old.IdentityID, old); removed {
		t.Fatalf("stale remove must be a no-op")
	}
	if got := p.Lookup(replacement.IdentityID); got != replacement {
		t.Fatalf("replacement lost after stale remove")
	}

	if removed := p.Remove(replacement.IdentityID, replacement); !removed {
		t.Fatalf("owner remove should succeed")
	}
	if got := p.Lookup(replacement.IdentityID); got != nil {
		t.Fatalf("expected empty registry after remove, got %v", got)
	}
}

func TestPresence_TouchUpdatesLiveness(t *testing.T) {
	t.Parallel()

	p := NewPresence()
	c := testClient("01HCCCCCCCCCCCCCCCCCCCCCCC", "admin")
	p.Register(c)

	later := time.Now().UTC().Add(time.Minute)
	if !p.Touch(c.IdentityID, later) {
		t.Fatalf("touch should find the registered client")
	}
	if !c.LastSeen().Equal(later) {
		t.Fatalf("last seen not updated: %v", c.LastSeen())
	}
	if p.Touch("01HMISSINGMISSINGMISSINGMI", later) {
		t.Fatalf("touch must report false for unknown identity")
	}
}

func TestPresence_BroadcastRole(t *testing.T) {
	t.Parallel()

	p := NewPresence()
	coord1 := testClient("01HDDDDDDDDDDDDDDDDDDDDDD1", "care_coordinator")
	coord2 := testClient("01HDDDDDDDDDDDDDDDDDDDDDD2", "care_coordinator")
	patient := testClient("01HDDDDDDDDDDDDDDDDDDDDDD3", "patient")
	p.Register(coord1)
	p.Register(coord2)
	p.Register(patient)

	payload, _ := json.Marshal(v1.ErrorPayload{Code: "test", Message: "fanout"})
	env := v1.Envelope{V: v1.Version, Type: v1.TypeNotification, TS: time.Now().UTC(), Payload: payload}

	if n := p.BroadcastRole("care_coordinator", env); n != 2 {
		t.Fatalf("expected fanout to 2 coordinators, got %d", n)
	}
	select {
	case <-patient.Send:
		t.Fatalf("patient must not receive role broadcast for coordinators")
	default:
	}
}

func TestPresence_ConcurrentRegisterSingleSurvivor(t *testing.T) {
	t.Parallel()

	p := NewPresence()
	const racers = 32

	var wg sync.WaitGroup
	clients := make([]*Client, racers)
	for i := 0; i < racers; i++ {
		clients[i] = testClient("01HEEEEEEEEEEEEEEEEEEEEEEE", "patient")
	}
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Register(clients[i])
		}(i)
	}
	wg.Wait()

	if p.Len() != 1 {
		t.Fatalf("expected one registration after racing registers, got %d", p.Len())
	}
	survivor := p.Lookup("01HEEEEEEEEEEEEEEEEEEEEEEE")
	if survivor == nil {
		t.Fatalf("expected a survivor")
	}
}

func TestClient_TryEnqueueDropsWhenSaturated(t *testing.T) {
	t.Parallel()

	c := NewClient("s", "01HFFFFFFFFFFFFFFFFFFFFFFF", "patient", "", time.Now().UTC(), 0)
	// Queue clamps to a minimum capacity; fill it.
	env := v1.Envelope{V: v1.Version, Type: v1.TypePong, TS: time.Now().UTC()}
	for c.TryEnqueue(env) {
	}

	if c.TryEnqueue(env) {
		t.Fatalf("saturated queue must drop, not block")
	}

	c.Close()
	if c.TryEnqueue(env) {
		t.Fatalf("closed client must not accept pushes")
	}
}
