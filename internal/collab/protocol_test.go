package collab

import (
	"reflect"
	"testing"

	"github.com/user/remixsync/internal/types"
)

// relay collects the envelopes a store would broadcast.
func relay(store *Store, session types.SessionID) *[]types.Envelope {
	var out []types.Envelope
	for _, kind := range []types.EventKind{
		types.KindFilterChange, types.KindClipAdded, types.KindParticipantJoin, types.KindCursorMove,
	} {
		store.Subscribe(kind, func(ev Event) {
			if !ev.Remote {
				out = append(out, EnvelopeFor(session, ev))
			}
		})
	}
	return &out
}

func TestReceiveIgnoresSelfEcho(t *testing.T) {
	store := NewStore("alice")
	sent := relay(store, "s1")

	if _, err := store.ApplyLocalFilterChange("blur", types.Params{"radius": 5}, true); err != nil {
		t.Fatal(err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(*sent))
	}

	outcome, err := store.Receive((*sent)[0])
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeEcho {
		t.Errorf("expected echo outcome, got %s", outcome)
	}

	doc := store.Snapshot()
	if len(doc.ActiveFilters) != 1 {
		t.Fatalf("expected exactly one active filter, got %d", len(doc.ActiveFilters))
	}
	want := types.Params{"radius": 5}
	if got := doc.ActiveFilters["blur"].Params; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if doc.Version != 1 {
		t.Errorf("expected version 1, got %d", doc.Version)
	}
}

func TestReceiveDisableRemovesFilter(t *testing.T) {
	alice := NewStore("alice")
	bob := NewStore("bob")
	sent := relay(alice, "s1")

	if _, err := alice.ApplyLocalFilterChange("vhs", types.Params{"intensity": 0.7}, true); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.Receive((*sent)[0]); err != nil {
		t.Fatal(err)
	}
	if got := bob.Snapshot().ActiveFilters["vhs"].Params["intensity"]; got != 0.7 {
		t.Errorf("expected vhs intensity 0.7 at bob, got %v", got)
	}

	if _, err := alice.ApplyLocalFilterChange("vhs", nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.Receive((*sent)[1]); err != nil {
		t.Fatal(err)
	}
	if n := len(bob.Snapshot().ActiveFilters); n != 0 {
		t.Errorf("expected no active filters at bob, got %d", n)
	}
	if !reflect.DeepEqual(alice.Snapshot(), bob.Snapshot()) {
		t.Error("expected both participants to hold the same document")
	}
}

func TestReceiveBelatedUpdateIsStale(t *testing.T) {
	alice := NewStore("alice")
	bob := NewStore("bob")
	fromAlice := relay(alice, "s1")

	v, err := alice.ApplyLocalFilterChange("glitch", types.Params{"amount": 0.3, "speed": 0.5}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Fatalf("expected alice at version 1, got %d", v)
	}

	// Bob never sees version 1 and reaches version 2 on his own.
	if _, err := bob.AddClip(types.Clip{ID: "intro", Duration: 6}); err != nil {
		t.Fatal(err)
	}
	v, err = bob.ApplyLocalFilterChange("pixelate", types.Params{"size": 10}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("expected bob at version 2, got %d", v)
	}

	outcome, err := bob.Receive((*fromAlice)[0])
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeStale {
		t.Errorf("expected stale outcome, got %s", outcome)
	}
	doc := bob.Snapshot()
	if _, ok := doc.ActiveFilters["glitch"]; ok {
		t.Error("expected belated glitch update to be discarded")
	}
	if doc.ActiveFilters["pixelate"].Params["size"] != 10 || len(doc.ActiveFilters) != 1 {
		t.Errorf("expected only pixelate, got %v", doc.FilterNames())
	}
}

func TestReceiveMissingDocumentResets(t *testing.T) {
	store := NewStore("bob")
	if _, err := store.AddClip(types.Clip{ID: "c1", Duration: 2}); err != nil {
		t.Fatal(err)
	}

	env := types.NewEnvelope(types.KindStateUpdate, "s1", "alice", 5)
	outcome, err := store.Receive(env)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	doc := store.Snapshot()
	if len(doc.Timeline) != 0 || doc.Version != 5 {
		t.Errorf("expected empty document at version 5, got %+v", doc)
	}
}

func TestReceivePresence(t *testing.T) {
	store := NewStore("alice")
	if err := store.JoinParticipant(types.Participant{ID: "alice", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}

	join := types.NewEnvelope(types.KindParticipantJoin, "s1", "bob", 0)
	join.Participant = &types.Participant{ID: "bob", Name: "Bob"}
	if outcome, err := store.Receive(join); err != nil || outcome != OutcomePresence {
		t.Fatalf("expected presence outcome, got %s %v", outcome, err)
	}

	move := types.NewEnvelope(types.KindCursorMove, "s1", "bob", 0)
	move.Cursor = &types.Cursor{X: 3, Y: 4}
	if _, err := store.Receive(move); err != nil {
		t.Fatal(err)
	}

	roster := store.Participants()
	if len(roster) != 2 || roster[1].Cursor == nil || roster[1].Cursor.X != 3 {
		t.Fatalf("expected bob with cursor, got %+v", roster)
	}

	leave := types.NewEnvelope(types.KindParticipantLeave, "s1", "bob", 0)
	if _, err := store.Receive(leave); err != nil {
		t.Fatal(err)
	}
	if len(store.Participants()) != 1 {
		t.Errorf("expected bob removed, got %+v", store.Participants())
	}

	ghost := types.NewEnvelope(types.KindCursorMove, "s1", "ghost", 0)
	ghost.Cursor = &types.Cursor{}
	if outcome, _ := store.Receive(ghost); outcome != OutcomeIgnored {
		t.Errorf("expected cursor of unknown participant ignored, got %s", outcome)
	}
}

func TestReceivePresenceOnlyForOrigin(t *testing.T) {
	store := NewStore("alice")
	for _, p := range []types.Participant{{ID: "alice", Name: "Alice"}, {ID: "carol", Name: "Carol"}} {
		if err := store.JoinParticipant(p); err != nil {
			t.Fatal(err)
		}
	}
	bob := types.NewEnvelope(types.KindParticipantJoin, "s1", "bob", 0)
	bob.Participant = &types.Participant{ID: "bob", Name: "Bob"}
	if _, err := store.Receive(bob); err != nil {
		t.Fatal(err)
	}

	// bob announces carol's departure; only bob may leave on his own behalf
	leave := types.NewEnvelope(types.KindParticipantLeave, "s1", "bob", 0)
	leave.Participant = &types.Participant{ID: "carol"}
	if _, err := store.Receive(leave); err != nil {
		t.Fatal(err)
	}
	if !store.Has("carol") {
		t.Error("expected carol to stay on the roster")
	}
	if store.Has("bob") {
		t.Error("expected bob to have left")
	}

	spoof := types.NewEnvelope(types.KindParticipantJoin, "s1", "bob", 0)
	spoof.Participant = &types.Participant{ID: "alice", Name: "mallory", Offline: true}
	outcome, err := store.Receive(spoof)
	if outcome != OutcomeIgnored || !IsValidation(err) {
		t.Fatalf("expected rejected join, got %s %v", outcome, err)
	}
	for _, p := range store.Participants() {
		if p.ID == "alice" && (p.Name != "Alice" || p.Offline) {
			t.Errorf("expected alice's entry untouched, got %+v", p)
		}
	}
}

func TestEnvelopeForCarriesFullDocument(t *testing.T) {
	store := NewStore("alice")
	sent := relay(store, "s1")
	if _, err := store.AddClip(types.Clip{ID: "c1", Duration: 3}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ApplyLocalFilterChange("blur", types.Params{"radius": 5}, true); err != nil {
		t.Fatal(err)
	}

	env := (*sent)[1]
	if env.Type != types.KindFilterChange || env.Version != 2 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Document == nil || len(env.Document.Timeline) != 1 {
		t.Fatal("expected filter envelope to carry the full document")
	}
	if env.Filter == nil || env.Filter.Origin != "alice" || env.Filter.Version != 2 {
		t.Errorf("unexpected filter event %+v", env.Filter)
	}
}
