package events

import (
	"testing"
	"time"

	"github.com/andresmejia3/greeter/internal/tracker"
	"github.com/andresmejia3/greeter/internal/types"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newEngine(mode Mode, cooldown time.Duration) (*Engine, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	logger, _ := test.NewNullLogger()
	return New(Config{Mode: mode, Cooldown: cooldown}, clk.now, logger), clk
}

var alice = types.Match{IdentityID: 1, Name: "Alice", Score: 0.6}

func confirmed(id int64, m types.Match) tracker.Track {
	return tracker.Track{ID: id, Identity: m, Candidate: m, Confirmed: true, Streak: 3}
}

func TestEntryOnConfirmation(t *testing.T) {
	e, _ := newEngine(Presence, 300*time.Second)

	ev, ok := e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(1, alice)})
	if !ok {
		t.Fatal("expected an ENTRY")
	}
	if ev.Kind != types.Entry || ev.Name != "Alice" || ev.TrackID != 1 {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Text != "Hey Alice, welcome!" {
		t.Errorf("unexpected text %q", ev.Text)
	}
	if ev.ID == "" || ev.Forced {
		t.Errorf("expected an id and an unforced event, got %+v", ev)
	}
}

func TestCooldown(t *testing.T) {
	e, clk := newEngine(Presence, 300*time.Second)

	if _, ok := e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(1, alice)}); !ok {
		t.Fatal("first ENTRY must be emitted")
	}
	if _, ok := e.OnTrackLost(confirmed(1, alice)); !ok {
		t.Fatal("first EXIT must be emitted")
	}

	// Scenario C: back 60 seconds later on a new track.
	clk.advance(60 * time.Second)
	if _, ok := e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(2, alice)}); ok {
		t.Error("ENTRY inside the cooldown must be suppressed")
	}
	if _, ok := e.OnTrackLost(confirmed(2, alice)); ok {
		t.Error("EXIT inside the cooldown must be suppressed")
	}

	clk.advance(240 * time.Second)
	if _, ok := e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(3, alice)}); !ok {
		t.Error("ENTRY exactly at the cooldown boundary must be emitted")
	}
}

func TestCooldownIsPerIdentityAndKind(t *testing.T) {
	e, _ := newEngine(Presence, time.Hour)
	bob := types.Match{IdentityID: 2, Name: "Bob", Score: 0.7}

	if _, ok := e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(1, alice)}); !ok {
		t.Fatal("ENTRY(Alice)")
	}
	if _, ok := e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(2, bob)}); !ok {
		t.Error("Bob has his own cooldown")
	}
	if _, ok := e.OnTrackLost(confirmed(1, alice)); !ok {
		t.Error("EXIT has its own cooldown")
	}
}

func TestUnknownNeverEmits(t *testing.T) {
	e, _ := newEngine(Presence, 0)
	unknown := tracker.Track{ID: 1, Identity: types.Match{Name: types.UnknownName}}
	if _, ok := e.OnTrackConfirmed(tracker.Confirmation{Track: unknown}); ok {
		t.Error("unknown confirmation emitted")
	}
	if _, ok := e.OnTrackLost(unknown); ok {
		t.Error("unknown loss emitted")
	}
	if got := e.Shutdown([]tracker.Track{unknown}); len(got) != 0 {
		t.Errorf("unknown farewelled on shutdown: %+v", got)
	}
}

func TestIdentitySwitchGreetsNewIdentity(t *testing.T) {
	e, _ := newEngine(Presence, time.Hour)
	bob := types.Match{IdentityID: 2, Name: "Bob", Score: 0.7}

	e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(1, alice)})
	ev, ok := e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(1, bob), Previous: alice})
	if !ok || ev.Name != "Bob" || ev.Kind != types.Entry {
		t.Fatalf("expected ENTRY(Bob), got %+v ok=%v", ev, ok)
	}
}

func TestDoorLineMode(t *testing.T) {
	e, _ := newEngine(DoorLine, 0)
	tr := confirmed(1, alice)

	if _, ok := e.OnTrackConfirmed(tracker.Confirmation{Track: tr}); ok {
		t.Error("confirmation must not greet in door-line mode")
	}
	if _, ok := e.OnTrackLost(tr); ok {
		t.Error("loss must not farewell in door-line mode")
	}

	ev, ok := e.OnLineCrossed(tr, types.Outside, types.Inside)
	if !ok || ev.Kind != types.Entry {
		t.Errorf("outside->inside should be ENTRY, got %+v", ev)
	}
	ev, ok = e.OnLineCrossed(tr, types.Inside, types.Outside)
	if !ok || ev.Kind != types.Exit || ev.Text != "Bye Alice, see you later!" {
		t.Errorf("inside->outside should be EXIT, got %+v", ev)
	}

	unconfirmed := tracker.Track{ID: 2, Candidate: alice, Streak: 1}
	if _, ok := e.OnLineCrossed(unconfirmed, types.Outside, types.Inside); ok {
		t.Error("unconfirmed track crossing must not emit")
	}
}

func TestPresenceIgnoresCrossings(t *testing.T) {
	e, _ := newEngine(Presence, 0)
	if _, ok := e.OnLineCrossed(confirmed(1, alice), types.Outside, types.Inside); ok {
		t.Error("presence mode must ignore crossings")
	}
}

func TestShutdownForcesExitOnce(t *testing.T) {
	e, _ := newEngine(Presence, time.Hour)

	e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(1, alice)})
	e.OnTrackLost(confirmed(1, alice)) // EXIT cooldown now armed

	live := []tracker.Track{
		confirmed(2, alice),
		confirmed(3, alice), // same person on two tracks
		{ID: 4, Candidate: alice, Streak: 1},
	}
	got := e.Shutdown(live)
	if len(got) != 1 {
		t.Fatalf("expected exactly one forced EXIT, got %d", len(got))
	}
	if got[0].Kind != types.Exit || !got[0].Forced || got[0].Name != "Alice" {
		t.Errorf("unexpected shutdown event %+v", got[0])
	}
	if again := e.Shutdown(live); len(again) != 0 {
		t.Errorf("second shutdown emitted %d events", len(again))
	}
	if !e.Closed() {
		t.Error("engine should report closed")
	}
}

func TestCustomTemplates(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e := New(Config{Mode: Presence, EntryTemplate: "Welcome back, {name}."}, nil, logger)
	ev, _ := e.OnTrackConfirmed(tracker.Confirmation{Track: confirmed(1, alice)})
	if ev.Text != "Welcome back, Alice." {
		t.Errorf("unexpected text %q", ev.Text)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"presence", Presence, false},
		{"door_line", DoorLine, false},
		{"doorway", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}
