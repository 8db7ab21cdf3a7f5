package device

import (
	"errors"
	"testing"
	"time"
)

func sensorDesc(deviceID, cmdID int, slug string) *EntityDescriptor {
	return &EntityDescriptor{
		Platform: PlatformSensor,
		Slug:     slug,
		DeviceID: deviceID,
		States:   map[Role]int{RoleState: cmdID},
	}
}

func TestEntityIndex_ReplaceAndLookup(t *testing.T) {
	x := NewEntityIndex()
	stored, removed := x.Replace(1, []*EntityDescriptor{
		sensorDesc(1, 10, "salon_temperature"),
		sensorDesc(1, 11, "salon_humidite"),
	})

	if len(stored) != 2 || len(removed) != 0 {
		t.Fatalf("stored=%d removed=%d, want 2/0", len(stored), len(removed))
	}
	if x.Count() != 2 {
		t.Errorf("Count() = %d, want 2", x.Count())
	}
	if d, ok := x.BySlug("salon_temperature"); !ok || d.States[RoleState] != 10 {
		t.Errorf("BySlug() = %+v, %v", d, ok)
	}
	if got := x.ForCommand(11); len(got) != 1 || got[0].Slug != "salon_humidite" {
		t.Errorf("ForCommand(11) = %+v", got)
	}
	if got := x.ForDevice(1); len(got) != 2 {
		t.Errorf("ForDevice(1) = %d descriptors, want 2", len(got))
	}
}

func TestEntityIndex_ReplaceIsIdempotent(t *testing.T) {
	x := NewEntityIndex()
	descs := []*EntityDescriptor{sensorDesc(1, 10, "a")}

	x.Replace(1, descs)
	_ = x.SetState("a", EntityState{State: 21.5, UpdatedAt: time.Now()})
	_, removed := x.Replace(1, descs)

	if len(removed) != 0 || x.Count() != 1 {
		t.Errorf("removed=%v count=%d, want none/1", removed, x.Count())
	}
	if st, ok := x.State("a"); !ok || st.State != 21.5 {
		t.Errorf("state lost across identical replace: %+v %v", st, ok)
	}
	if got := x.ForCommand(10); len(got) != 1 {
		t.Errorf("ForCommand(10) = %d, want 1 (no duplicates)", len(got))
	}
}

func TestEntityIndex_ReplaceRemovesStale(t *testing.T) {
	x := NewEntityIndex()
	x.Replace(1, []*EntityDescriptor{sensorDesc(1, 10, "a"), sensorDesc(1, 11, "b")})

	_, removed := x.Replace(1, []*EntityDescriptor{sensorDesc(1, 10, "a")})

	if len(removed) != 1 || removed[0] != "b" {
		t.Errorf("removed = %v, want [b]", removed)
	}
	if _, ok := x.BySlug("b"); ok {
		t.Error("stale slug still indexed")
	}
	if got := x.ForCommand(11); len(got) != 0 {
		t.Errorf("ForCommand(11) = %d, want 0", len(got))
	}
}

func TestEntityIndex_CrossDeviceSlugCollision(t *testing.T) {
	x := NewEntityIndex()
	x.Replace(1, []*EntityDescriptor{sensorDesc(1, 10, "lampe")})
	stored, _ := x.Replace(2, []*EntityDescriptor{sensorDesc(2, 20, "lampe")})

	if stored[0].Slug != "lampe_2" {
		t.Errorf("colliding slug = %q, want lampe_2", stored[0].Slug)
	}
	if d, _ := x.BySlug("lampe"); d.DeviceID != 1 {
		t.Errorf("original slug owner = %d, want 1", d.DeviceID)
	}
}

func TestEntityIndex_CrossDeviceSlugIndependentOfOrder(t *testing.T) {
	forward := NewEntityIndex()
	forward.Replace(1, []*EntityDescriptor{sensorDesc(1, 10, "lampe")})
	forward.Replace(2, []*EntityDescriptor{sensorDesc(2, 20, "lampe")})

	backward := NewEntityIndex()
	backward.Replace(2, []*EntityDescriptor{sensorDesc(2, 20, "lampe")})
	_ = backward.SetState("lampe", EntityState{State: 3.5})
	res := backward.ReplaceDevice(1, []*EntityDescriptor{sensorDesc(1, 10, "lampe")})

	if len(res.Stored) != 1 || res.Stored[0].Slug != "lampe" {
		t.Fatalf("Stored = %+v, want lampe for the lower id", res.Stored)
	}
	if len(res.Moved) != 1 || res.Moved[0] != (SlugMove{DeviceID: 2, From: "lampe", To: "lampe_2"}) {
		t.Errorf("Moved = %+v", res.Moved)
	}

	for name, x := range map[string]*EntityIndex{"forward": forward, "backward": backward} {
		if d, ok := x.BySlug("lampe"); !ok || d.DeviceID != 1 {
			t.Errorf("%s: BySlug(lampe) = %+v, %v; want device 1", name, d, ok)
		}
		if d, ok := x.BySlug("lampe_2"); !ok || d.DeviceID != 2 {
			t.Errorf("%s: BySlug(lampe_2) = %+v, %v; want device 2", name, d, ok)
		}
		if got := x.ForCommand(20); len(got) != 1 || got[0].Slug != "lampe_2" {
			t.Errorf("%s: ForCommand(20) = %+v", name, got)
		}
		if got := x.ForDevice(2); len(got) != 1 || got[0].Slug != "lampe_2" {
			t.Errorf("%s: ForDevice(2) = %+v", name, got)
		}
	}

	if st, ok := backward.State("lampe_2"); !ok || st.State != 3.5 {
		t.Errorf("state did not follow the rename: %+v %v", st, ok)
	}
	if _, ok := backward.State("lampe"); ok {
		t.Error("device 1 inherited the state of device 2")
	}
}

func TestEntityIndex_SharedSlugReleased(t *testing.T) {
	x := NewEntityIndex()
	x.Replace(1, []*EntityDescriptor{sensorDesc(1, 10, "lampe")})
	x.Replace(2, []*EntityDescriptor{sensorDesc(2, 20, "lampe")})
	x.Replace(3, []*EntityDescriptor{sensorDesc(3, 30, "lampe")})

	res := x.ReplaceDevice(1, nil)
	if len(res.Removed) != 1 || res.Removed[0] != "lampe" {
		t.Errorf("Removed = %v", res.Removed)
	}
	if len(res.Moved) != 1 || res.Moved[0] != (SlugMove{DeviceID: 2, From: "lampe_2", To: "lampe"}) {
		t.Errorf("Moved = %+v", res.Moved)
	}
	if d, ok := x.BySlug("lampe"); !ok || d.DeviceID != 2 {
		t.Errorf("BySlug(lampe) = %+v, %v; want device 2", d, ok)
	}
	if d, ok := x.BySlug("lampe_3"); !ok || d.DeviceID != 3 {
		t.Errorf("BySlug(lampe_3) = %+v, %v; want device 3", d, ok)
	}
	if x.Count() != 2 {
		t.Errorf("Count() = %d, want 2", x.Count())
	}
}

func TestEntityIndex_State(t *testing.T) {
	x := NewEntityIndex()
	x.Replace(1, []*EntityDescriptor{sensorDesc(1, 10, "a")})

	if _, ok := x.State("a"); ok {
		t.Error("State() before SetState should be absent")
	}
	if err := x.SetState("missing", EntityState{}); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("SetState(missing) error = %v, want ErrEntityNotFound", err)
	}
	if err := x.SetState("a", EntityState{State: "on"}); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if st, _ := x.State("a"); st.State != "on" {
		t.Errorf("State() = %v, want on", st.State)
	}
}

func TestEntityIndex_All(t *testing.T) {
	x := NewEntityIndex()
	x.Replace(2, []*EntityDescriptor{sensorDesc(2, 20, "b")})
	x.Replace(1, []*EntityDescriptor{{Platform: PlatformSwitch, Slug: "a", States: map[Role]int{RoleState: 10}}})

	all := x.All()
	if len(all) != 2 || all[0].Slug != "a" || all[1].Slug != "b" {
		t.Errorf("All() = %+v", all)
	}
	counts := x.CountByPlatform()
	if counts[PlatformSwitch] != 1 || counts[PlatformSensor] != 1 {
		t.Errorf("CountByPlatform() = %v", counts)
	}
}

func TestEntityDescriptor_CommandIDs(t *testing.T) {
	d := &EntityDescriptor{
		States:  map[Role]int{RoleState: 3, RolePosition: 3},
		Actions: map[Role]ActionBinding{ActionOpen: {CmdID: 1}, ActionClose: {CmdID: 2}},
	}
	got := d.CommandIDs()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("CommandIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CommandIDs() = %v, want %v", got, want)
		}
	}
}
