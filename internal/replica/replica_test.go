package replica

import (
	"testing"

	"github.com/cvvkv/cvvkv/internal/bus"
	"github.com/cvvkv/cvvkv/internal/kvstore"
	"github.com/cvvkv/cvvkv/internal/record"
	"github.com/cvvkv/cvvkv/internal/version"
)

func newTestReplica(t *testing.T, id version.ReplicaID, b bus.MessageBus) *Replica {
	t.Helper()
	store, err := kvstore.Open(kvstore.Config{Mode: kvstore.ModeMemory})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return New(id, b, store)
}

func TestCreateSingleReplicaIsImmediatelyReadable(t *testing.T) {
	b := bus.NewManualLocalBus()
	r := newTestReplica(t, "AA", b)

	if _, err := r.Create("k", []byte("v1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	rt, err := r.Read("k")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rt.Values) != 1 || string(rt.Values[0]) != "v1" {
		t.Fatalf("expected [v1], got %v", rt.Values)
	}
}

func TestCreateDuplicateKeyFails(t *testing.T) {
	b := bus.NewManualLocalBus()
	r := newTestReplica(t, "AA", b)

	if _, err := r.Create("k", []byte("v1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Create("k", []byte("v2")); err == nil {
		t.Fatalf("expected DuplicateKeyError")
	} else if _, ok := err.(*DuplicateKeyError); !ok {
		t.Fatalf("expected *DuplicateKeyError, got %T: %v", err, err)
	}
}

func TestCreatePropagatesToOtherReplicaViaBroadcast(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)
	_ = r2

	if _, err := r1.Create("k", []byte("v1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	b.DeliverAll()

	rt, err := r2.Read("k")
	if err != nil {
		t.Fatalf("read on r2: %v", err)
	}
	if len(rt.Values) != 1 || string(rt.Values[0]) != "v1" {
		t.Fatalf("expected r2 to see [v1] after broadcast, got %v", rt.Values)
	}
}

func TestConcurrentCreateOnTwoReplicasProducesSiblings(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)

	if _, err := r1.Create("k", []byte("fromAA")); err != nil {
		t.Fatalf("create on r1: %v", err)
	}
	if _, err := r2.Create("k", []byte("fromBB")); err != nil {
		t.Fatalf("create on r2: %v", err)
	}
	b.DeliverAll()

	rt1, err := r1.Read("k")
	if err != nil {
		t.Fatalf("read r1: %v", err)
	}
	if len(rt1.Values) != 2 {
		t.Fatalf("expected two concurrent siblings visible on r1, got %d", len(rt1.Values))
	}

	rt2, err := r2.Read("k")
	if err != nil {
		t.Fatalf("read r2: %v", err)
	}
	if len(rt2.Values) != 2 {
		t.Fatalf("expected two concurrent siblings visible on r2, got %d", len(rt2.Values))
	}
}

func TestUpdateAfterReadSucceedsAndResolvesSiblings(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)

	r1.Create("k", []byte("fromAA"))
	r2.Create("k", []byte("fromBB"))
	b.DeliverAll()

	rt, err := r1.Read("k")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rt.Values) != 2 {
		t.Fatalf("expected two siblings, got %d", len(rt.Values))
	}

	if _, err := r1.Update("k", []byte("resolved"), rt.DependentVersions); err != nil {
		t.Fatalf("update: %v", err)
	}
	rt2, err := r1.Read("k")
	if err != nil {
		t.Fatalf("read after update: %v", err)
	}
	if len(rt2.Values) != 1 || string(rt2.Values[0]) != "resolved" {
		t.Fatalf("expected single resolved value, got %v", rt2.Values)
	}
}

func TestUpdateWithStaleDependentVersionsFailsConcurrentUpdate(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)

	rt0, err := r1.Read("k")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, err := r1.Create("k", []byte("v1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// rt0's dependent_versions (empty) is now stale since a create
	// happened; attempting to update with it should fail.
	if _, err := r1.Update("k", []byte("v2"), rt0.DependentVersions); err == nil {
		t.Fatalf("expected ConcurrentUpdateError")
	} else if _, ok := err.(*ConcurrentUpdateError); !ok {
		t.Fatalf("expected *ConcurrentUpdateError, got %T: %v", err, err)
	}
}

func TestUpdateNoSuchKeyFails(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)

	if _, err := r1.Update("missing", []byte("v"), nil); err == nil {
		t.Fatalf("expected NoSuchKeyError")
	} else if _, ok := err.(*NoSuchKeyError); !ok {
		t.Fatalf("expected *NoSuchKeyError, got %T: %v", err, err)
	}
}

func TestDeleteThenRecreate(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)

	r1.Create("k", []byte("v1"))
	rt, err := r1.Read("k")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := r1.Delete("k", rt.DependentVersions); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rtAfterDelete, err := r1.Read("k")
	if err != nil {
		t.Fatalf("read after delete: %v", err)
	}
	if !rtAfterDelete.IsEmpty() {
		t.Fatalf("expected empty read after delete, got %v", rtAfterDelete.Values)
	}

	if _, err := r1.Create("k", []byte("v2")); err != nil {
		t.Fatalf("recreate after delete should succeed: %v", err)
	}
	rt2, err := r1.Read("k")
	if err != nil {
		t.Fatalf("read after recreate: %v", err)
	}
	if len(rt2.Values) != 1 || string(rt2.Values[0]) != "v2" {
		t.Fatalf("expected [v2], got %v", rt2.Values)
	}
}

func TestOutOfOrderUpdateDeliveryIsEventuallyConsistent(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)

	r1.Create("k", []byte("v1"))
	rt, _ := r1.Read("k")
	r1.Update("k", []byte("v2"), rt.DependentVersions)

	// Both the create's and the update's broadcast messages are now
	// pending for r2; reverse them to simulate out-of-order network
	// delivery, then deliver everything.
	b.Reorder("BB")
	b.DeliverAll()

	rt2, err := r2.Read("k")
	if err != nil {
		t.Fatalf("read on r2: %v", err)
	}
	if len(rt2.Values) != 1 || string(rt2.Values[0]) != "v2" {
		t.Fatalf("expected r2 to converge on [v2] despite reordering, got %v", rt2.Values)
	}
}

func TestSyncFillsInMissedUpdates(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)

	r1.Create("k", []byte("v1"))
	// Drop the broadcast instead of delivering it, simulating a message
	// r2 never received.
	b.DropAll()

	rt2, err := r2.Read("k")
	if err != nil {
		t.Fatalf("read on r2: %v", err)
	}
	if !rt2.IsEmpty() {
		t.Fatalf("expected r2 to not have the update yet, got %v", rt2.Values)
	}

	r2.RequestSync("AA")
	b.DeliverAll()

	rt2After, err := r2.Read("k")
	if err != nil {
		t.Fatalf("read on r2 after sync: %v", err)
	}
	if len(rt2After.Values) != 1 || string(rt2After.Values[0]) != "v1" {
		t.Fatalf("expected sync to fill in the missed update, got %v", rt2After.Values)
	}
}

func TestReadOnUnknownKeyIsEmpty(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	rt, err := r1.Read("nope")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !rt.IsEmpty() {
		t.Fatalf("expected empty read, got %v", rt.Values)
	}
}

func TestCreateDuplicateOnRemoteReplicaFails(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)

	if _, err := r1.Create("place", []byte("philadelphia")); err != nil {
		t.Fatalf("create: %v", err)
	}
	b.DeliverAll()

	if _, err := r2.Create("place", []byte("stockholm")); err == nil {
		t.Fatalf("expected DuplicateKeyError on the remote replica too")
	} else if _, ok := err.(*DuplicateKeyError); !ok {
		t.Fatalf("expected *DuplicateKeyError, got %T: %v", err, err)
	}
}

func TestUpdateWithFutureDependentVersionsFails(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)

	if _, err := r1.Create("key1", []byte("value1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	future := version.NewVersionVector()
	future.UpdateVersion("AA", 20)
	if _, err := r1.Update("key1", []byte("new"), future); err != ErrFutureDependency {
		t.Fatalf("expected ErrFutureDependency, got %v", err)
	}
}

func TestResolveConflictConvergesOnAllReplicas(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)
	r3 := newTestReplica(t, "CC", b)

	r1.Create("key1", []byte("value1"))
	b.DeliverAll()

	rt1, _ := r1.Read("key1")
	r1.Update("key1", []byte("new_value_1"), rt1.DependentVersions)
	rt2, _ := r2.Read("key1")
	r2.Update("key1", []byte("new_value_2"), rt2.DependentVersions)
	b.DeliverAll()

	for _, r := range []*Replica{r1, r2, r3} {
		rt, err := r.Read("key1")
		if err != nil {
			t.Fatalf("read on %s: %v", r.ID(), err)
		}
		if len(rt.Values) != 2 {
			t.Fatalf("expected both concurrent values on %s, got %v", r.ID(), rt.Values)
		}
	}

	// A read-then-update on one replica resolves the siblings for
	// everyone.
	rt1, _ = r1.Read("key1")
	if _, err := r1.Update("key1", []byte("new_value_3"), rt1.DependentVersions); err != nil {
		t.Fatalf("resolving update: %v", err)
	}
	b.DeliverAll()

	for _, r := range []*Replica{r1, r2, r3} {
		rt, _ := r.Read("key1")
		if len(rt.Values) != 1 || string(rt.Values[0]) != "new_value_3" {
			t.Fatalf("expected %s to converge on [new_value_3], got %v", r.ID(), rt.Values)
		}
	}
}

func TestDeleteIsVisibleOnAllReplicas(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)

	r1.Create("key1", []byte("value1"))
	b.DeliverAll()

	rt, _ := r1.Read("key1")
	if err := r1.Delete("key1", rt.DependentVersions); err != nil {
		t.Fatalf("delete: %v", err)
	}
	b.DeliverAll()

	for _, r := range []*Replica{r1, r2} {
		rt, err := r.Read("key1")
		if err != nil {
			t.Fatalf("read on %s: %v", r.ID(), err)
		}
		if !rt.IsEmpty() {
			t.Fatalf("expected deleted key to read empty on %s, got %v", r.ID(), rt.Values)
		}
	}
}

func TestDeliverOutOfOrderPerKey(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)
	r3 := newTestReplica(t, "CC", b)
	_ = r2

	r1.Create("key1.1", []byte("aaa"))
	r1.Create("key2.1", []byte("bbb"))
	b.Reorder("CC")

	// key2.1's create arrives first; its timestamp depends on AA:1
	// (key1.1's create), which CC does not know yet, so neither key may
	// become visible.
	b.DeliverOneTo("CC")
	for _, key := range []string{"key1.1", "key2.1"} {
		rt, _ := r3.Read(key)
		if !rt.IsEmpty() {
			t.Fatalf("key %q must stay invisible until its dependency arrives, got %v", key, rt.Values)
		}
	}

	// The gap fills: both keys become visible together.
	b.DeliverOneTo("CC")
	if rt, _ := r3.Read("key1.1"); len(rt.Values) != 1 || string(rt.Values[0]) != "aaa" {
		t.Fatalf("expected key1.1 = [aaa], got %v", rt.Values)
	}
	if rt, _ := r3.Read("key2.1"); len(rt.Values) != 1 || string(rt.Values[0]) != "bbb" {
		t.Fatalf("expected key2.1 = [bbb], got %v", rt.Values)
	}
}

func TestCausalPlusWithOneObject(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)
	r3 := newTestReplica(t, "CC", b)

	r1.Create("weather", []byte("rainy"))
	b.DeliverOneTo("BB")

	rt, _ := r2.Read("weather")
	if len(rt.Values) != 1 || string(rt.Values[0]) != "rainy" {
		t.Fatalf("expected BB to see [rainy], got %v", rt.Values)
	}
	if _, err := r2.Update("weather", []byte("winterymix"), rt.DependentVersions); err != nil {
		t.Fatalf("update on BB: %v", err)
	}

	// CC gets BB's update before AA's create. The update depends on the
	// create, so CC must never show the stale 'rainy'.
	b.Reorder("CC")
	b.DeliverOneTo("CC")
	if rt, _ := r3.Read("weather"); !rt.IsEmpty() {
		t.Fatalf("CC must not see anything before the causal dependency arrives, got %v", rt.Values)
	}

	b.DeliverOneTo("CC")
	if rt, _ := r3.Read("weather"); len(rt.Values) != 1 || string(rt.Values[0]) != "winterymix" {
		t.Fatalf("expected CC to see [winterymix] only, got %v", rt.Values)
	}
}

func TestCausalPlusWithTwoObjects(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)
	r3 := newTestReplica(t, "CC", b)

	r1.Create("weather", []byte("rainy"))
	b.DeliverOneTo("BB")

	if rt, _ := r2.Read("weather"); len(rt.Values) != 1 || string(rt.Values[0]) != "rainy" {
		t.Fatalf("expected BB to see [rainy], got %v", rt.Values)
	}
	// BB's create of 'equipment' is causally after it observed
	// 'weather'; CC must never see the effect without the cause, even
	// across distinct keys.
	if _, err := r2.Create("equipment", []byte("umbrella")); err != nil {
		t.Fatalf("create on BB: %v", err)
	}

	b.Reorder("CC")
	b.DeliverOneTo("CC")
	if rt, _ := r3.Read("weather"); !rt.IsEmpty() {
		t.Fatalf("CC must not see weather yet, got %v", rt.Values)
	}
	if rt, _ := r3.Read("equipment"); !rt.IsEmpty() {
		t.Fatalf("CC must not see equipment before weather, got %v", rt.Values)
	}

	b.DeliverOneTo("CC")
	if rt, _ := r3.Read("weather"); len(rt.Values) != 1 || string(rt.Values[0]) != "rainy" {
		t.Fatalf("expected CC to see weather=[rainy], got %v", rt.Values)
	}
	if rt, _ := r3.Read("equipment"); len(rt.Values) != 1 || string(rt.Values[0]) != "umbrella" {
		t.Fatalf("expected CC to see equipment=[umbrella], got %v", rt.Values)
	}
}

func TestSyncTransfersConflictSiblings(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)
	r3 := newTestReplica(t, "CC", b)

	r1.Create("location", []byte("london"))
	r2.Create("location", []byte("cambridge"))
	b.DeliverOneTo("AA")
	b.DeliverOneTo("BB")
	b.DropAll()

	r3.RequestSync("AA")
	b.DeliverAll()

	rt, err := r3.Read("location")
	if err != nil {
		t.Fatalf("read on CC: %v", err)
	}
	if len(rt.Values) != 2 {
		t.Fatalf("expected sync to carry both conflict siblings, got %v", rt.Values)
	}
}

func TestSyncWithVersionGaps(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r3 := newTestReplica(t, "CC", b)

	// Eleven local writes across three keys, so the surviving object
	// versions are separated by counters that no longer exist in any
	// ObjectRecord (they live on only in AA's knowledge).
	r1.Create("meal", []byte("chicken piccata"))
	r1.Create("time", []byte("19:00"))
	for i := 0; i < 4; i++ {
		rt, _ := r1.Read("time")
		r1.Update("time", []byte("19:00"), rt.DependentVersions)
	}
	r1.Create("place", []byte("ronaldos"))
	for i := 0; i < 4; i++ {
		rt, _ := r1.Read("place")
		r1.Update("place", []byte("ronaldos"), rt.DependentVersions)
	}
	b.DropAll()

	r3.RequestSync("AA")
	b.DeliverOneTo("AA") // the SyncRequest
	for i := 0; i < 4; i++ {
		b.DeliverOneTo("CC") // Setup plus the three Data messages
	}

	// The sync is incomplete (Complete is still queued): every Data
	// message carried an elided timestamp, replaced by the server's
	// visible vector AA:11, and CC's knowledge has gaps below AA:11, so
	// nothing may be visible yet.
	for _, key := range []string{"meal", "time", "place"} {
		rt, _ := r3.Read(key)
		if !rt.IsEmpty() {
			t.Fatalf("key %q must stay invisible mid-sync, got %v", key, rt.Values)
		}
	}

	b.DeliverAll()
	for key, want := range map[string]string{
		"meal":  "chicken piccata",
		"time":  "19:00",
		"place": "ronaldos",
	} {
		rt, _ := r3.Read(key)
		if len(rt.Values) != 1 || string(rt.Values[0]) != want {
			t.Fatalf("expected %q = [%s] after sync completes, got %v", key, want, rt.Values)
		}
	}
}

func TestSyncDataBeforeSetupIsDropped(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r3 := newTestReplica(t, "CC", b)

	r1.Create("k", []byte("v1"))
	b.DropAll()

	r3.RequestSync("AA")
	b.DeliverOneTo("AA")
	// Reverse CC's queue so Data and Complete arrive before Setup; the
	// round accomplishes nothing, but must not corrupt state or wedge
	// the requestor.
	b.Reorder("CC")
	b.DeliverAll()

	if rt, _ := r3.Read("k"); !rt.IsEmpty() {
		t.Fatalf("an out-of-order sync round must not make data visible, got %v", rt.Values)
	}

	// A fresh round repairs everything.
	r3.RequestSync("AA")
	b.DeliverAll()
	if rt, _ := r3.Read("k"); len(rt.Values) != 1 || string(rt.Values[0]) != "v1" {
		t.Fatalf("expected the retry round to sync [v1], got %v", rt.Values)
	}
}

func TestDuplicateUpdateDeliveryIsIdempotent(t *testing.T) {
	b := bus.NewManualLocalBus()
	r1 := newTestReplica(t, "AA", b)
	r2 := newTestReplica(t, "BB", b)

	r1.Create("k", []byte("v1"))
	b.DeliverAll()

	// Replay the same logical update a second time, as an at-least-once
	// bus is allowed to do.
	ts := version.NewVersionVector()
	ts.UpdateVersion("AA", 1)
	r2.DeliverMessage("AA", &bus.UpdateMessage{
		Key: "k",
		ObjVer: &record.ObjectVersion{
			Version:   version.Version{Replica: "AA", Counter: 1},
			Timestamp: ts,
			Value:     []byte("v1"),
		},
	})

	rt, err := r2.Read("k")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rt.Values) != 1 || string(rt.Values[0]) != "v1" {
		t.Fatalf("duplicate delivery must be a no-op, got %v", rt.Values)
	}
}
