package peerlist

import (
	"fmt"
	"testing"
	"time"

	"github.com/Menutra/Cache-Cash/infrastructure/db"
)

func newTestLists(t *testing.T) *Lists {
	t.Helper()
	lists, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return lists
}

func TestGrayPromotionAndDemotion(t *testing.T) {
	l := newTestLists(t)
	l.AddGray("10.0.0.1:39999", time.Now())
	if anchor, white, gray := l.Counts(); anchor != 0 || white != 0 || gray != 1 {
		t.Fatalf("counts after AddGray: %d/%d/%d", anchor, white, gray)
	}

	// A successful handshake promotes to white.
	l.MarkGood("10.0.0.1:39999", 0xabcd)
	if _, white, gray := l.Counts(); white != 1 || gray != 0 {
		t.Fatalf("counts after MarkGood: white %d, gray %d", white, gray)
	}

	// Repeated failures demote back to gray.
	for i := 0; i < maxFailCount; i++ {
		l.MarkFailure("10.0.0.1:39999")
	}
	if _, white, gray := l.Counts(); white != 0 || gray != 1 {
		t.Fatalf("counts after failures: white %d, gray %d", white, gray)
	}

	// More failures drop the gray entry entirely.
	for i := 0; i < maxFailCount; i++ {
		l.MarkFailure("10.0.0.1:39999")
	}
	if _, _, gray := l.Counts(); gray != 0 {
		t.Fatalf("gray count after drop: %d", gray)
	}
}

func TestGrayEvictionAtCapacity(t *testing.T) {
	l := newTestLists(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i <= GrayCapacity; i++ {
		address := fmt.Sprintf("10.%d.%d.%d:39999", i>>16, (i>>8)&0xff, i&0xff)
		l.AddGray(address, base.Add(time.Duration(i)*time.Second))
	}
	if _, _, gray := l.Counts(); gray != GrayCapacity {
		t.Fatalf("gray count %d, want the capacity %d", gray, GrayCapacity)
	}
	// The oldest entry is the one evicted.
	if record := l.find("10.0.0.0:39999"); record != nil {
		t.Fatal("oldest entry survived the eviction")
	}
}

func TestSelectOutboundPreference(t *testing.T) {
	l := newTestLists(t)
	l.AddGray("10.0.0.1:39999", time.Now())
	l.MarkGood("10.0.0.2:39999", 2)
	l.MarkAnchor("10.0.0.3:39999")

	// Anchors take absolute preference.
	record := l.SelectOutbound(nil)
	if record == nil || record.Address != "10.0.0.3:39999" {
		t.Fatalf("selected %+v, want the anchor", record)
	}

	// With the anchor excluded, the white entry wins over gray.
	record = l.SelectOutbound(map[string]bool{"10.0.0.3:39999": true})
	if record == nil || record.Address != "10.0.0.2:39999" {
		t.Fatalf("selected %+v, want the white entry", record)
	}

	// With everything excluded, nothing is offered.
	record = l.SelectOutbound(map[string]bool{
		"10.0.0.1:39999": true, "10.0.0.2:39999": true, "10.0.0.3:39999": true,
	})
	if record != nil {
		t.Fatalf("selected %+v from a fully excluded set", record)
	}
}

func TestBanExcludesAndExpires(t *testing.T) {
	l := newTestLists(t)
	l.MarkGood("10.0.0.9:39999", 9)
	l.Ban("10.0.0.9:39999", 50*time.Millisecond)

	if !l.IsBanned("10.0.0.9:39999") {
		t.Fatal("fresh ban not in effect")
	}
	if record := l.SelectOutbound(nil); record != nil {
		t.Fatalf("selected banned peer %+v", record)
	}
	// A banned address is not re-admitted through gossip.
	l.AddGray("10.0.0.9:39999", time.Now())
	if _, _, gray := l.Counts(); gray != 0 {
		t.Fatal("banned address re-entered the gray list")
	}

	time.Sleep(60 * time.Millisecond)
	if l.IsBanned("10.0.0.9:39999") {
		t.Fatal("ban did not expire")
	}
}

func TestPersistRoundTrip(t *testing.T) {
	storage, err := db.Open(t.TempDir() + "/peers")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer storage.Close()

	l, err := New(storage)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.AddGray("10.0.0.1:39999", time.Now())
	l.MarkGood("10.0.0.2:39999", 22)
	l.MarkAnchor("10.0.0.3:39999")
	if err := l.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reloaded, err := New(storage)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	anchor, white, gray := reloaded.Counts()
	if anchor != 1 || white != 1 || gray != 1 {
		t.Fatalf("reloaded counts %d/%d/%d, want 1/1/1", anchor, white, gray)
	}
	record := reloaded.find("10.0.0.2:39999")
	if record == nil || record.PeerID != 22 {
		t.Fatalf("white record lost its peer id: %+v", record)
	}
}
