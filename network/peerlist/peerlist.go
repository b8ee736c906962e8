package peerlist

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/infrastructure/db"
	"github.com/Menutra/Cache-Cash/network/appmessage"
)

// List capacities. Within each list the entry with the oldest last-seen time
// is evicted first.
const (
	WhiteCapacity  = 1000
	GrayCapacity   = 5000
	AnchorCapacity = 24
)

// maxFailCount is the number of consecutive connect failures after which a
// white entry is demoted to gray and a gray entry is dropped.
const maxFailCount = 5

// ListKind names the three peer lists.
type ListKind int

// The three peer lists, in outbound dialing preference order.
const (
	AnchorList ListKind = iota
	WhiteList
	GrayList
)

func (k ListKind) String() string {
	switch k {
	case AnchorList:
		return "anchor"
	case WhiteList:
		return "white"
	case GrayList:
		return "gray"
	default:
		return "unknown"
	}
}

// Record is one known peer.
type Record struct {
	Address            string
	PeerID             uint64
	LastSeen           time.Time
	LastConnectAttempt time.Time
	FailCount          uint32
}

// Lists maintains the white, gray and anchor peer lists plus a short-lived
// ban table. Gray entries are advertised but unverified; white entries were
// successfully contacted; anchors are long-lived peers preferred for re-dial
// across restarts.
type Lists struct {
	lock    sync.Mutex
	white   map[string]*Record
	gray    map[string]*Record
	anchor  map[string]*Record
	banned  map[string]time.Time
	storage *db.DB
}

// New returns peer lists, reloading persisted entries when storage is
// non-nil.
func New(storage *db.DB) (*Lists, error) {
	l := &Lists{
		white:   make(map[string]*Record),
		gray:    make(map[string]*Record),
		anchor:  make(map[string]*Record),
		banned:  make(map[string]time.Time),
		storage: storage,
	}
	if storage != nil {
		if err := l.load(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// AddGray records an advertised, unverified peer address.
func (l *Lists) AddGray(address string, lastSeen time.Time) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if _, banned := l.banned[address]; banned {
		return
	}
	if _, known := l.white[address]; known {
		return
	}
	if _, known := l.anchor[address]; known {
		return
	}
	if existing, known := l.gray[address]; known {
		if lastSeen.After(existing.LastSeen) {
			existing.LastSeen = lastSeen
		}
		return
	}
	l.gray[address] = &Record{Address: address, LastSeen: lastSeen}
	evictOldest(l.gray, GrayCapacity)
}

// MarkGood promotes an address to the white list after a successful
// handshake.
func (l *Lists) MarkGood(address string, peerID uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()

	_, isAnchor := l.anchor[address]
	record := l.take(address)
	if record == nil {
		record = &Record{Address: address}
	}
	record.PeerID = peerID
	record.LastSeen = time.Now()
	record.FailCount = 0
	if isAnchor {
		l.anchor[address] = record
		return
	}
	l.white[address] = record
	evictOldest(l.white, WhiteCapacity)
}

// MarkAnchor pins an address into the anchor list.
func (l *Lists) MarkAnchor(address string) {
	l.lock.Lock()
	defer l.lock.Unlock()

	record := l.take(address)
	if record == nil {
		record = &Record{Address: address, LastSeen: time.Now()}
	}
	l.anchor[address] = record
	evictOldest(l.anchor, AnchorCapacity)
}

// MarkAttempt records an outbound dial attempt.
func (l *Lists) MarkAttempt(address string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if record := l.find(address); record != nil {
		record.LastConnectAttempt = time.Now()
	}
}

// MarkFailure records a failed dial. Entries past the failure threshold are
// demoted (white to gray) or dropped (gray); anchors only accumulate the
// count.
func (l *Lists) MarkFailure(address string) {
	l.lock.Lock()
	defer l.lock.Unlock()

	record := l.find(address)
	if record == nil {
		return
	}
	record.FailCount++
	if record.FailCount < maxFailCount {
		return
	}
	if _, isAnchor := l.anchor[address]; isAnchor {
		return
	}
	if _, isWhite := l.white[address]; isWhite {
		delete(l.white, address)
		record.FailCount = 0
		l.gray[address] = record
		evictOldest(l.gray, GrayCapacity)
		log.Debugf("Demoted peer %s to the gray list", address)
		return
	}
	delete(l.gray, address)
	log.Debugf("Dropped unreachable gray peer %s", address)
}

// Ban blocks an address for the given cooldown and removes it from every
// list.
func (l *Lists) Ban(address string, cooldown time.Duration) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.take(address)
	l.banned[address] = time.Now().Add(cooldown)
	log.Infof("Banned peer %s for %s", address, cooldown)
}

// IsBanned returns whether the address is under an active ban.
func (l *Lists) IsBanned(address string) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	until, ok := l.banned[address]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(l.banned, address)
		return false
	}
	return true
}

// take removes and returns the record for address from whichever list holds
// it. Callers hold the lock.
func (l *Lists) take(address string) *Record {
	for _, list := range []map[string]*Record{l.anchor, l.white, l.gray} {
		if record, ok := list[address]; ok {
			delete(list, address)
			return record
		}
	}
	return nil
}

func (l *Lists) find(address string) *Record {
	for _, list := range []map[string]*Record{l.anchor, l.white, l.gray} {
		if record, ok := list[address]; ok {
			return record
		}
	}
	return nil
}

// evictOldest drops entries with the oldest last-seen times until the list
// fits its capacity.
func evictOldest(list map[string]*Record, capacity int) {
	for len(list) > capacity {
		var oldest *Record
		for _, record := range list {
			if oldest == nil || record.LastSeen.Before(oldest.LastSeen) {
				oldest = record
			}
		}
		delete(list, oldest.Address)
	}
}

// SelectOutbound picks a dial target, preferring anchor over white over
// gray. Within a list the choice is weighted toward recently seen entries
// with few failures. Addresses in exclude (already connected or dialing) and
// banned addresses are skipped.
func (l *Lists) SelectOutbound(exclude map[string]bool) *Record {
	l.lock.Lock()
	defer l.lock.Unlock()

	for _, list := range []map[string]*Record{l.anchor, l.white, l.gray} {
		if record := pickWeighted(list, exclude, l.banned); record != nil {
			return record
		}
	}
	return nil
}

func pickWeighted(list map[string]*Record, exclude map[string]bool, banned map[string]time.Time) *Record {
	now := time.Now()
	candidates := make([]*Record, 0, len(list))
	weights := make([]float64, 0, len(list))
	var totalWeight float64
	for _, record := range list {
		if exclude[record.Address] {
			continue
		}
		if until, isBanned := banned[record.Address]; isBanned && now.Before(until) {
			continue
		}
		// Recency decays over a day; every failure halves the weight.
		age := now.Sub(record.LastSeen)
		weight := 1.0 / (1.0 + age.Hours()/24)
		for i := uint32(0); i < record.FailCount; i++ {
			weight /= 2
		}
		candidates = append(candidates, record)
		weights = append(weights, weight)
		totalWeight += weight
	}
	if len(candidates) == 0 {
		return nil
	}
	target := rand.Float64() * totalWeight
	for i, candidate := range candidates {
		target -= weights[i]
		if target <= 0 {
			return candidate
		}
	}
	return candidates[len(candidates)-1]
}

// AddressesForExchange returns up to max white and anchor entries for the
// periodic peer list exchange.
func (l *Lists) AddressesForExchange(max int) []*appmessage.PeerAddress {
	l.lock.Lock()
	defer l.lock.Unlock()

	result := make([]*appmessage.PeerAddress, 0, max)
	for _, list := range []map[string]*Record{l.anchor, l.white} {
		for _, record := range list {
			if len(result) == max {
				return result
			}
			entry, err := appmessage.NewPeerAddress(record.Address,
				uint64(record.LastSeen.Unix()))
			if err != nil {
				continue
			}
			result = append(result, entry)
		}
	}
	return result
}

// Counts returns the sizes of the three lists.
func (l *Lists) Counts() (anchor, white, gray int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.anchor), len(l.white), len(l.gray)
}

// Database key layout for persisted peers.
var peerKeyPrefix = []byte("peer:")

func peerKey(kind ListKind, address string) []byte {
	key := make([]byte, 0, len(peerKeyPrefix)+1+len(address))
	key = append(key, peerKeyPrefix...)
	key = append(key, byte(kind))
	return append(key, address...)
}

func (r *Record) serialize() []byte {
	var buf bytes.Buffer
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], r.PeerID)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(r.LastSeen.Unix()))
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:4], r.FailCount)
	buf.Write(scratch[:4])
	return buf.Bytes()
}

func deserializeRecord(address string, raw []byte) (*Record, error) {
	if len(raw) != 8+8+4 {
		return nil, errors.Errorf("peer record of %d bytes", len(raw))
	}
	return &Record{
		Address:   address,
		PeerID:    binary.LittleEndian.Uint64(raw[0:8]),
		LastSeen:  time.Unix(int64(binary.LittleEndian.Uint64(raw[8:16])), 0),
		FailCount: binary.LittleEndian.Uint32(raw[16:20]),
	}, nil
}

// Persist writes all three lists to storage. Called on clean shutdown.
func (l *Lists) Persist() error {
	if l.storage == nil {
		return nil
	}
	l.lock.Lock()
	defer l.lock.Unlock()

	// Drop the previous snapshot so removed peers stay removed.
	batch := &db.Batch{}
	err := l.storage.ForEachPrefixed(peerKeyPrefix, func(key, _ []byte) error {
		batch.Delete(key)
		return nil
	})
	if err != nil {
		return err
	}
	for kind, list := range map[ListKind]map[string]*Record{
		AnchorList: l.anchor, WhiteList: l.white, GrayList: l.gray,
	} {
		for address, record := range list {
			batch.Put(peerKey(kind, address), record.serialize())
		}
	}
	return l.storage.Write(batch)
}

// load restores persisted lists.
func (l *Lists) load() error {
	return l.storage.ForEachPrefixed(peerKeyPrefix, func(key, value []byte) error {
		suffix := key[len(peerKeyPrefix):]
		if len(suffix) < 2 {
			return errors.Errorf("truncated peer key %x", key)
		}
		kind := ListKind(suffix[0])
		address := string(suffix[1:])
		record, err := deserializeRecord(address, value)
		if err != nil {
			return err
		}
		switch kind {
		case AnchorList:
			l.anchor[address] = record
		case WhiteList:
			l.white[address] = record
		case GrayList:
			l.gray[address] = record
		default:
			return errors.Errorf("unknown peer list kind %d", kind)
		}
		return nil
	})
}
