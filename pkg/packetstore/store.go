// Package packetstore is the capture server's on-disk packet log. Packets
// expire after a retention period and are read back newest first.
package packetstore

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	packetPrefix = []byte("p/")
	httpPrefix   = []byte("h/")
	systemKey    = []byte("s/system_info")
)

// Packet is one captured IPv4 packet. The JSON layout is what the viewer's
// poller consumes.
type Packet struct {
	ID           string  `json:"_id"`
	Timestamp    float64 `json:"timestamp"`
	SrcIP        string  `json:"src_ip"`
	DstIP        string  `json:"dst_ip"`
	Protocol     int     `json:"protocol"`
	ProtocolName string  `json:"protocol_name,omitempty"`
	Length       int     `json:"length"`
	RawData      string  `json:"raw_data,omitempty"`
	SrcPort      int     `json:"src_port,omitempty"`
	DstPort      int     `json:"dst_port,omitempty"`
}

// HTTPPacket is a TCP payload that carried an HTTP request method.
type HTTPPacket struct {
	ID        string  `json:"_id"`
	Timestamp float64 `json:"timestamp"`
	SrcIP     string  `json:"src_ip"`
	DstIP     string  `json:"dst_ip"`
	SrcPort   int     `json:"src_port"`
	DstPort   int     `json:"dst_port"`
	Method    string  `json:"method"`
	Payload   string  `json:"payload"`
}

type SystemInfo struct {
	Hostname   string `json:"hostname"`
	InternalIP string `json:"internal_ip"`
}

// ProtocolCount is the number of stored packets per protocol name.
type ProtocolCount struct {
	Name  string `json:"_id"`
	Count int    `json:"count"`
}

type SourceCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

type Store struct {
	db        *badger.DB
	retention time.Duration
	seq       atomic.Uint64
}

// Open opens the log at path. An empty path keeps everything in memory.
// A retention of zero keeps packets forever.
func Open(path string, retention time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	// Decrease logging verbosity
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open packet store: %w", err)
	}
	return &Store{db: db, retention: retention}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// key orders entries by timestamp; the sequence number keeps keys unique
// for packets captured in the same nanosecond.
func (s *Store) key(prefix []byte, ts float64) []byte {
	k := make([]byte, len(prefix)+16)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(math.Max(ts, 0)*1e9))
	binary.BigEndian.PutUint64(k[len(prefix)+8:], s.seq.Add(1))
	return k
}

func (s *Store) put(key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, val)
		if s.retention > 0 {
			e = e.WithTTL(s.retention)
		}
		return txn.SetEntry(e)
	})
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Append stores p, filling in its ID and, when unset, its timestamp.
func (s *Store) Append(p *Packet) error {
	if p.Timestamp == 0 {
		p.Timestamp = now()
	}
	key := s.key(packetPrefix, p.Timestamp)
	p.ID = hex.EncodeToString(key[len(packetPrefix):])
	return s.put(key, p)
}

func (s *Store) AppendHTTP(h *HTTPPacket) error {
	if h.Timestamp == 0 {
		h.Timestamp = now()
	}
	key := s.key(httpPrefix, h.Timestamp)
	h.ID = hex.EncodeToString(key[len(httpPrefix):])
	return s.put(key, h)
}

// scan calls fn with every live value under prefix, newest first when
// reverse is set, until fn returns false.
func (s *Store) scan(prefix []byte, reverse bool, fn func(v []byte) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = reverse
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if reverse {
			seek = append(bytes.Clone(prefix), bytes.Repeat([]byte{0xFF}, 17)...)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var more bool
			err := it.Item().Value(func(v []byte) error {
				var err error
				more, err = fn(v)
				return err
			})
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

// Latest returns up to n packets, newest first.
func (s *Store) Latest(n int) ([]Packet, error) {
	out := make([]Packet, 0, n)
	if n <= 0 {
		return out, nil
	}
	err := s.scan(packetPrefix, true, func(v []byte) (bool, error) {
		var p Packet
		if err := json.Unmarshal(v, &p); err != nil {
			return false, err
		}
		out = append(out, p)
		return len(out) < n, nil
	})
	return out, err
}

func (s *Store) LatestHTTP(n int) ([]HTTPPacket, error) {
	out := make([]HTTPPacket, 0, n)
	if n <= 0 {
		return out, nil
	}
	err := s.scan(httpPrefix, true, func(v []byte) (bool, error) {
		var h HTTPPacket
		if err := json.Unmarshal(v, &h); err != nil {
			return false, err
		}
		out = append(out, h)
		return len(out) < n, nil
	})
	return out, err
}

// aggregate counts stored packets by the key fn picks out of each.
func (s *Store) aggregate(fn func(p *Packet) string) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.scan(packetPrefix, false, func(v []byte) (bool, error) {
		var p Packet
		if err := json.Unmarshal(v, &p); err != nil {
			return false, err
		}
		counts[fn(&p)]++
		return true, nil
	})
	return counts, err
}

// ProtocolCounts returns the packet count per protocol name, largest first.
func (s *Store) ProtocolCounts() ([]ProtocolCount, error) {
	counts, err := s.aggregate(func(p *Packet) string { return p.ProtocolName })
	if err != nil {
		return nil, err
	}
	out := make([]ProtocolCount, 0, len(counts))
	for name, c := range counts {
		out = append(out, ProtocolCount{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// TopSources returns the n source addresses with the most packets.
func (s *Store) TopSources(n int) ([]SourceCount, error) {
	counts, err := s.aggregate(func(p *Packet) string { return p.SrcIP })
	if err != nil {
		return nil, err
	}
	out := make([]SourceCount, 0, len(counts))
	for ip, c := range counts {
		out = append(out, SourceCount{IP: ip, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IP < out[j].IP
	})
	if len(out) > n {
		out = out[:max(n, 0)]
	}
	return out, nil
}

// SetSystemInfo replaces the stored host description. It does not expire.
func (s *Store) SetSystemInfo(info SystemInfo) error {
	val, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(systemKey, val)
	})
}

func (s *Store) SystemInfo() (SystemInfo, bool, error) {
	var info SystemInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(systemKey)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &info)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return SystemInfo{}, false, nil
	}
	return info, err == nil, err
}

// RunGC reclaims value log space left by expired packets until done is
// closed.
func (s *Store) RunGC(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
			log.Printf("[STORE] Value log GC pass complete")
		}
	}
}
