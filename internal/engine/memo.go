package engine

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Memo caches ItemAnalysis results keyed by a hash of their inputs.
// It is owned by the caller: nothing in the engine creates, refreshes or
// expires one on its own. A nil *Memo is valid and never caches.
type Memo struct {
	mu      sync.Mutex
	max     int
	entries map[uint64]ItemAnalysis
	hits    uint64
	misses  uint64
}

// NewMemo returns a memo holding at most maxEntries results (0 = 4096).
// When full, it is cleared before the next insert.
func NewMemo(maxEntries int) *Memo {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Memo{max: maxEntries, entries: make(map[uint64]ItemAnalysis)}
}

// Analyze returns the cached analysis for identical inputs or computes it.
func (m *Memo) Analyze(in ItemInput, predictPeriods int) ItemAnalysis {
	if m == nil {
		return AnalyzeItem(in, predictPeriods)
	}
	key := InputKey(in, predictPeriods)

	m.mu.Lock()
	if a, ok := m.entries[key]; ok {
		m.hits++
		m.mu.Unlock()
		return a
	}
	m.misses++
	m.mu.Unlock()

	a := AnalyzeItem(in, predictPeriods)

	m.mu.Lock()
	if len(m.entries) >= m.max {
		clear(m.entries)
	}
	m.entries[key] = a
	m.mu.Unlock()
	return a
}

// Len returns the number of cached results.
func (m *Memo) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stats returns cumulative hit and miss counts.
func (m *Memo) Stats() (hits, misses uint64) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

// Reset drops every cached result.
func (m *Memo) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()
}

// InputKey hashes every field AnalyzeItem reads.
func InputKey(in ItemInput, predictPeriods int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	putInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		d.Write(buf[:])
	}
	putFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		d.Write(buf[:])
	}

	putInt(int64(in.TypeID))
	putInt(int64(predictPeriods))
	putInt(int64(len(in.History)))
	for _, h := range in.History {
		d.WriteString(h.Date)
		putFloat(h.Average)
		putFloat(h.Highest)
		putFloat(h.Lowest)
		putInt(h.Volume)
		putInt(h.OrderCount)
	}

	b := in.Book
	putInt(int64(b.BuyOrders))
	putInt(int64(b.SellOrders))
	putFloat(b.BestBuyPrice)
	putFloat(b.BestSellPrice)
	putInt(b.TotalBuyVolume)
	putInt(b.TotalSellVolume)
	putFloat(b.Spread)
	d.WriteString(string(b.CompetitionLevel))
	return d.Sum64()
}
