package cache

import (
	"sync/atomic"
)

// Statistics tracks cache activity. Always enabled.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
	maxSize   atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Hit records a cache hit.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Set records a set operation.
func (s *Statistics) Set() { s.sets.Add(1) }

// Delete records a delete operation.
func (s *Statistics) Delete() { s.deletes.Add(1) }

// Eviction records an eviction.
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// UpdateSize records the current entry count.
func (s *Statistics) UpdateSize(size int64) {
	s.size.Store(size)
	for {
		cur := s.maxSize.Load()
		if size <= cur || s.maxSize.CompareAndSwap(cur, size) {
			return
		}
	}
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Hits        int64   `json:"hits" yaml:"hits"`
	Misses      int64   `json:"misses" yaml:"misses"`
	Sets        int64   `json:"sets" yaml:"sets"`
	Deletes     int64   `json:"deletes" yaml:"deletes"`
	Evictions   int64   `json:"evictions" yaml:"evictions"`
	CurrentSize int64   `json:"current_size" yaml:"current_size"`
	MaxSize     int64   `json:"max_size" yaml:"max_size"`
	HitRatio    float64 `json:"hit_ratio" yaml:"hit_ratio"`
}

// Summary returns a snapshot.
func (s *Statistics) Summary() StatsSummary {
	sum := StatsSummary{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Sets:        s.sets.Load(),
		Deletes:     s.deletes.Load(),
		Evictions:   s.evictions.Load(),
		CurrentSize: s.size.Load(),
		MaxSize:     s.maxSize.Load(),
	}
	if total := sum.Hits + sum.Misses; total > 0 {
		sum.HitRatio = float64(sum.Hits) / float64(total)
	}
	return sum
}
