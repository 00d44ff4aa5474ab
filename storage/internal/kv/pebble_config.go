package kv

import (
	"time"
)

// PebbleConfig holds configuration options for the Pebble KV store
type PebbleConfig struct {
	Path                  string
	CacheSize             int64
	MemTableSize          int
	MaxOpenFiles          int
	CompactionConcurrency int
	FlushInterval         time.Duration
	BlockSize             int
	L0CompactionThreshold int
	L0StopWritesThreshold int
	LBaseMaxBytes         int64
	CompressionEnabled    bool
	EnableBloomFilter     bool
	BloomFilterBitsPerKey int
	TargetFileSize        int64
	MaxManifestFileSize   int64
}

// DefaultPebbleConfig creates a default configuration suited to a broker
// workload: many small values, frequent batch commits, modest read fan-out.
func DefaultPebbleConfig(path string) *PebbleConfig {
	return &PebbleConfig{
		Path:                  path,
		CacheSize:             128 * 1024 * 1024,
		MemTableSize:          32 * 1024 * 1024,
		MaxOpenFiles:          2000,
		CompactionConcurrency: 4,
		FlushInterval:         500 * time.Millisecond,
		BlockSize:             16 << 10,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 12,
		LBaseMaxBytes:         64 << 20,
		CompressionEnabled:    true,
		EnableBloomFilter:     true,
		BloomFilterBitsPerKey: 10,
		TargetFileSize:        8 << 20,
		MaxManifestFileSize:   64 << 20,
	}
}

// TestPebbleConfig creates a configuration with small memory footprint and
// fast flushing for tests.
func TestPebbleConfig(path string) *PebbleConfig {
	return &PebbleConfig{
		Path:                  path,
		CacheSize:             8 * 1024 * 1024,
		MemTableSize:          2 * 1024 * 1024,
		MaxOpenFiles:          500,
		CompactionConcurrency: 2,
		FlushInterval:         100 * time.Millisecond,
		BlockSize:             4 << 10,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 10,
		LBaseMaxBytes:         16 << 20,
		CompressionEnabled:    false,
		EnableBloomFilter:     true,
		BloomFilterBitsPerKey: 5,
		TargetFileSize:        4 << 20,
		MaxManifestFileSize:   16 << 20,
	}
}
