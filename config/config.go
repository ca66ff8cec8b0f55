// Package config holds the boot/image configuration that, on real
// hardware, would be baked in by the boot shim. Tests and the packer
// tool can instead load a TOML file to exercise non-default geometry.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// BootConfig describes disk geometry and the kernel's fixed-size
// regions. The zero value is invalid; use Default() or Load().
type BootConfig struct {
	BytesPerSector    int `toml:"bytes_per_sector"`
	SectorCount       int `toml:"sector_count"`
	CacheCapacity     int `toml:"cache_capacity"`
	KernelFramePool   int `toml:"kernel_frame_pool"`
	UserStackSize     int `toml:"user_stack_size"`
	UserHeapSize      int `toml:"user_heap_size"`
}

// Default returns this kernel's baseline geometry: 8192 sectors of
// 512 bytes, a 16-entry block cache, and conservative per-process
// region sizes.
func Default() BootConfig {
	return BootConfig{
		BytesPerSector:  512,
		SectorCount:     8192,
		CacheCapacity:   16,
		KernelFramePool: 1 << 14, // 64MB of 4096-byte frames
		UserStackSize:   8 * 4096,
		UserHeapSize:    64 * 4096,
	}
}

// Load reads a BootConfig from a TOML file, filling unset fields from
// Default().
func Load(path string) (BootConfig, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
