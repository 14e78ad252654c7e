// Package arch holds the architecture configuration of the simulated accelerator.
//
// A Config is built once before any kernel runs and then passed by pointer to
// the arena, every kernel and the system. Nothing mutates it afterwards.
package arch

import (
	"encoding/json"
	"math/bits"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/sarchlab/akita/v4/mem/mem"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// Kernel family names used as keys of the enable matrix
const (
	FamilyVectorChain = "vector_chain"
	FamilyMemCpy      = "memcpy"
	FamilyTranspose   = "transpose"
	FamilyNTT         = "ntt"
	FamilyMerkleTree  = "merkle_tree"
	FamilyHashNoPad   = "hash_nopad"
)

// Families lists every kernel family the simulator knows about
var Families = []string{
	FamilyVectorChain,
	FamilyMemCpy,
	FamilyTranspose,
	FamilyNTT,
	FamilyMerkleTree,
	FamilyHashNoPad,
}

// Config represents the architecture of the simulated proof accelerator
type Config struct {
	// Bytes per field element
	ElementBytes uint64 `json:"element_bytes"`

	// Size of the simulated address space managed by the arena
	ArenaBytes uint64 `json:"arena_bytes"`

	// Allocation granularity of the arena (power of 2)
	Alignment uint64 `json:"alignment"`

	// Size of one on-chip buffer. The chip double-buffers, so a working
	// window holds two of these.
	BufferBytes uint64 `json:"buffer_bytes"`

	// Compute fabric: tiles of ArrayLength lanes each
	NumTiles    uint64 `json:"num_tiles"`
	ArrayLength uint64 `json:"array_length"`

	// Longest vector a single operation descriptor may carry, in elements
	MaxVectorLength uint64 `json:"max_vector_length"`

	// Elements of the on-chip window reserved for preloaded data
	ReservedPreloadElems uint64 `json:"reserved_preload_elems"`

	// Bytes per memory request line
	LineBytes uint64 `json:"line_bytes"`

	// Accelerator clock, used to convert cycles to seconds in reports
	ClockHz sim.Freq `json:"clock_hz"`

	// Digest over the emitted trace: "sha256", "sha3" or "tip5"
	DigestHash string `json:"digest_hash"`

	// Per-family enable matrix. Families absent from the map are enabled.
	Kernels map[string]bool `json:"kernels,omitempty"`
}

// DefaultElementBytes returns the byte width of a Goldilocks field element
func DefaultElementBytes() uint64 {
	return uint64((bits.Len64(field.P) + 7) / 8)
}

// DefaultConfig returns the reference accelerator configuration
func DefaultConfig() *Config {
	return &Config{
		ElementBytes:         DefaultElementBytes(),
		ArenaBytes:           16 * mem.GB,
		Alignment:            64,
		BufferBytes:          4 * mem.MB,
		NumTiles:             4,
		ArrayLength:          16,
		MaxVectorLength:      4096,
		ReservedPreloadElems: 0,
		LineBytes:            64,
		ClockHz:              1 * sim.GHz,
		DigestHash:           "sha3",
		Kernels:              make(map[string]bool),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ElementBytes == 0 {
		return errors.New("element size must be positive")
	}

	if c.ArenaBytes == 0 {
		return errors.New("arena size must be positive")
	}

	if !utils.IsPowerOfTwo(c.Alignment) {
		return errors.Newf("alignment must be a power of 2, got %d", c.Alignment)
	}

	if c.BufferBytes < c.ElementBytes {
		return errors.Newf("buffer size (%d) must hold at least one element (%d bytes)",
			c.BufferBytes, c.ElementBytes)
	}

	if c.NumTiles == 0 || c.ArrayLength == 0 {
		return errors.Newf("tile count (%d) and array length (%d) must be positive",
			c.NumTiles, c.ArrayLength)
	}

	if c.MaxVectorLength == 0 {
		return errors.New("max vector length must be positive")
	}

	if 2*c.BufferElems() <= c.ReservedPreloadElems {
		return errors.Newf("reserved preload elements (%d) leave no room in a %d-element window",
			c.ReservedPreloadElems, 2*c.BufferElems())
	}

	// One operation touches up to three full-length operands and must fit a window.
	if 3*c.MaxVectorLength > c.WindowElems() {
		return errors.Newf("max vector length %d does not fit a %d-element window",
			c.MaxVectorLength, c.WindowElems())
	}

	if c.LineBytes == 0 {
		return errors.New("line size must be positive")
	}

	if c.ClockHz <= 0 {
		return errors.New("clock frequency must be positive")
	}

	switch c.DigestHash {
	case "sha256", "sha3", "tip5":
	default:
		return errors.Newf("digest hash must be 'sha256', 'sha3' or 'tip5', got '%s'", c.DigestHash)
	}

	for name := range c.Kernels {
		if !knownFamily(name) {
			return errors.Newf("unknown kernel family %q in enable matrix", name)
		}
	}

	return nil
}

// BufferElems returns the number of elements one on-chip buffer holds
func (c *Config) BufferElems() uint64 {
	return c.BufferBytes / c.ElementBytes
}

// WindowElems returns the resident-element bound of a VectorChain window
func (c *Config) WindowElems() uint64 {
	return 2*c.BufferElems() - c.ReservedPreloadElems
}

// Lanes returns the total number of vector lanes
func (c *Config) Lanes() uint64 {
	return c.NumTiles * c.ArrayLength
}

// Parallelism returns the request divisor used by the timing model
func (c *Config) Parallelism(systolic bool) uint64 {
	if systolic {
		return c.NumTiles
	}
	return c.NumTiles * c.ArrayLength
}

// Enabled reports whether a kernel family is enabled
func (c *Config) Enabled(family string) bool {
	if c.Kernels == nil {
		return true
	}
	enabled, ok := c.Kernels[family]
	return !ok || enabled
}

// WithBufferBytes sets the on-chip buffer size
func (c *Config) WithBufferBytes(n uint64) *Config {
	c.BufferBytes = n
	return c
}

// WithArenaBytes sets the arena size
func (c *Config) WithArenaBytes(n uint64) *Config {
	c.ArenaBytes = n
	return c
}

// WithAlignment sets the arena alignment
func (c *Config) WithAlignment(n uint64) *Config {
	c.Alignment = n
	return c
}

// WithTiles sets the tile count and the array length of each tile
func (c *Config) WithTiles(numTiles, arrayLength uint64) *Config {
	c.NumTiles = numTiles
	c.ArrayLength = arrayLength
	return c
}

// WithMaxVectorLength sets the maximum vector length
func (c *Config) WithMaxVectorLength(n uint64) *Config {
	c.MaxVectorLength = n
	return c
}

// WithReservedPreloadElems sets the window share reserved for preloaded data
func (c *Config) WithReservedPreloadElems(n uint64) *Config {
	c.ReservedPreloadElems = n
	return c
}

// WithDigestHash sets the trace digest function
func (c *Config) WithDigestHash(name string) *Config {
	c.DigestHash = name
	return c
}

// WithKernel enables or disables a kernel family
func (c *Config) WithKernel(family string, enabled bool) *Config {
	if c.Kernels == nil {
		c.Kernels = make(map[string]bool)
	}
	c.Kernels[family] = enabled
	return c
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	clone.Kernels = make(map[string]bool, len(c.Kernels))
	for k, v := range c.Kernels {
		clone.Kernels[k] = v
	}
	return &clone
}

// ParseConfig decodes a JSON configuration on top of DefaultConfig and validates it
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if len(data) == 0 {
		return config, nil
	}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse architecture config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid architecture config")
	}
	return config, nil
}

// LoadConfig reads a JSON configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read architecture config %s", path)
	}
	return ParseConfig(data)
}

func knownFamily(name string) bool {
	for _, family := range Families {
		if family == name {
			return true
		}
	}
	return false
}
