package board

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ratona/internal/devtree"
)

const (
	DefaultCPUs   = 1
	DefaultXLEN   = 64
	DefaultMemory = 256 << 20

	// FirmwareNone disables firmware loading.
	FirmwareNone = "none"
)

// DefaultISA returns the ISA string used for harts of the given width.
func DefaultISA(xlen int) string {
	if xlen == 32 {
		return "rv32imafdc_zicsr_zifencei"
	}
	return "rv64imafdc_zicsr_zifencei"
}

// Size is a byte count that accepts unit suffixes such as "512M" or
// "1GiB" in YAML.
type Size uint64

// ParseSize parses a non-zero byte count such as "4096", "512M" or "1GiB".
// Suffixes are binary multiples.
func ParseSize(s string) (Size, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: size %q must be non-zero", ErrConfiguration, s)
	}
	return Size(n), nil
}

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: memory must be a scalar", value.Line)
	}
	n, err := ParseSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = n
	return nil
}

func (s Size) MarshalYAML() (any, error) {
	if s != 0 && s%(1<<20) == 0 {
		str := units.BytesSize(float64(s))
		if back, err := ParseSize(str); err == nil && back == s {
			return str, nil
		}
	}
	return uint64(s), nil
}

// Config describes one board instance.
type Config struct {
	CPUs   int      `yaml:"cpus,omitempty"`
	XLEN   int      `yaml:"xlen,omitempty"`
	Memory Size     `yaml:"memory,omitempty"`
	ISA    []string `yaml:"isa,omitempty"`

	// DTB is a pre-built device tree used instead of the generated one.
	DTB string `yaml:"dtb,omitempty"`

	Firmware string   `yaml:"firmware,omitempty"`
	Kernel   string   `yaml:"kernel,omitempty"`
	Initrd   string   `yaml:"initrd,omitempty"`
	Cmdline  string   `yaml:"cmdline,omitempty"`
	DataDirs []string `yaml:"dataDirs,omitempty"`
}

// DefaultConfig returns a single RV64 hart with 256 MiB of DRAM and the
// default firmware. Fields are not defaulted later, so a zero cpu count or
// memory size set on top of it is rejected by Validate.
func DefaultConfig() Config {
	return Config{
		CPUs:   DefaultCPUs,
		XLEN:   DefaultXLEN,
		Memory: DefaultMemory,
	}
}

// Is32Bit reports whether the harts are RV32.
func (c Config) Is32Bit() bool { return c.XLEN == 32 }

// Validate reports the first configuration error.
func (c Config) Validate() error {
	if c.CPUs < 1 {
		return fmt.Errorf("%w: cpus must be at least 1, got %d", ErrConfiguration, c.CPUs)
	}
	if c.CPUs > devtree.MaxCPUs {
		return fmt.Errorf("%w: cpus must be at most %d, got %d", ErrConfiguration, devtree.MaxCPUs, c.CPUs)
	}
	if c.XLEN != 32 && c.XLEN != 64 {
		return fmt.Errorf("%w: xlen must be 32 or 64, got %d", ErrConfiguration, c.XLEN)
	}
	if c.Memory == 0 {
		return fmt.Errorf("%w: memory size must be non-zero", ErrConfiguration)
	}
	if len(c.ISA) != 0 && len(c.ISA) != c.CPUs {
		return fmt.Errorf("%w: %d isa strings for %d cpus", ErrConfiguration, len(c.ISA), c.CPUs)
	}
	for i, isa := range c.ISA {
		if !strings.HasPrefix(isa, fmt.Sprintf("rv%d", c.XLEN)) {
			return fmt.Errorf("%w: isa %q of hart %d does not match xlen %d", ErrConfiguration, isa, i, c.XLEN)
		}
	}
	if c.DTB != "" && len(c.ISA) != 0 {
		return fmt.Errorf("%w: isa strings cannot be combined with an external dtb", ErrConfiguration)
	}
	if c.Initrd != "" && c.Kernel == "" {
		return fmt.Errorf("%w: initrd requires a kernel", ErrConfiguration)
	}
	return nil
}

// LoadConfig reads a YAML board configuration. Keys the file leaves out
// keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if errors.Is(err, ErrConfiguration) {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		return Config{}, fmt.Errorf("%w: parse %s: %w", ErrConfiguration, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &Error{Op: "load config", Path: path, Err: err}
	}
	return cfg, nil
}
