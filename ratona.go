// Package ratona synthesizes the boot state of the Ratona RISC-V FPGA board:
// its device tree, the mask ROM reset vector and the firmware handoff block,
// together with firmware, kernel and initrd placement in DRAM.
package ratona

import (
	"io"

	"github.com/tinyrange/ratona/internal/board"
	"github.com/tinyrange/ratona/internal/image"
	"github.com/tinyrange/ratona/internal/manifest"
	"github.com/tinyrange/ratona/internal/memmap"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal packages
// -----------------------------------------------------------------------------

// Config describes a board instance.
type Config = board.Config

// Size is a byte count that accepts unit suffixes such as "512M".
type Size = board.Size

// Plan reports every address the boot depends on.
type Plan = board.Plan

// Placement records where an image was put.
type Placement = board.Placement

// Option configures Synthesize.
type Option = board.Option

// Error represents a ratona operation error with structured information.
type Error = board.Error

// Manifest is the record of one synthesized board.
type Manifest = manifest.Manifest

// ManifestFormat selects the manifest encoding.
type ManifestFormat = manifest.Format

const (
	ManifestYAML = manifest.FormatYAML
	ManifestCBOR = manifest.FormatCBOR

	FirmwareNone = board.FirmwareNone
)

// ErrConfiguration is wrapped by every error caused by invalid input.
var ErrConfiguration = board.ErrConfiguration

// WithLogger sets the logger placements are reported to.
var WithLogger = board.WithLogger

// DefaultConfig returns a single RV64 hart with 256 MiB of DRAM.
func DefaultConfig() Config { return board.DefaultConfig() }

// LoadConfig reads a YAML board configuration over DefaultConfig.
func LoadConfig(path string) (Config, error) { return board.LoadConfig(path) }

// ParseSize parses a byte count such as "512M".
func ParseSize(s string) (Size, error) { return board.ParseSize(s) }

// DefaultISA returns the ISA string harts of the given width report.
func DefaultISA(xlen int) string { return board.DefaultISA(xlen) }

// Result is a synthesized board.
type Result struct {
	Plan *Plan
	// ROM is the full mask ROM image, reset vector first.
	ROM []byte
	// DTB is the flattened device tree placed in DRAM.
	DTB      []byte
	Manifest *Manifest
}

// Synthesize assembles a board in memory and returns its boot artifacts.
// cfg is used as given; start from DefaultConfig for the stock board.
func Synthesize(cfg Config, opts ...Option) (*Result, error) {
	space := image.NewSpace(DefaultISA(cfg.XLEN))

	plan, err := board.Setup(space, cfg, opts...)
	if err != nil {
		return nil, err
	}
	space.Seal()

	rom, err := space.Contents(memmap.MROM)
	if err != nil {
		return nil, &Error{Op: "read mask rom", Err: err}
	}

	return &Result{
		Plan:     plan,
		ROM:      rom,
		DTB:      plan.DTB,
		Manifest: manifest.FromPlan(plan, space),
	}, nil
}

// WriteManifest encodes a manifest.
func WriteManifest(w io.Writer, m *Manifest, format ManifestFormat) error {
	return manifest.Write(w, m, format)
}

// ManifestFormatForPath picks the manifest encoding from a file extension.
func ManifestFormatForPath(path string) ManifestFormat { return manifest.FormatForPath(path) }
