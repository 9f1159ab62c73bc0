// Package manifest records what a board setup produced: regions, placed
// blobs with their digests, interrupt wiring and boot addresses. Manifests
// are written as YAML for people or canonical CBOR for firmware tooling.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ratona/internal/board"
	"github.com/tinyrange/ratona/internal/image"
	"github.com/tinyrange/ratona/internal/memmap"
)

// Version is the manifest schema version.
const Version = 1

// Format selects the manifest encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCBOR Format = "cbor"
)

// FormatForPath picks the encoding from a file extension. Anything that is
// not .cbor is YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return FormatCBOR
	}
	return FormatYAML
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create manifest CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create manifest CBOR decoder mode: %v", err))
	}
}

type Board struct {
	CPUs   int      `yaml:"cpus" cbor:"1,keyasint"`
	XLEN   int      `yaml:"xlen" cbor:"2,keyasint"`
	Memory uint64   `yaml:"memory" cbor:"3,keyasint"`
	ISA    []string `yaml:"isa,omitempty" cbor:"4,keyasint,omitempty"`
	// External is set when the device tree came from a file.
	External bool `yaml:"externalDTB,omitempty" cbor:"5,keyasint,omitempty"`
}

// Boot holds the addresses the reset vector hands to firmware.
type Boot struct {
	Reset       uint64   `yaml:"reset" cbor:"1,keyasint"`
	Entry       uint64   `yaml:"entry" cbor:"2,keyasint"`
	FDT         uint64   `yaml:"fdt" cbor:"3,keyasint"`
	KernelEntry uint64   `yaml:"kernelEntry" cbor:"4,keyasint"`
	FirmwareEnd uint64   `yaml:"firmwareEnd" cbor:"5,keyasint"`
	Vector      []uint32 `yaml:"vector,flow" cbor:"6,keyasint"`
}

type Region struct {
	Name string `yaml:"name" cbor:"1,keyasint"`
	Base uint64 `yaml:"base" cbor:"2,keyasint"`
	Size uint64 `yaml:"size" cbor:"3,keyasint"`
	Kind string `yaml:"kind" cbor:"4,keyasint"`
}

type Blob struct {
	Name   string `yaml:"name" cbor:"1,keyasint"`
	Addr   uint64 `yaml:"addr" cbor:"2,keyasint"`
	Size   uint64 `yaml:"size" cbor:"3,keyasint"`
	SHA256 string `yaml:"sha256" cbor:"4,keyasint"`
}

type Line struct {
	Controller string `yaml:"controller" cbor:"1,keyasint"`
	Line       uint32 `yaml:"line" cbor:"2,keyasint"`
	Device     string `yaml:"device" cbor:"3,keyasint"`
}

// Context is one PLIC interrupt target: a privilege mode on a hart.
type Context struct {
	Hart   int    `yaml:"hart" cbor:"1,keyasint"`
	Mode   string `yaml:"mode" cbor:"2,keyasint"`
	Enable uint64 `yaml:"enable" cbor:"3,keyasint"`
	Claim  uint64 `yaml:"claim" cbor:"4,keyasint"`
}

// Manifest is the record of one board setup.
type Manifest struct {
	Version  int              `yaml:"version" cbor:"1,keyasint"`
	Board    Board            `yaml:"board" cbor:"2,keyasint"`
	Boot     Boot             `yaml:"boot" cbor:"3,keyasint"`
	Firmware *board.Placement `yaml:"firmware,omitempty" cbor:"4,keyasint,omitempty"`
	Kernel   *board.Placement `yaml:"kernel,omitempty" cbor:"5,keyasint,omitempty"`
	Initrd   *board.Placement `yaml:"initrd,omitempty" cbor:"6,keyasint,omitempty"`
	PLIC     board.PLICConfig `yaml:"plic" cbor:"7,keyasint"`
	Regions  []Region         `yaml:"regions" cbor:"8,keyasint"`
	Blobs    []Blob           `yaml:"blobs" cbor:"9,keyasint"`
	Lines    []Line           `yaml:"lines" cbor:"10,keyasint"`
	Contexts []Context        `yaml:"contexts,omitempty" cbor:"11,keyasint,omitempty"`
}

// Source is anything that can report what was placed.
type Source interface {
	Snapshot() image.Snapshot
}

// FromPlan builds a manifest from a setup plan and the space it ran on.
func FromPlan(plan *board.Plan, src Source) *Manifest {
	snap := src.Snapshot()

	m := &Manifest{
		Version: Version,
		Board: Board{
			CPUs:     plan.CPUs,
			XLEN:     plan.XLEN,
			ISA:      plan.ISA,
			External: plan.Tree == nil,
		},
		Boot: Boot{
			Reset:       plan.ResetAddr,
			Entry:       plan.Entry,
			FDT:         plan.FDTAddr,
			KernelEntry: plan.KernelEntry,
			FirmwareEnd: plan.FirmwareEnd,
			Vector:      append([]uint32(nil), plan.Vector[:]...),
		},
		Firmware: plan.Firmware,
		Kernel:   plan.Kernel,
		Initrd:   plan.Initrd,
		PLIC:     plan.PLIC,
	}
	if plan.Memory != nil {
		for _, r := range plan.Memory.Regions() {
			if r.Name == memmap.DRAM {
				m.Board.Memory = r.Size
			}
		}
	}

	for _, r := range snap.Regions {
		m.Regions = append(m.Regions, Region{Name: r.Name, Base: r.Base, Size: r.Size, Kind: r.Kind.String()})
	}
	for _, b := range snap.Blobs {
		sum := sha256.Sum256(b.Data)
		m.Blobs = append(m.Blobs, Blob{
			Name:   b.Name,
			Addr:   b.Addr,
			Size:   uint64(len(b.Data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}
	for _, l := range snap.Lines {
		m.Lines = append(m.Lines, Line{Controller: l.Controller, Line: l.Line, Device: l.Device})
	}
	m.Contexts = plicContexts(plan.PLIC)
	return m
}

func plicContexts(p board.PLICConfig) []Context {
	n := p.Contexts()
	if n == 0 {
		return nil
	}
	out := make([]Context, 0, n)
	for hart, modes := range strings.Split(p.HartConfig, ",") {
		for _, mode := range modes {
			ctx := len(out)
			out = append(out, Context{
				Hart:   hart,
				Mode:   string(mode),
				Enable: p.EnableAddr(ctx),
				Claim:  p.ContextAddr(ctx),
			})
		}
	}
	return out
}

// Blob returns the entry for the named blob.
func (m *Manifest) Blob(name string) (Blob, bool) {
	for _, b := range m.Blobs {
		if b.Name == name {
			return b, true
		}
	}
	return Blob{}, false
}

// Write encodes m to w.
func Write(w io.Writer, m *Manifest, format Format) error {
	switch format {
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("close manifest: %w", err)
		}
		return nil
	case FormatCBOR:
		if err := encMode.NewEncoder(w).Encode(m); err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown manifest format %q", format)
	}
}

// Read decodes a manifest written by Write.
func Read(r io.Reader, format Format) (*Manifest, error) {
	var m Manifest
	switch format {
	case FormatYAML, "":
		if err := yaml.NewDecoder(r).Decode(&m); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
	case FormatCBOR:
		if err := decMode.NewDecoder(r).Decode(&m); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}
