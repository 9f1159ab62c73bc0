package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	ratona "github.com/tinyrange/ratona"
)

type outputs struct {
	dtb      string
	rom      string
	manifest string
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("ratona", flag.ContinueOnError)

	defaults := ratona.DefaultConfig()
	configPath := fs.String("config", "", "YAML board configuration")
	cpus := fs.Int("cpus", defaults.CPUs, "number of harts")
	xlen := fs.Int("xlen", defaults.XLEN, "hart width, 32 or 64")
	memory := fs.String("memory", "256M", "DRAM size, e.g. 512M or 1GiB")
	dtb := fs.String("dtb", "", "use a pre-built device tree instead of generating one")
	firmware := fs.String("firmware", "", "firmware image, \"none\", or empty for the default OpenSBI build")
	kernel := fs.String("kernel", "", "kernel image (ELF, gzip or flat)")
	initrd := fs.String("initrd", "", "initial ramdisk")
	cmdline := fs.String("append", "", "kernel command line")
	var dataDirs stringList
	fs.Var(&dataDirs, "L", "directory to search for firmware (repeatable)")

	var out outputs
	fs.StringVar(&out.dtb, "out-dtb", "", "write the device tree blob to this file (- for stdout)")
	fs.StringVar(&out.rom, "out-rom", "", "write the mask ROM image to this file (- for stdout)")
	fs.StringVar(&out.manifest, "manifest", "", "write a manifest (.yaml or .cbor, - for YAML on stdout)")
	verbose := fs.Bool("v", false, "log every placement")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `ratona - synthesize the Ratona board's boot ROM and device tree

USAGE:
  ratona [flags]

FLAGS:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := defaults
	if *configPath != "" {
		var err error
		cfg, err = ratona.LoadConfig(*configPath)
		if err != nil {
			return err
		}
	}

	// Flags set on the command line override the configuration file.
	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cpus":
			cfg.CPUs = *cpus
		case "xlen":
			cfg.XLEN = *xlen
		case "memory":
			size, err := ratona.ParseSize(*memory)
			if err != nil {
				flagErr = fmt.Errorf("-memory: %w", err)
				return
			}
			cfg.Memory = size
		case "dtb":
			cfg.DTB = *dtb
		case "firmware":
			cfg.Firmware = *firmware
		case "kernel":
			cfg.Kernel = *kernel
		case "initrd":
			cfg.Initrd = *initrd
		case "append":
			cfg.Cmdline = *cmdline
		case "L":
			cfg.DataDirs = append(cfg.DataDirs, dataDirs...)
		}
	})
	if flagErr != nil {
		return flagErr
	}

	res, err := ratona.Synthesize(cfg, ratona.WithLogger(logger))
	if err != nil {
		return err
	}

	if err := writeOutput(out.rom, res.ROM, stdout, true); err != nil {
		return fmt.Errorf("write rom: %w", err)
	}
	if err := writeOutput(out.dtb, res.DTB, stdout, true); err != nil {
		return fmt.Errorf("write dtb: %w", err)
	}
	if out.manifest != "" {
		format := ratona.ManifestFormatForPath(out.manifest)
		var buf bytes.Buffer
		if err := ratona.WriteManifest(&buf, res.Manifest, format); err != nil {
			return err
		}
		if err := writeOutput(out.manifest, buf.Bytes(), stdout, format == ratona.ManifestCBOR); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	return nil
}

type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var errTerminal = errors.New("refusing to write binary data to a terminal")

func writeOutput(path string, data []byte, stdout io.Writer, binary bool) error {
	switch path {
	case "":
		return nil
	case "-":
		if f, ok := stdout.(*os.File); ok && binary && term.IsTerminal(int(f.Fd())) {
			return errTerminal
		}
		_, err := stdout.Write(data)
		return err
	default:
		return os.WriteFile(path, data, 0o644)
	}
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "ratona: %v\n", err)
		os.Exit(1)
	}
}
