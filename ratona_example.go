//go:build ignore

// This file demonstrates the public API of the ratona package.
// It is excluded from the build and serves as a reference.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	ratona "github.com/tinyrange/ratona"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	mem, err := ratona.ParseSize("1G")
	if err != nil {
		return err
	}

	cfg := ratona.DefaultConfig()
	cfg.CPUs = 2
	cfg.Memory = mem
	cfg.Kernel = "Image"
	cfg.Initrd = "initramfs.cpio.gz"
	cfg.Cmdline = "console=ttySIF0 earlycon"
	cfg.DataDirs = []string{"/usr/share/opensbi"}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	res, err := ratona.Synthesize(cfg, ratona.WithLogger(logger))
	if errors.Is(err, ratona.ErrConfiguration) {
		return fmt.Errorf("bad board description: %w", err)
	} else if err != nil {
		return err
	}

	fmt.Printf("reset vector at 0x%x jumps to 0x%x with the tree at 0x%x\n",
		res.Plan.ResetAddr, res.Plan.Entry, res.Plan.FDTAddr)

	if err := os.WriteFile("mrom.bin", res.ROM, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile("ratona.dtb", res.DTB, 0o644); err != nil {
		return err
	}

	f, err := os.Create("ratona.cbor")
	if err != nil {
		return err
	}
	defer f.Close()
	return ratona.WriteManifest(f, res.Manifest, ratona.ManifestCBOR)
}
