package board

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ratona/internal/devtree"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want Size
		err  bool
	}{
		{"4096", 4096, false},
		{"64K", 64 << 10, false},
		{"512m", 512 << 20, false},
		{"512MB", 512 << 20, false},
		{"2G", 2 << 30, false},
		{"1GiB", 1 << 30, false},
		{"1.5G", 3 << 29, false},
		{" 128M ", 128 << 20, false},
		{"", 0, true},
		{"0", 0, true},
		{"0G", 0, true},
		{"-1", 0, true},
		{"G", 0, true},
		{"12X", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cpus: 4
memory: 2G
kernel: /boot/Image
cmdline: console=ttySIF0 earlycon
dataDirs:
  - /usr/share/opensbi
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.CPUs)
	assert.Equal(t, 64, cfg.XLEN)
	assert.Equal(t, Size(2<<30), cfg.Memory)
	assert.Equal(t, "/boot/Image", cfg.Kernel)
	assert.Equal(t, []string{"/usr/share/opensbi"}, cfg.DataDirs)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("memory: lots\n"), 0o644))
	_, err = LoadConfig(bad)
	assert.ErrorIs(t, err, ErrConfiguration)

	for _, body := range []string{"memory: 0\n", "cpus: 0\n", "cpus: 5000\n"} {
		zero := filepath.Join(dir, "zero.yaml")
		require.NoError(t, os.WriteFile(zero, []byte(body), 0o644))
		_, err = LoadConfig(zero)
		assert.ErrorIs(t, err, ErrConfiguration, body)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("xlen: 128\n"), 0o644))
	_, err = LoadConfig(invalid)
	assert.ErrorIs(t, err, ErrConfiguration)
	var be *Error
	assert.ErrorAs(t, err, &be)
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultCPUs, cfg.CPUs)
	assert.Equal(t, DefaultXLEN, cfg.XLEN)
	assert.Equal(t, Size(DefaultMemory), cfg.Memory)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.Is32Bit())
}

func TestConfigValidate(t *testing.T) {
	base := DefaultConfig()

	assert.ErrorIs(t, Config{}.Validate(), ErrConfiguration, "zero value")

	cfg := base
	cfg.CPUs = 0
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration, "zero cpus")

	cfg = base
	cfg.Memory = 0
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration, "zero memory")

	cfg = base
	cfg.CPUs = devtree.MaxCPUs
	assert.NoError(t, cfg.Validate())
	cfg.CPUs++
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration, "too many cpus")

	cfg = base
	cfg.ISA = []string{"rv32imac"}
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration, "xlen mismatch")

	cfg = base
	cfg.ISA = []string{"rv64imac"}
	cfg.DTB = "board.dtb"
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration, "isa with dtb")

	cfg = base
	cfg.ISA = []string{"rv64imac"}
	assert.NoError(t, cfg.Validate())
}

func TestSizeMarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(Config{CPUs: 2, Memory: 1 << 30})
	require.NoError(t, err)
	assert.Contains(t, string(out), "memory: 1GiB")

	out, err = yaml.Marshal(struct{ M Size }{M: 1000})
	require.NoError(t, err)
	assert.Equal(t, "m: 1000\n", string(out))

	for _, size := range []Size{256 << 20, 3 << 29, 12345 << 20} {
		out, err := yaml.Marshal(struct{ M Size }{M: size})
		require.NoError(t, err)
		var back struct{ M Size }
		require.NoError(t, yaml.Unmarshal(out, &back))
		assert.Equal(t, size, back.M, string(out))
	}
}
