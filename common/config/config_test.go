package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/op/go-logging"
)

func writeConfig(t *testing.T, contents string) (path string) {
	dir, err := ioutil.TempDir("", "krbtle-config")
	if err != nil {
		t.Fatal(err)
	}
	path = filepath.Join(dir, CONFIG_FILENAME)
	if err := ioutil.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	return
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(os.TempDir(), "does-not-exist", CONFIG_FILENAME))
	if err != nil {
		t.Fatal(err)
	}
	if *cfg != *Default() {
		t.Fatal("expected defaults")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, "backend: sim\nrotate_delay: 250ms\nlog_level: debug\n")
	defer os.RemoveAll(filepath.Dir(path))
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != BACKEND_SIM {
		t.Fatal("backend not loaded")
	}
	if cfg.RotateDelay != 250*time.Millisecond {
		t.Fatal("rotate_delay not loaded", cfg.RotateDelay)
	}
	if cfg.ServicesPerCycle != 1 || cfg.LocalName != "krbtle" {
		t.Fatal("unset fields should keep defaults")
	}
	if cfg.Level() != logging.DEBUG {
		t.Fatal("wrong level")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejects(t *testing.T) {
	bad := []func(c *Config){
		func(c *Config) { c.Backend = "carrier-pigeon" },
		func(c *Config) { c.RotateDelay = 0 },
		func(c *Config) { c.ServicesPerCycle = 0 },
		func(c *Config) { c.LogLevel = "loud" },
	}
	for i, mutate := range bad {
		cfg := Default()
		mutate(cfg)
		if cfg.Validate() == nil {
			t.Fatal("expected validation error for case", i)
		}
	}
}

func TestLoadMalformed(t *testing.T) {
	path := writeConfig(t, "backend: [unterminated\n")
	defer os.RemoveAll(filepath.Dir(path))
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
