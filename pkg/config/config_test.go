package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("STEPCTL_CONFIG_DIR", dir)
	defer os.Unsetenv("STEPCTL_CONFIG_DIR")

	c := LoadConfig()
	if c == nil {
		t.Fatal("nil config")
	}
	if _, err := os.Stat(filepath.Join(dir, configFile)); err != nil {
		t.Fatalf("default config file not created: %v", err)
	}
	if !c.InlinedSteppingEnabled() {
		t.Error("inlined stepping should default to on")
	}
	if c.StackDepth() != 50 {
		t.Errorf("default stack depth %d", c.StackDepth())
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("STEPCTL_CONFIG_DIR", dir)
	defer os.Unsetenv("STEPCTL_CONFIG_DIR")

	c := &Config{Aliases: map[string][]string{"next": {"nn"}}}
	for _, kv := range [][2]string{
		{"inlined-stepping", "off"},
		{"debug-inlined-stepping", "on"},
		{"step-stop-if-no-debug", "true"},
		{"max-stack-depth", "7"},
	} {
		if err := c.Set(kv[0], kv[1]); err != nil {
			t.Fatalf("Set(%q, %q): %v", kv[0], kv[1], err)
		}
	}
	if err := SaveConfig(c); err != nil {
		t.Fatal(err)
	}

	c2 := LoadConfig()
	if c2.InlinedSteppingEnabled() {
		t.Error("inlined-stepping was not persisted")
	}
	if !c2.DebugInlinedStepping || !c2.StepStopIfNoDebug {
		t.Errorf("boolean options lost: %#v", c2)
	}
	if c2.StackDepth() != 7 {
		t.Errorf("max-stack-depth = %d", c2.StackDepth())
	}
	if len(c2.Aliases["next"]) != 1 || c2.Aliases["next"][0] != "nn" {
		t.Errorf("aliases lost: %v", c2.Aliases)
	}
}

func TestSetErrors(t *testing.T) {
	c := &Config{}
	for _, tc := range []struct{ name, value string }{
		{"inlined-stepping", "maybe"},
		{"max-stack-depth", "x"},
		{"max-stack-depth", "-1"},
		{"no-such-option", "1"},
	} {
		if err := c.Set(tc.name, tc.value); err == nil {
			t.Errorf("Set(%q, %q) should fail", tc.name, tc.value)
		}
	}
}
