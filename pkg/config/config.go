package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"strconv"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".stepctl"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// InlinedStepping enables the simulation of calls to inlined
	// subroutines while stepping. When disabled, inlined code is stepped
	// through as if it belonged to the caller.
	InlinedStepping *bool `yaml:"inlined-stepping,omitempty"`

	// DebugInlinedStepping attaches a note to every stop explaining
	// which inlined stepping transition was taken.
	DebugInlinedStepping bool `yaml:"debug-inlined-stepping"`

	// StepStopIfNoDebug makes line stepping inside a function without
	// line information behave like instruction stepping instead of
	// running until the function returns.
	StepStopIfNoDebug bool `yaml:"step-stop-if-no-debug"`

	// MaxStackDepth is the default depth of the stack command.
	MaxStackDepth *int `yaml:"max-stack-depth,omitempty"`

	// Source list line-number color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	SourceListLineColor int `yaml:"source-list-line-color"`
}

// InlinedSteppingEnabled reports whether inlined stepping is on, which is
// the default when the option is not set.
func (c *Config) InlinedSteppingEnabled() bool {
	return c == nil || c.InlinedStepping == nil || *c.InlinedStepping
}

// StackDepth returns the configured default stack depth.
func (c *Config) StackDepth() int {
	if c == nil || c.MaxStackDepth == nil || *c.MaxStackDepth <= 0 {
		return 50
	}
	return *c.MaxStackDepth
}

// Set changes the option called name, using the same names as the config
// file.
func (c *Config) Set(name, value string) error {
	switch name {
	case "inlined-stepping":
		v, err := parseBool(value)
		if err != nil {
			return err
		}
		c.InlinedStepping = &v
	case "debug-inlined-stepping":
		v, err := parseBool(value)
		if err != nil {
			return err
		}
		c.DebugInlinedStepping = v
	case "step-stop-if-no-debug":
		v, err := parseBool(value)
		if err != nil {
			return err
		}
		c.StepStopIfNoDebug = v
	case "max-stack-depth":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("argument to %q must be a number", name)
		}
		if n <= 0 {
			return fmt.Errorf("argument to %q must be positive", name)
		}
		c.MaxStackDepth = &n
	case "source-list-line-color":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("argument to %q must be a number", name)
		}
		c.SourceListLineColor = n
	default:
		return fmt.Errorf("unknown configuration key %q", name)
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean (use on or off)", s)
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	c, err := readConfig(f)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

func readConfig(f *os.File) (*Config, error) {
	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("Unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("Unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the stepctl debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line and set your preferred ANSI foreground color
# for source line numbers (if unset, default is 34, dark blue)
# See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# source-list-line-color: 34

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Set to false to step through inlined code as if it was part of its caller.
# inlined-stepping: true

# Print a note every time a step is simulated over or into inlined code.
# debug-inlined-stepping: false

# Step by instruction inside functions that have no line number information.
# step-stop-if-no-debug: false

# Default number of frames printed by the stack command.
# max-stack-depth: 50
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv("STEPCTL_CONFIG_DIR"); dir != "" {
		return path.Join(dir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
