// Package config loads the supervisor's configuration surface (spec
// section 6.4) from a YAML file, the way the teacher's web UI loads its
// saved connection parameters from disk — except the supervisor has no
// browser-facing form to edit it from, so a plain YAML file, whose path is
// chosen with the entrypoints' -config flag, replaces the teacher's
// ConfigStore.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full recognized configuration surface from spec 6.4.
type Config struct {
	Serial struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"serial"`

	Timeouts struct {
		ResponseMs   int `yaml:"response_ms"`
		BusySettleMs int `yaml:"busy_settle_ms"`
	} `yaml:"timeouts"`

	Duplicates struct {
		Path string `yaml:"path"`
	} `yaml:"duplicates"`

	Log struct {
		BatchDir     string `yaml:"batch_dir"`
		SetupDir     string `yaml:"setup_dir"`
		RecoveryFile string `yaml:"recovery_file"`
	} `yaml:"log"`

	Hardware struct {
		Backend string `yaml:"backend"` // "gpio" or "mock"
		Chip    string `yaml:"chip"`    // e.g. "/dev/gpiochip0", gpio backend only
		Pins struct {
			Ready  uint32 `yaml:"ready"`
			Red    uint32 `yaml:"red"`
			Green  uint32 `yaml:"green"`
			Yellow uint32 `yaml:"yellow"`
			Buzzer uint32 `yaml:"buzzer"`
		} `yaml:"pins"`
	} `yaml:"hardware"`

	BatchFormat struct {
		QRLength   int    `yaml:"qr_length"`
		BatchRegex string `yaml:"batch_regex"`
	} `yaml:"batch_format"`
}

// Default returns the configuration surface's documented defaults.
func Default() Config {
	var c Config
	c.Serial.Port = ""
	c.Serial.Baud = 115200
	c.Timeouts.ResponseMs = 12000
	c.Timeouts.BusySettleMs = 20
	c.Duplicates.Path = "./data/duplicates.db"
	c.Log.BatchDir = "./logs/batches"
	c.Log.SetupDir = "./logs/setup"
	c.Log.RecoveryFile = "./data/recovery.json"
	c.Hardware.Backend = "mock"
	c.Hardware.Chip = "/dev/gpiochip0"
	c.Hardware.Pins.Ready = 17
	c.Hardware.Pins.Red = 27
	c.Hardware.Pins.Green = 22
	c.Hardware.Pins.Yellow = 23
	c.Hardware.Pins.Buzzer = 24
	c.BatchFormat.QRLength = 14
	c.BatchFormat.BatchRegex = `^MV[A-Z][A-Z]{2}\d{5}$`
	return c
}

// Load reads a YAML config file at path over the documented defaults. A
// missing file is not an error; Load returns the defaults unmodified, since
// every field in the surface already has a spec-mandated default.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}
