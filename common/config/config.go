package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/op/go-logging"
	"gopkg.in/yaml.v3"

	"krypt.co/krbtle/common/log"
	"krypt.co/krbtle/common/socket"
)

const CONFIG_FILENAME = "krbtled.yaml"

const (
	BACKEND_SIM   = "sim"
	BACKEND_GATT  = "gatt"
	BACKEND_BLUEZ = "bluez"
)

type Config struct {
	Backend          string        `yaml:"backend"`
	LocalName        string        `yaml:"local_name"`
	RotateDelay      time.Duration `yaml:"rotate_delay"`
	ServicesPerCycle int           `yaml:"services_per_cycle"`
	LogLevel         string        `yaml:"log_level"`
	Syslog           bool          `yaml:"syslog"`
	Persist          bool          `yaml:"persist"`
}

func Default() *Config {
	return &Config{
		Backend:          BACKEND_GATT,
		LocalName:        "krbtle",
		RotateDelay:      time.Second,
		ServicesPerCycle: 1,
		LogLevel:         "NOTICE",
		Syslog:           true,
		Persist:          true,
	}
}

func DefaultPath() (path string, err error) {
	return socket.KrDirFile(CONFIG_FILENAME)
}

// missing file yields defaults, unset fields keep their defaults
func Load(path string) (cfg *Config, err error) {
	cfg = Default()
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		err = nil
		return
	}
	if err != nil {
		err = fmt.Errorf("reading config file: %s", err.Error())
		return
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		err = fmt.Errorf("parsing config file: %s", err.Error())
		return
	}
	return
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BACKEND_SIM, BACKEND_GATT, BACKEND_BLUEZ:
	default:
		return fmt.Errorf("backend must be %q, %q or %q, got %q", BACKEND_SIM, BACKEND_GATT, BACKEND_BLUEZ, c.Backend)
	}
	if c.RotateDelay <= 0 {
		return fmt.Errorf("rotate_delay must be > 0")
	}
	if c.ServicesPerCycle < 1 {
		return fmt.Errorf("services_per_cycle must be >= 1")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %s", err.Error())
	}
	return nil
}

func (c *Config) Level() logging.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.NOTICE
	}
	return level
}
