// Package config is used to load the configuration file
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

const (
	defaultFTPPort   = 21
	defaultHTTPPort  = 80
	defaultRelayPort = 9898
	defaultHelper    = "curlftpfs"
)

type device struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
}

type xfer struct {
	Backend     string        `mapstructure:"backend"`
	Timeout     time.Duration `mapstructure:"timeout"`
	DialTimeout time.Duration `mapstructure:"dial-timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

type relay struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type mount struct {
	Helper  string `mapstructure:"helper"`
	Unmount string `mapstructure:"unmount"`
}

// Config is the configuration struct
type Config struct {
	Device   device `mapstructure:"device"`
	Transfer xfer   `mapstructure:"transfer"`
	Relay    relay  `mapstructure:"relay"`
	Mount    mount  `mapstructure:"mount"`
}

func (c *Config) verify() error {
	if c.Transfer.Backend == "" {
		c.Transfer.Backend = string(transfer.BackendFTP)
	}
	if !transfer.Backend(c.Transfer.Backend).Valid() {
		return fmt.Errorf("config: unknown transfer backend %q (valid: %v)", c.Transfer.Backend, transfer.Backends())
	}
	if c.Device.Port < 0 || c.Device.Port > 65535 {
		return fmt.Errorf("config: invalid device port %d", c.Device.Port)
	}
	if c.Device.Port == 0 {
		if transfer.Backend(c.Transfer.Backend) == transfer.BackendHTTP {
			c.Device.Port = defaultHTTPPort
		} else {
			c.Device.Port = defaultFTPPort
		}
	}
	if c.Transfer.Timeout < 0 {
		return fmt.Errorf("config: transfer timeout cannot be negative")
	} else if c.Transfer.Timeout == 0 {
		c.Transfer.Timeout = transfer.DefaultTimeout
	}
	if c.Transfer.DialTimeout <= 0 {
		c.Transfer.DialTimeout = c.Transfer.Timeout
	}
	if c.Transfer.Concurrency < 0 {
		return fmt.Errorf("config: transfer concurrency cannot be negative")
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("config: invalid relay port %d", c.Relay.Port)
	}
	if c.Mount.Helper == "" {
		c.Mount.Helper = defaultHelper
	}
	return nil
}

// Backend returns the selected transfer backend
func (c *Config) Backend() string { return c.Transfer.Backend }

// TransferConfig returns the backend settings. The device host is required.
func (c *Config) TransferConfig() (*transfer.Config, error) {
	if c.Device.Host == "" {
		return nil, fmt.Errorf("config: device host must be set (--host or device.host)")
	}
	return &transfer.Config{
		Host:          c.Device.Host,
		Port:          c.Device.Port,
		User:          c.Device.User,
		Pass:          c.Device.Pass,
		DialTimeout:   c.Transfer.DialTimeout,
		Concurrency:   c.Transfer.Concurrency,
		RelayHost:     c.Relay.Host,
		RelayPort:     c.Relay.Port,
		MountHelper:   c.Mount.Helper,
		UnmountHelper: c.Mount.Unmount,
	}, nil
}

// Load unmarshals and verifies the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var c *Config

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = &Config{}
	}
	// an explicit relay.port of 0 asks for a free port
	if !v.IsSet("relay.port") {
		c.Relay.Port = defaultRelayPort
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}
