package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/vidforge/devsup/internal/logger"
	"github.com/vidforge/devsup/internal/registry"
)

// FileConfig represents the top-level TOML structure:
//
//	[log]
//	dir = "logs"
//
//	[history]
//	dsn = "sqlite://devsup-history.db"
//
//	[serve]
//	listen = "127.0.0.1:9090"
//
//	[[services]]
//	name = "backend"
//	patterns = ["python.*main.py", "flask"]
//	ports = [5000, 5001]
//	health_url = "http://localhost:5000/health"
//	command = "python src/main.py"
//	workdir = "backend"
type FileConfig struct {
	Log      *logger.Config  `toml:"log" mapstructure:"log"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`
	Serve    ServeConfig     `toml:"serve" mapstructure:"serve"`
	Services []ServiceConfig `toml:"services" mapstructure:"services"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServeConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

// ServiceConfig mirrors registry.ServiceSpec with config-friendly duration
// strings.
type ServiceConfig struct {
	Name         string         `toml:"name" mapstructure:"name"`
	Patterns     []string       `toml:"patterns" mapstructure:"patterns"`
	Ports        []int          `toml:"ports" mapstructure:"ports"`
	HealthURL    string         `toml:"health_url" mapstructure:"health_url"`
	Command      string         `toml:"command" mapstructure:"command"`
	WorkDir      string         `toml:"workdir" mapstructure:"workdir"`
	Env          []string       `toml:"env" mapstructure:"env"`
	AccessURL    string         `toml:"access_url" mapstructure:"access_url"`
	Optional     bool           `toml:"optional" mapstructure:"optional"`
	GracePeriod  time.Duration  `toml:"grace_period" mapstructure:"grace_period"`
	SettlePeriod time.Duration  `toml:"settle_period" mapstructure:"settle_period"`
	ProbeTimeout time.Duration  `toml:"probe_timeout" mapstructure:"probe_timeout"`
	Log          *logger.Config `toml:"log" mapstructure:"log"`
}

// Load parses the TOML file at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}

// Registry builds the service registry from the file, applying the global
// log config to services that did not set their own.
func (fc *FileConfig) Registry() (*registry.Registry, error) {
	specs := make([]registry.ServiceSpec, 0, len(fc.Services))
	for _, sc := range fc.Services {
		spec := registry.ServiceSpec{
			Name:         sc.Name,
			Patterns:     sc.Patterns,
			Ports:        sc.Ports,
			HealthURL:    sc.HealthURL,
			Command:      sc.Command,
			WorkDir:      sc.WorkDir,
			Env:          sc.Env,
			AccessURL:    sc.AccessURL,
			Optional:     sc.Optional,
			GracePeriod:  sc.GracePeriod,
			SettlePeriod: sc.SettlePeriod,
			ProbeTimeout: sc.ProbeTimeout,
		}
		switch {
		case sc.Log != nil:
			spec.Log = *sc.Log
		case fc.Log != nil:
			spec.Log = *fc.Log
		}
		specs = append(specs, spec)
	}
	return registry.New(specs)
}
