package main

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/bobg/lattice"
	"github.com/bobg/lattice/link"
)

// tuning is the optional TOML file given with -tuning. Zero values
// leave the defaults in place.
//
//	log_level = "debug"
//	window = 16
//
//	[link]
//	retry_timeout = "8ms"
//	max_retry_timeout = "2s"
//	retry_interval = "8ms"
//	max_in_flight = 1024
//	read_timeout = "100ms"
type tuning struct {
	LogLevel string `toml:"log_level"`
	Window   int    `toml:"window"`
	Link     struct {
		RetryTimeout    time.Duration `toml:"retry_timeout"`
		MaxRetryTimeout time.Duration `toml:"max_retry_timeout"`
		RetryInterval   time.Duration `toml:"retry_interval"`
		MaxInFlight     int           `toml:"max_in_flight"`
		ReadTimeout     time.Duration `toml:"read_timeout"`
	} `toml:"link"`
}

func readTuning(filename string) (*tuning, error) {
	var t tuning
	if filename == "" {
		return &t, nil
	}
	bits, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if _, err = toml.Decode(string(bits), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *tuning) linkConfig() link.Config {
	cfg := link.DefaultConfig()
	if t.Link.RetryTimeout > 0 {
		cfg.RetryTimeout = t.Link.RetryTimeout
	}
	if t.Link.MaxRetryTimeout > 0 {
		cfg.MaxRetryTimeout = t.Link.MaxRetryTimeout
	}
	if t.Link.RetryInterval > 0 {
		cfg.RetryInterval = t.Link.RetryInterval
	}
	if t.Link.MaxInFlight > 0 {
		cfg.MaxInFlight = t.Link.MaxInFlight
	}
	if t.Link.ReadTimeout > 0 {
		cfg.ReadTimeout = t.Link.ReadTimeout
	}
	return cfg
}

func (t *tuning) window() int {
	if t.Window > 0 {
		return t.Window
	}
	return lattice.DefaultWindow
}

func (t *tuning) logLevel() (logrus.Level, error) {
	if t.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(t.LogLevel)
}
