package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bobg/lattice"
	"github.com/bobg/lattice/link"
)

func TestReadTuning(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		tu, err := readTuning("")
		if err != nil {
			t.Fatal(err)
		}
		if got, want := tu.linkConfig(), link.DefaultConfig(); got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if got := tu.window(); got != lattice.DefaultWindow {
			t.Errorf("got window %d, want %d", got, lattice.DefaultWindow)
		}
		level, err := tu.logLevel()
		if err != nil {
			t.Fatal(err)
		}
		if level != logrus.InfoLevel {
			t.Errorf("got level %s, want info", level)
		}
	})

	t.Run("file", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "tuning.toml")
		const contents = `
log_level = "debug"
window = 16

[link]
retry_timeout = "20ms"
max_in_flight = 64
`
		if err := os.WriteFile(filename, []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}
		tu, err := readTuning(filename)
		if err != nil {
			t.Fatal(err)
		}

		want := link.DefaultConfig()
		want.RetryTimeout = 20 * time.Millisecond
		want.MaxInFlight = 64
		if got := tu.linkConfig(); got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if got := tu.window(); got != 16 {
			t.Errorf("got window %d, want 16", got)
		}
		level, err := tu.logLevel()
		if err != nil {
			t.Fatal(err)
		}
		if level != logrus.DebugLevel {
			t.Errorf("got level %s, want debug", level)
		}
	})

	t.Run("bad level", func(t *testing.T) {
		tu := &tuning{LogLevel: "loud"}
		if _, err := tu.logLevel(); err == nil {
			t.Error("got no error")
		}
	})
}
