package h2mux

import (
	"io"
	"log"
)

// Config holds the Bootstrap's tunables. Validate normalizes an unset
// MaxMessagesPerRead and Logger to their defaults, the way
// celeris.Config.Validate normalizes a server configuration rather than
// rejecting a zero-value one; AutoRead is taken as given, so a
// zero-value Config has auto-read off.
type Config struct {
	// MaxMessagesPerRead bounds how many inbound frames a stream channel
	// will dispatch to its pipeline per read call, standard framework
	// semantics per spec §6.
	MaxMessagesPerRead int
	// AutoRead, when true, causes a stream channel to request the next
	// read automatically after dispatching the current one.
	AutoRead bool
	// Logger receives diagnostic output; defaults to a silent logger so a
	// zero-value Config never talks unless the caller opts in.
	Logger *log.Logger
}

// DefaultConfig returns a Config with sensible default values, mirroring
// celeris.DefaultConfig's shape.
func DefaultConfig() Config {
	return Config{
		MaxMessagesPerRead: 16,
		AutoRead:           true,
		Logger:             newSilentLogger(),
	}
}

func newSilentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Validate normalizes a non-positive MaxMessagesPerRead and a nil Logger
// to their defaults in place, matching celeris.Config.Validate's style
// of fixing up rather than failing. AutoRead is left unchanged.
func (c *Config) Validate() error {
	if c.MaxMessagesPerRead <= 0 {
		c.MaxMessagesPerRead = 16
	}
	if c.Logger == nil {
		c.Logger = newSilentLogger()
	}
	return nil
}
