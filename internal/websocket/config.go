package websocket

import "time"

// Config tunes connection handling
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
	TickInterval time.Duration
	AuthTimeout  time.Duration

	// AllowedOrigins lists accepted Origin headers; empty accepts any origin
	AllowedOrigins []string

	// Now is the clock; nil means time.Now
	Now func() time.Time
}

// DefaultConfig mirrors the service defaults
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   100,
		TickInterval: time.Second,
		AuthTimeout:  10 * time.Second,
	}
}

func (c Config) clock() func() time.Time {
	if c.Now == nil {
		return time.Now
	}
	return c.Now
}
