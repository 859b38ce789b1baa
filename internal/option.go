package internal

import (
	"io"

	"github.com/starford/dispatchd/internal/messaging"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	messenger messaging.Messenger
	logOutput io.Writer
	output    io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMessenger replaces the Slack client built from the messaging config.
func WithMessenger(m messaging.Messenger) Option {
	return func(a *application) {
		a.messenger = m
	}
}

// WithLogOutput sets where structured logs are written. Defaults to stdout.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithOutput sets where command results are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.output = w
	}
}
