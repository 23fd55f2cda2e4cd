package core

import (
	"net/http"
	"time"
)

// Route is one endpoint exposed by the host application.
type Route struct {
	Methods []string `json:"methods"`
	Pattern string   `json:"pattern"`
}

// Host is the application the console is embedded in. The console only
// introspects it; it never mutates host state.
type Host interface {
	// Name returns the application name.
	Name() string

	// StartedAt returns when the host process started serving.
	StartedAt() time.Time

	// Routes enumerates the host's own endpoints.
	Routes() []Route

	// Handler is the host's in-process request handling path. Requests sent
	// through it never touch a network socket.
	Handler() http.Handler

	// Settings returns the host configuration; the console only displays an
	// allowlisted, masked subset of it.
	Settings() map[string]any

	// Extensions lists optional subsystems attached to the host.
	Extensions() []string

	// Debug reports whether the host runs in debug mode.
	Debug() bool
}
