// Package sym defines canonical symbols used to decorate Sentivane log lines
// and CLI output. These symbols are stable across CLI and documentation.
package sym

// System markers.
const (
	Pulse = "꩜" // pulse — job queue and worker operations
	Open  = "✿" // opening — startup / recovery operations
	Close = "❀" // closing — shutdown operations
	DB    = "⛁" // database operations
	Gauge = "☉" // gauge — composite index computations
	Fetch = "⇣" // fetch — source client calls
)

// Names maps each glyph to its canonical name.
var Names = map[string]string{
	Pulse: "pulse",
	Open:  "open",
	Close: "close",
	DB:    "db",
	Gauge: "gauge",
	Fetch: "fetch",
}
