// Package diag collects and formats builder diagnostics. The builder never
// fails: resolution problems degrade to warnings here and the downstream C++
// compile is the final validator.
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Severity ranks a diagnostic.
type Severity int

const (
	Info Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "info"
}

// Diagnostic is one message with its originating context.
type Diagnostic struct {
	Severity  Severity
	Component string // "generics", "lower", ...
	Method    string // identity of the method being processed, may be ""
	Message   string
}

// Format renders the diagnostic as a single stderr line.
func (d *Diagnostic) Format() string {
	var sb strings.Builder
	sb.WriteString(d.Severity.String())
	sb.WriteString(": [")
	sb.WriteString(d.Component)
	sb.WriteString("] ")
	if d.Method != "" {
		sb.WriteString(d.Method)
		sb.WriteString(": ")
	}
	sb.WriteString(d.Message)
	return sb.String()
}

// Collector deduplicates and emits diagnostics. Stub notices in particular
// are reported once per subject regardless of how many bodies hit them.
type Collector struct {
	Out io.Writer

	seen []string
	dedup map[string]bool
}

// NewCollector creates a collector writing to stderr.
func NewCollector() *Collector {
	return &Collector{Out: os.Stderr, dedup: make(map[string]bool)}
}

// Warnf records and prints a warning.
func (c *Collector) Warnf(component, method, format string, args ...any) {
	c.emit(&Diagnostic{Severity: Warning, Component: component, Method: method,
		Message: fmt.Sprintf(format, args...)})
}

// Infof records an informational message.
func (c *Collector) Infof(component, format string, args ...any) {
	c.emit(&Diagnostic{Severity: Info, Component: component,
		Message: fmt.Sprintf(format, args...)})
}

// WarnOnce prints a warning at most once per key.
func (c *Collector) WarnOnce(component, key, format string, args ...any) {
	if c.dedup[component+"|"+key] {
		return
	}
	c.dedup[component+"|"+key] = true
	c.Warnf(component, "", format, args...)
}

func (c *Collector) emit(d *Diagnostic) {
	line := d.Format()
	c.seen = append(c.seen, line)
	if c.Out != nil && d.Severity >= Warning {
		fmt.Fprintln(c.Out, line)
	}
}

// Messages returns every recorded line in emission order.
func (c *Collector) Messages() []string {
	out := make([]string, len(c.seen))
	copy(out, c.seen)
	return out
}
