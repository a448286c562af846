package manifest

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// WebProcess is the process type that receives HTTP traffic routed to the app.
const WebProcess = "web"

// reProcessName restricts process type names to the characters the platform
// can safely use in log source tags and environment variable names.
var reProcessName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// A Process is a named entry point declared in the Procfile.
type Process struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// A Procfile declares which command starts which named process type within
// the deployed application.
type Procfile struct {
	Processes []Process `json:"processes"`
}

// ParseProcfile reads a Procfile from r.  The expected format is one
// "name: command" declaration per line, with '#' comment lines and blank
// lines ignored.  At least one process must be declared and process names
// must be unique.
func ParseProcfile(r io.Reader) (Procfile, error) {
	var (
		p    Procfile
		seen = make(map[string]int)
	)
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, command, ok := strings.Cut(line, ":")
		if !ok {
			return Procfile{}, fmt.Errorf("line %d: %q is not a name: command declaration", n, line)
		}
		name, command = strings.TrimSpace(name), strings.TrimSpace(command)
		if !reProcessName.MatchString(name) {
			return Procfile{}, fmt.Errorf("line %d: invalid process name %q", n, name)
		}
		if command == "" {
			return Procfile{}, fmt.Errorf("line %d: process %q has no command", n, name)
		}
		if prev, dup := seen[name]; dup {
			return Procfile{}, fmt.Errorf("line %d: duplicate process %q (first declared on line %d)", n, name, prev)
		}
		seen[name] = n
		p.Processes = append(p.Processes, Process{Name: name, Command: command})
	}
	if err := scanner.Err(); err != nil {
		return Procfile{}, fmt.Errorf("error reading Procfile: %w", err)
	}
	if len(p.Processes) == 0 {
		return Procfile{}, fmt.Errorf("the Procfile must declare at least one process")
	}
	return p, nil
}

// ParseProcfileString parses a Procfile from the provided string.
func ParseProcfileString(s string) (Procfile, error) {
	return ParseProcfile(strings.NewReader(s))
}

// String returns the canonical text form of the Procfile.
func (p Procfile) String() string {
	var sb strings.Builder
	for _, proc := range p.Processes {
		sb.WriteString(proc.Name + ": " + proc.Command + "\n")
	}
	return sb.String()
}

// Command returns the command for the named process type.  Returns
// ErrNotFound if no such process is declared.
func (p Procfile) Command(name string) (string, error) {
	for _, proc := range p.Processes {
		if proc.Name == name {
			return proc.Command, nil
		}
	}
	return "", fmt.Errorf("%w: process %s", ErrNotFound, name)
}

// HasWeb reports whether the Procfile declares a routable web process.
func (p Procfile) HasWeb() bool {
	_, err := p.Command(WebProcess)
	return err == nil
}
