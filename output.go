package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/theckman/yacspin"
)

var (
	formatAsJSON bool
	formatAsList bool
)

func tty() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// xor implements a boolean exclusive OR for a set of values.  This is necessary because Go does not
// provide XOR operators (boolean or bitwise)
func xor(vs ...bool) bool {
	if len(vs) == 0 {
		return false
	}
	n := 0
	for _, v := range vs {
		if v {
			n++
		}
		if n > 1 {
			return false
		}
	}
	return n == 1
}

// startSpinner initializes and starts a "spinner" for the console and returns
// a function for updating the spinner's message and another to stop it.
func startSpinner(prefix string) (update func(string), done func()) {
	update = func(string) {}
	done = func() {}

	// no-op if we're not writing to a TTY
	if tty() {
		spinner, _ := yacspin.New(yacspin.Config{
			CharSet:         yacspin.CharSets[11],
			Frequency:       300 * time.Millisecond,
			Message:         "",
			Prefix:          prefix + " ",
			Suffix:          " ",
			SuffixAutoColon: false,
		})
		_ = spinner.Start()

		update = func(msg string) {
			spinner.Message(msg)
		}
		done = func() {
			_ = spinner.Stop()
		}
	}
	return update, done
}

// writeTable writes rows as tab-aligned columns under the provided header.
func writeTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 10, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	line := func(cols []string) error {
		for i, c := range cols {
			if i > 0 {
				if _, err := tw.Write([]byte("\t")); err != nil {
					return err
				}
			}
			if _, err := tw.Write([]byte(c)); err != nil {
				return err
			}
		}
		_, err := tw.Write([]byte("\n"))
		return err
	}
	if err := line(header); err != nil {
		return fmt.Errorf("error writing tabular output: %w", err)
	}
	for _, row := range rows {
		if err := line(row); err != nil {
			return fmt.Errorf("error writing tabular output: %w", err)
		}
	}
	return nil
}

// writeJSON writes v to w as a single JSON document.
func writeJSON(w io.Writer, v any) error {
	output, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error writing JSON output: %w", err)
	}
	_, _ = w.Write(output)
	fmt.Fprintln(w)
	return nil
}
