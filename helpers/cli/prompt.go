// Package cli reads operator input one line at a time.
// Interactive terminal gets go-prompt line editing, pipes are scanned as stream.
package cli

import (
	"io"
	"os"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
	"github.com/temoto/trackrelay/helpers"
)

// MainLoop blocks until input is exhausted (Ctrl-D on terminal, EOF on pipe).
// Lines longer than limit are passed to reject instead of exec, loop continues.
func MainLoop(tag string, limit int, exec func(line string), reject func(length int)) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(limitExec(limit, exec, reject), noComplete,
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return nil
	}
	return StreamLoop(os.Stdin, limit, exec, reject)
}

func StreamLoop(r io.Reader, limit int, exec func(line string), reject func(length int)) error {
	return helpers.ScanLines(r, limit, func(b []byte) error {
		exec(string(b))
		return nil
	}, reject)
}

func limitExec(limit int, exec func(string), reject func(int)) func(string) {
	return func(line string) {
		if len(line) > limit {
			if reject != nil {
				reject(len(line))
			}
			return
		}
		exec(line)
	}
}

func noComplete(prompt.Document) []prompt.Suggest { return nil }
