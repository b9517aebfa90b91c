package commands

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/vertextoedge/modelcache/internal/service/loader"
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progressLine renders a single progress line
func progressLine(name string, loaded, total int64) string {
	if total < 0 {
		return fmt.Sprintf("%s  %s", name, humanize.IBytes(uint64(loaded)))
	}
	pct := 100.0
	if total > 0 {
		pct = float64(loaded) / float64(total) * 100
	}
	return fmt.Sprintf("%s  %s / %s  %5.1f%%",
		name, humanize.IBytes(uint64(loaded)), humanize.IBytes(uint64(total)), pct)
}

// newProgress returns a progress callback that redraws one line on w, and a
// finish function that terminates the line. The callback is nil when show
// is false.
func newProgress(w io.Writer, name string, show bool) (loader.ProgressFunc, func()) {
	if !show {
		return nil, func() {}
	}

	var mu sync.Mutex
	drawn := false

	fn := func(loaded, total int64) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "\r\033[K%s", progressLine(name, loaded, total))
		drawn = true
	}

	finish := func() {
		mu.Lock()
		defer mu.Unlock()
		if drawn {
			fmt.Fprintln(w)
		}
	}
	return fn, finish
}
