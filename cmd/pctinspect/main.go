// Command pctinspect pages through a parquet observation dump and shows the
// decoded node bands of each sample.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/store"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	setting := flag.Int("setting", 2, "Experiment setting the dump was recorded with (1, 2 or 3)")
	internalHolder := flag.Int("internal-node-holder", 80, "Maximum number of internal nodes")
	leafHolder := flag.Int("leaf-node-holder", 50, "Maximum number of leaf nodes")
	height := flag.Int("height", 20, "Rows of the band shown at once")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pctinspect [flags] <observations.parquet>")
		os.Exit(2)
	}

	n, err := layout.InternalLengthForSetting(*setting)
	if err != nil {
		log.Fatalf("Invalid setting: %v", err)
	}
	l, err := layout.New(*internalHolder, *leafHolder, n)
	if err != nil {
		log.Fatalf("Invalid layout: %v", err)
	}

	rows, err := store.ReadObservations(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to read observations: %v", err)
	}
	if len(rows) == 0 {
		log.Fatalf("No observations in %s", flag.Arg(0))
	}

	p := tea.NewProgram(newModel(rows, l, *height), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("TUI failed: %v", err)
	}
}
