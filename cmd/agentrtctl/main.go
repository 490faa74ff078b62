// Command agentrtctl is a small operability CLI over the Workflow Store:
// list templates, show one, or print aggregate stats. It uses only the
// standard flag package, matching the teacher's own preference for no CLI
// framework when a handful of subcommands suffice (grep across the pack
// turned up no cobra/urfave dependency to justify one here).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/store"
)

func main() {
	storeRoot := flag.String("store-root", "./workflows", "workflow store directory")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	st, err := store.New(*storeRoot, logger.Noop{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	switch args[0] {
	case "list":
		runList(st)
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: agentrtctl show <id>")
			os.Exit(2)
		}
		runShow(st, args[1])
	case "stats":
		runStats(st)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: agentrtctl [-store-root dir] <list|show <id>|stats>")
}

func runList(st *store.Store) {
	ranked := st.FindSimilar(context.Background(), "", 0)
	for _, s := range ranked {
		fmt.Printf("%s\t%s\tusage=%d\tsuccess=%.2f\n", s.Template.ID, s.Template.Name, s.Template.UsageCount, s.Template.SuccessRate)
	}
}

func runShow(st *store.Store, id string) {
	tmpl, err := st.Get(id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	enc, _ := json.MarshalIndent(tmpl, "", "  ")
	fmt.Println(string(enc))
}

func runStats(st *store.Store) {
	stats := st.Stats()
	enc, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(enc))
}
