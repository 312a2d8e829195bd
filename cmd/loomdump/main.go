// Loomdump - inspect recorded stack-walk register tables
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/loom/config"
	"github.com/chazu/loom/record"
	"github.com/chazu/loom/snapshot"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configDir := flag.String("config", ".", "Directory containing loom.toml")
	storePath := flag.String("store", "", "Walk store database (overrides loom.toml)")
	list := flag.Bool("list", false, "List recorded walks in the store")
	walkID := flag.String("walk", "", "Print one recorded walk by ID")
	validOnly := flag.Bool("valid-only", false, "Print only registers with a valid location")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: loomdump [options] [snapshot-files...]\n\n")
		fmt.Fprintf(os.Stderr, "Prints register-location tables recorded during stack walks.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  loomdump walk.snap             # Print one snapshot file\n")
		fmt.Fprintf(os.Stderr, "  loomdump -list                 # List walks in the configured store\n")
		fmt.Fprintf(os.Stderr, "  loomdump -walk <id>            # Print one stored walk\n")
		fmt.Fprintf(os.Stderr, "  loomdump -valid-only walk.snap # Hide stale entries\n")
	}
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *validOnly {
		cfg.Dump.ValidOnly = true
	}
	if *storePath != "" {
		cfg.Sampling.Store = *storePath
		cfg.Dir = ""
	}

	commonlog.NewInfoMessage(0, "loomdump starting")

	switch {
	case *list:
		if err := listWalks(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *walkID != "":
		if err := printStoredWalk(cfg, *walkID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case flag.NArg() > 0:
		for _, path := range flag.Args() {
			snap, err := snapshot.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printSnapshot(snap, cfg.Dump.ValidOnly)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func listWalks(cfg *config.Config) error {
	store, err := record.Open(cfg.StorePath())
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.List(cfg.Dump.ListLimit)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no recorded walks")
		return nil
	}
	for _, w := range infos {
		fmt.Printf("%s  %-6s  %s  %d valid\n",
			w.WalkID, w.Arch, w.CapturedAt.Format("2006-01-02 15:04:05.000"), w.ValidRegs)
	}
	return nil
}

func printStoredWalk(cfg *config.Config, walkID string) error {
	store, err := record.Open(cfg.StorePath())
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Get(walkID)
	if err != nil {
		return err
	}
	printSnapshot(snap, cfg.Dump.ValidOnly)
	return nil
}

func printSnapshot(s *snapshot.Snapshot, validOnly bool) {
	fmt.Printf("walk %s arch=%s captured=%s chunkindex=%d incont=%t argoops=%t\n",
		s.WalkID, s.Arch, s.CapturedAt.Format("2006-01-02 15:04:05.000"),
		s.ChunkIndex, s.InContinuation, s.ArgumentOops)
	for _, e := range s.Entries {
		if validOnly && !e.Valid {
			continue
		}
		state := "stale"
		if e.Valid {
			state = "valid"
		}
		fmt.Printf("  %-6s %#016x %s\n", e.Name, e.Loc, state)
	}
}
