// tsinspect opens a serialized time series snapshot read-only and reports
// what it contains.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gridkit/tsstore"
	"github.com/gridkit/tsstore/config"
	"github.com/gridkit/tsstore/ids"
	"github.com/gridkit/tsstore/logging"
	"github.com/gridkit/tsstore/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	descPath := flag.String("descriptor", "", "snapshot descriptor JSON file")
	parentDir := flag.String("dir", ".", "directory the snapshot was serialized under")
	cfgPath := flag.String("config", "", "config file path (optional)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	jsonLogs := flag.Bool("json", false, "log in JSON format")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)

	if *descPath == "" {
		log.Fatal("-descriptor is required")
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("Load config: %v", err)
		}
	}
	cfg.ReadOnly = true
	cfg.InMemory = false

	data, err := os.ReadFile(*descPath)
	if err != nil {
		log.Fatalf("Read descriptor: %v", err)
	}
	var desc storage.Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		log.Fatalf("Parse descriptor: %v", err)
	}

	m, err := tsstore.Deserialize(context.Background(), &desc, *parentDir, cfg, ids.NewSequence(1))
	if err != nil {
		log.Fatalf("Open snapshot: %v", err)
	}
	defer m.Close()

	fmt.Printf("storage kind:  %s\n", desc.StorageKind)
	if desc.EngineName != "" {
		fmt.Printf("engine:        %s\n", desc.EngineName)
	}
	if desc.Filename != "" {
		fmt.Printf("database file: %s\n", desc.Filename)
	}

	if desc.StorageKind == storage.KindParquet {
		entries, err := os.ReadDir(m.Backend().Directory())
		if err != nil {
			log.Fatalf("Read snapshot directory: %v", err)
		}
		fmt.Printf("segment files: %d\n", len(entries))
		if *verbose {
			for _, e := range entries {
				info, err := e.Info()
				if err != nil {
					continue
				}
				fmt.Printf("  %s  %d bytes\n", e.Name(), info.Size())
			}
		}
	}
}
