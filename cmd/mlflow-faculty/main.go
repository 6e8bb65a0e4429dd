package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/facultyai/mlflow-faculty/filter"
	"github.com/facultyai/mlflow-faculty/store"
	"github.com/facultyai/mlflow-faculty/tracking"
)

func main() {
	// Command-line flags
	filterString := flag.String("filter", "", "Filter string to parse and print as a JSON tree")
	storeURI := flag.String("store", "", "Store URI (faculty:/<project-id>) to search runs against")
	viewTypeStr := flag.String("view", "active", "Run view type: active, deleted or all")
	maxResults := flag.Int("max-results", 100, "Maximum number of runs to return")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout for search")
	flag.Parse()

	if *filterString == "" && *storeURI == "" {
		fmt.Fprintln(os.Stderr, "Usage: mlflow-faculty -filter <expr> [-store <uri>]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	viewType, err := parseViewType(*viewTypeStr)
	if err != nil {
		log.Fatalf("Invalid view type: %v", err)
	}

	// Parse-only mode: print the filter tree and exit.
	if *storeURI == "" {
		parsed, err := filter.Parse(*filterString)
		if err != nil {
			log.Fatalf("Invalid filter: %v", err)
		}
		printJSON(parsed)
		return
	}

	s, err := store.NewRestStore(*storeURI)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runs, err := s.SearchRuns(ctx, nil, *filterString, viewType, *maxResults)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	log.Printf("Matched %d runs", len(runs))
	printJSON(runs)
}

func parseViewType(s string) (tracking.ViewType, error) {
	switch s {
	case "active":
		return tracking.ViewTypeActiveOnly, nil
	case "deleted":
		return tracking.ViewTypeDeletedOnly, nil
	case "all":
		return tracking.ViewTypeAll, nil
	default:
		return 0, fmt.Errorf("unknown view type %q", s)
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}
