// The statusctl binary is the operator surface over the status store:
// pipeline stats, record listing, and the explicit error -> queued requeue
// that the manager itself never performs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"ingestfabric/internal/config"
	"ingestfabric/internal/statusstore"
	"ingestfabric/internal/wiring"
)

func main() {
	log.SetFlags(0)
	var (
		stats    = flag.Bool("stats", false, "print per-status record counts")
		list     = flag.Bool("list", false, "list status records")
		byStatus = flag.String("status", "", "filter --list by status (queued|processing|processed|error)")
		requeue  = flag.String("requeue", "", "reset the given filepath from error back to queued")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	store, err := wiring.StatusStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open status store: %v", err)
	}

	switch {
	case *stats:
		st, err := store.Stats(ctx)
		if err != nil {
			log.Fatalf("stats: %v", err)
		}
		for _, s := range []statusstore.Status{statusstore.Queued, statusstore.Processing, statusstore.Processed, statusstore.Error} {
			fmt.Printf("%-12s %d\n", s, st.ByStatus[s])
		}
		fmt.Printf("%-12s %d\n", "total", st.Total)

	case *list:
		var filter *statusstore.Status
		if *byStatus != "" {
			s := statusstore.Status(*byStatus)
			filter = &s
		}
		records, err := store.List(ctx, filter)
		if err != nil {
			log.Fatalf("list: %v", err)
		}
		for _, r := range records {
			line := fmt.Sprintf("%-12s %s  trace=%s", r.Status, r.Filepath, r.TraceID)
			if r.ErrorMessage != nil {
				line += "  error=" + *r.ErrorMessage
			}
			fmt.Println(line)
		}

	case *requeue != "":
		rec, err := store.Get(ctx, *requeue)
		if err != nil {
			log.Fatalf("get %s: %v", *requeue, err)
		}
		if rec.Status != statusstore.Error {
			log.Fatalf("%s is %s, only error records can be requeued", *requeue, rec.Status)
		}
		if err := store.Update(ctx, *requeue, statusstore.Queued, nil); err != nil {
			log.Fatalf("requeue: %v", err)
		}
		fmt.Printf("requeued %s (trace=%s)\n", *requeue, rec.TraceID)

	default:
		flag.Usage()
	}
}
