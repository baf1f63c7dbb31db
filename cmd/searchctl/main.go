// The searchctl binary is the read path over the persisted embeddings: it
// embeds a query string and prints the nearest chunks from the vector store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"ingestfabric/internal/config"
	"ingestfabric/internal/persistence/databases"
	"ingestfabric/internal/wiring"
)

func main() {
	log.SetFlags(0)
	var (
		query     = flag.String("query", "", "query text (required)")
		k         = flag.Int("k", 5, "number of results")
		threshold = flag.Float64("threshold", 0, "minimum similarity score")
		filePath  = flag.String("file-path", "", "restrict results to one source file")
	)
	flag.Parse()
	if *query == "" {
		log.Fatal("--query is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	vectors, err := wiring.VectorStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open vector store: %v", err)
	}
	defer databases.CloseVector(vectors)

	embedder := wiring.Embedder(cfg)
	qvecs, err := embedder.EmbedBatch(ctx, []string{*query})
	if err != nil || len(qvecs) == 0 {
		log.Fatalf("embed query: %v", err)
	}

	var filter map[string]string
	if *filePath != "" {
		filter = map[string]string{"file_path": *filePath}
	}
	results, err := vectors.SimilaritySearch(ctx, qvecs[0], *k, filter)
	if err != nil {
		log.Fatalf("search: %v", err)
	}

	n := 0
	for _, r := range results {
		if r.Score < *threshold {
			continue
		}
		n++
		fmt.Printf("%d. %s  score=%.4f\n", n, r.ID, r.Score)
		if fp := r.Metadata["file_path"]; fp != "" {
			fmt.Printf("   file: %s\n", fp)
		}
		if title := r.Metadata["title"]; title != "" {
			fmt.Printf("   title: %s\n", title)
		}
		if text := r.Metadata["text"]; text != "" {
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			fmt.Printf("   %s\n", text)
		}
	}
	if n == 0 {
		fmt.Println("no results above threshold")
		os.Exit(1)
	}
}
