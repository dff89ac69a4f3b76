package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/store"
)

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "show verification statistics from the configured store",
		Action: runStats,
	}
}

func runStats(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading configuration: %v", err), 1)
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg, "")
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening store: %v", err), 1)
	}
	defer st.Close()

	s, err := st.Stats(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("computing stats: %v", err), 1)
	}
	printStats(os.Stdout, s)
	return nil
}

func printStats(w io.Writer, s *store.Stats) {
	fmt.Fprintf(w, "Total verified emails: %d\n", s.Total)
	fmt.Fprintf(w, "\nBy reachability:\n")
	for _, reach := range []string{"safe", "risky", "invalid", "unknown"} {
		count, ok := s.ByReachability[reach]
		if !ok {
			continue
		}
		pct := 0.0
		if s.Total > 0 {
			pct = float64(count) / float64(s.Total) * 100
		}
		fmt.Fprintf(w, "  %s: %d (%.1f%%)\n", reach, count, pct)
	}
	fmt.Fprintf(w, "\nCatch-all domains: %d\n", s.CatchAllCount)
	fmt.Fprintf(w, "Disposable: %d\n", s.DisposableCount)
	if len(s.TopDomains) > 0 {
		fmt.Fprintf(w, "\nTop 20 domains:\n")
		for _, d := range s.TopDomains {
			fmt.Fprintf(w, "  %s: %d\n", d.Domain, d.Count)
		}
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "copy verified results from one store backend to another",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "from",
				Usage:    "source backend (embedded | postgres | redis | rest)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "destination backend (embedded | postgres | redis | rest)",
				Required: true,
			},
			&cli.IntFlag{Name: "batch-size", Value: 500, Usage: "rows per upsert batch"},
			&cli.IntFlag{Name: "limit", Usage: "max rows to migrate"},
		},
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading configuration: %v", err), 1)
	}
	from, to := c.String("from"), c.String("to")
	if from == to {
		return cli.Exit("source and destination backends must differ", 1)
	}
	batchSize := c.Int("batch-size")
	if batchSize <= 0 {
		batchSize = store.DefaultUpsertChunk
	}
	limit := c.Int("limit")

	ctx := context.Background()
	src, err := openStore(ctx, cfg, from)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening source %s: %v", from, err), 1)
	}
	defer src.Close()
	dst, err := openStore(ctx, cfg, to)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening destination %s: %v", to, err), 1)
	}
	defer dst.Close()

	migrated := 0
	offset := 0
	for {
		page := batchSize
		if limit > 0 && migrated+page > limit {
			page = limit - migrated
		}
		if page <= 0 {
			break
		}
		rows, err := src.Query(ctx, store.QuerySpec{OrderBy: "email", Limit: page, Offset: offset})
		if err != nil {
			return cli.Exit(fmt.Sprintf("reading source rows: %v", err), 1)
		}
		if len(rows) == 0 {
			break
		}
		offset += len(rows)

		results := make([]*models.VerificationResult, 0, len(rows))
		for _, row := range rows {
			if res := store.ResultFromRow(row); res != nil {
				results = append(results, res)
			}
		}
		if len(results) > 0 {
			if _, err := dst.UpsertBatch(ctx, results, batchSize); err != nil {
				return cli.Exit(fmt.Sprintf("upserting into %s: %v", to, err), 1)
			}
			migrated += len(results)
		}
		if migrated > 0 && migrated%(batchSize*10) == 0 {
			fmt.Printf("Migrated %d rows...\n", migrated)
		}
		if len(rows) < page {
			break
		}
	}

	fmt.Printf("Migration complete: %d rows upserted.\n", migrated)
	return nil
}
