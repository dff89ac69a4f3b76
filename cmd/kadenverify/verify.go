package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
	"github.com/kadenwood/kadenverify/internal/store"
	"github.com/kadenwood/kadenverify/internal/validator"
)

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "verify a single email address",
		ArgsUsage: "EMAIL",
		Flags: append(smtpFlags(),
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "human-readable output instead of JSON",
			},
		),
		Action: runVerify,
	}
}

func runVerify(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: kadenverify verify EMAIL", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading configuration: %v", err), 1)
	}
	verifier, _, _, _, err := buildPipeline(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	res := verifier.Verify(context.Background(), c.Args().First())
	if c.Bool("pretty") {
		printResult(os.Stdout, res)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.ToOmni())
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "verify addresses from a file, one per line, and print JSON lines",
		Flags: append(smtpFlags(),
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "input file with one email per line",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "write results here instead of stdout",
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "max concurrent SMTP dialogues",
				Value:   validator.DefaultBatchConcurrency,
			},
		),
		Action: runBatch,
	}
}

func runBatch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading configuration: %v", err), 1)
	}
	path := c.String("file")
	emails, err := readEmailFile(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading %s: %v", path, err), 1)
	}
	if len(emails) == 0 {
		return cli.Exit("no emails found in file", 1)
	}

	verifier, _, _, _, err := buildPipeline(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if n := c.Int("concurrency"); n > 0 {
		verifier.MaxConcurrency = n
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, "")
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening store: %v", err), 1)
	}
	defer st.Close()

	runID := uuid.NewString()
	logger.Info("batch verification started",
		"run_id", runID, "emails", len(emails), "concurrency", verifier.MaxConcurrency)
	fmt.Fprintf(os.Stderr, "Verifying %d emails (concurrency=%d)...\n",
		len(emails), verifier.MaxConcurrency)

	// Serve what the store already knows, verify only the misses, then
	// reassemble in input order.
	ttl := cfg.CacheTTL()
	if ttl <= 0 {
		ttl = validator.DefaultCacheTTL
	}
	results := make([]*models.VerificationResult, len(emails))
	var missIdx []int
	var misses []string
	for i, email := range emails {
		if cfg.Verify.Tiered {
			if hit := freshLookup(ctx, st, email, ttl); hit != nil {
				results[i] = hit
				continue
			}
		}
		missIdx = append(missIdx, i)
		misses = append(misses, email)
	}

	if len(misses) > 0 {
		fresh := verifier.VerifyBatch(ctx, misses)
		for j, res := range fresh {
			results[missIdx[j]] = res
		}
		if n, err := st.UpsertBatch(ctx, fresh, store.DefaultUpsertChunk); err != nil {
			logger.Error("persisting batch results", "run_id", runID, "error", err.Error())
		} else {
			logger.Info("batch results persisted", "run_id", runID, "rows", n)
		}
	}
	logger.Info("batch verification finished",
		"run_id", runID, "cached", len(emails)-len(misses), "verified", len(misses))

	out := io.Writer(os.Stdout)
	if dest := c.String("output"); dest != "" {
		f, err := os.Create(dest)
		if err != nil {
			return cli.Exit(fmt.Sprintf("creating %s: %v", dest, err), 1)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	for _, res := range results {
		if err := enc.Encode(res.ToOmni()); err != nil {
			return cli.Exit(fmt.Sprintf("writing results: %v", err), 1)
		}
	}
	if dest := c.String("output"); dest != "" {
		fmt.Fprintf(os.Stderr, "Results written to %s\n", dest)
	}
	printSummary(os.Stderr, results)
	return nil
}

// readEmailFile reads one address per line, skipping blanks, comments and
// lines without an @.
func readEmailFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var emails []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "@") {
			continue
		}
		emails = append(emails, line)
	}
	return emails, sc.Err()
}

// freshLookup returns the stored result for email when one exists and is
// younger than ttl. Store errors count as misses.
func freshLookup(ctx context.Context, st store.Store, email string, ttl time.Duration) *models.VerificationResult {
	res, err := st.Lookup(ctx, email)
	if err != nil || res == nil {
		return nil
	}
	if res.VerifiedAt.IsZero() || time.Since(res.VerifiedAt.UTC()) >= ttl {
		return nil
	}
	return res
}

func printResult(w io.Writer, res *models.VerificationResult) {
	fmt.Fprintf(w, "\n%s %s\n", reachabilityIcon(res.Reachability), res.Email)
	fmt.Fprintf(w, "  Reachability: %s\n", res.Reachability)
	fmt.Fprintf(w, "  Deliverable:  %s\n", triState(res.IsDeliverable))
	fmt.Fprintf(w, "  Provider:     %s\n", res.Provider)
	fmt.Fprintf(w, "  MX Host:      %s\n", res.MxHost)
	fmt.Fprintf(w, "  SMTP Code:    %d\n", res.SmtpCode)

	var flags []string
	if res.CatchAll() {
		flags = append(flags, "catch-all")
	}
	if res.IsDisposable {
		flags = append(flags, "disposable")
	}
	if res.IsRole {
		flags = append(flags, "role")
	}
	if res.IsFree {
		flags = append(flags, "free")
	}
	if len(flags) > 0 {
		fmt.Fprintf(w, "  Flags:        %s\n", strings.Join(flags, ", "))
	}
	if res.Error != "" {
		fmt.Fprintf(w, "  Error:        %s\n", res.Error)
	}
}

func printSummary(w io.Writer, results []*models.VerificationResult) {
	counts := make(map[models.Reachability]int, 4)
	for _, res := range results {
		counts[res.Reachability]++
	}
	fmt.Fprintf(w, "\nSummary (%d emails):\n", len(results))
	order := []models.Reachability{
		models.ReachabilitySafe,
		models.ReachabilityRisky,
		models.ReachabilityInvalid,
		models.ReachabilityUnknown,
	}
	for _, reach := range order {
		n := counts[reach]
		pct := 0.0
		if len(results) > 0 {
			pct = float64(n) / float64(len(results)) * 100
		}
		fmt.Fprintf(w, "  %s: %d (%.1f%%)\n", reach, n, pct)
	}
}

func reachabilityIcon(r models.Reachability) string {
	switch r {
	case models.ReachabilitySafe:
		return "✓"
	case models.ReachabilityRisky:
		return "~"
	case models.ReachabilityInvalid:
		return "✗"
	default:
		return "?"
	}
}

func triState(v *bool) string {
	if v == nil {
		return "unknown"
	}
	return strconv.FormatBool(*v)
}
