package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kadenwood/kadenverify/internal/finder"
	"github.com/kadenwood/kadenverify/internal/models"
)

func findCommand() *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "find a contact's email address from name and domain",
		Flags: append(smtpFlags(),
			&cli.StringFlag{Name: "first", Usage: "first name", Required: true},
			&cli.StringFlag{Name: "last", Usage: "last name", Required: true},
			&cli.StringFlag{Name: "domain", Usage: "company domain", Required: true},
			&cli.StringFlag{Name: "company", Usage: "company name"},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON"},
		),
		Action: runFind,
	}
}

func runFind(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading configuration: %v", err), 1)
	}
	_, resolver, client, intel, err := buildPipeline(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	chain, scorer, closeEnrich, err := buildEnrichment(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer closeEnrich()

	f := finder.New(resolver, client, intel)
	f.Scorer = scorer
	if chain != nil {
		f.Chain = chain
	}
	if n := cfg.Verify.FinderConcurrency; n > 0 {
		f.Concurrency = n
	}

	first, last, domain := c.String("first"), c.String("last"), c.String("domain")
	res := f.Find(context.Background(), first, last, domain, c.String("company"))

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printFinderResult(os.Stdout, first, last, domain, res)
	return nil
}

func printFinderResult(w io.Writer, first, last, domain string, res models.FinderResult) {
	if res.Email == "" {
		fmt.Fprintf(w, "\n✗ No email found for %s %s @ %s\n", first, last, domain)
		if res.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", res.Error)
		}
		fmt.Fprintf(w, "  Candidates tried: %d\n", res.CandidatesTried)
		return
	}

	fmt.Fprintf(w, "\n%s %s\n", reachabilityIcon(res.Reachability), res.Email)
	fmt.Fprintf(w, "  Confidence:  %.2f\n", res.Confidence)
	fmt.Fprintf(w, "  Method:      %s\n", res.Method)
	fmt.Fprintf(w, "  Reachability: %s\n", res.Reachability)
	fmt.Fprintf(w, "  Provider:    %s\n", res.Provider)
	fmt.Fprintf(w, "  Catch-all:   %s\n", triState(res.DomainIsCatchall))
	fmt.Fprintf(w, "  Candidates:  %d\n", res.CandidatesTried)
	if res.Cost > 0 {
		fmt.Fprintf(w, "  Cost:        $%.4f\n", res.Cost)
	}
}
