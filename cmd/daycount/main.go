package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/aggregation"
	"github.com/smukkama/water-risk/internal/app"
	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/logging"
	"github.com/smukkama/water-risk/internal/season"
	"github.com/smukkama/water-risk/pkg/config"
)

// daycount prints how many hourly records each site holds for a local date.
func main() {
	date := flag.String("date", "", "local date YYYY-MM-DD (default today)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, db, err := app.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	cal := season.NewCalendar(cfg.Monitoring.Location, nil)
	if *date == "" {
		*date = cal.Today()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	counts, err := aggregation.CountHourly(ctx, store, database.NewPaths(cfg.Monitoring.StoreRoot), cal, cfg.Monitoring.Sites, *date)
	if err != nil {
		logger.Error("count failed", zap.String("date", *date), zap.Error(err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SITE\tHOURLY RECORDS (%s)\n", *date)
	total := 0
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\n", c.SiteID, c.Count)
		total += c.Count
	}
	fmt.Fprintf(w, "TOTAL\t%d\n", total)
	w.Flush()

	if err != nil {
		os.Exit(1)
	}
}
