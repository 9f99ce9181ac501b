package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/mlafeldt/xkcd-vk/config"
	"github.com/mlafeldt/xkcd-vk/publisher"
)

func main() {
	envFile := flag.String("env-file", ".env", "file to load environment variables from")
	dryRun := flag.Bool("n", false, "download the comic but do not post it")
	flag.Parse()

	// An optional argument selects the comic instead of a random one.
	var num int
	if flag.NArg() > 0 {
		n, err := strconv.Atoi(flag.Arg(0))
		if err != nil || n < 1 {
			log.Fatalf("invalid comic number %q", flag.Arg(0))
		}
		num = n
	}

	if *dryRun {
		os.Setenv("DRY_RUN", "true")
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("[DEBUG] config = %s", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, num); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, num int) error {
	p, release, err := publisher.New(ctx, cfg)
	defer release()
	if err != nil {
		return err
	}

	res, err := p.Run(ctx, num)
	if err != nil {
		return err
	}

	log.Printf("[INFO] Done: comic %d (%s), run %s", res.Comic.Num, res.Comic.StripURL, res.RunID)
	return nil
}
