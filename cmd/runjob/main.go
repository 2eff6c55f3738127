// Command runjob invokes one pipeline job and exits, for cron and scheduler triggers.
//
//	runjob -job price-monitor
//	runjob -job ingest-products -body '{"urls":["https://www.amazon.com.br/dp/B0ABCDEF12"]}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"affiliate-pipeline/config"
	"affiliate-pipeline/internal/app"
	"affiliate-pipeline/internal/service"
	"affiliate-pipeline/internal/util"
)

func main() {
	job := flag.String("job", "", "job to run: "+strings.Join(service.JobNames(), ", "))
	body := flag.String("body", "", "optional JSON body passed to the job")
	flag.Parse()

	if *job == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	res, runErr := application.Pipeline.RunJob(ctx, *job, []byte(*body))
	application.Close()

	if res != nil {
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
	}

	switch {
	case errors.Is(runErr, service.ErrJobAlreadyRunning):
		log.Printf("%s skipped: %v", *job, runErr)
	case runErr != nil:
		util.SyncLogger()
		log.Fatalf("%s failed: %v", *job, runErr)
	}
}
