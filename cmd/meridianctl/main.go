// Command meridianctl offers operational helpers for the audit task queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/meridian-his/meridian-his/cmd/meridianctl/cli"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	queues := cli.NewQueueCLI(*redisAddr)
	defer queues.Close()

	ctx := context.Background()
	if err := run(ctx, queues, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "meridianctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, queues *cli.QueueCLI, command string) error {
	switch command {
	case "stats":
		stats, err := queues.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return nil
	case "retry-list":
		tasks, err := queues.ListRetry(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s type=%s retried=%d last_err=%q\n", t.ID, t.Type, t.Retried, t.LastErr)
		}
		return nil
	case "requeue-archived":
		n, err := queues.RequeueArchived(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("requeued %d archived tasks\n", n)
		return nil
	case "purge-archived":
		n, err := queues.PurgeArchived(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d archived tasks\n", n)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: meridianctl [-redis addr] <command>

Commands:
  stats             show counts for the audit queue
  retry-list        list tasks awaiting retry
  requeue-archived  replay archived tasks after an outage
  purge-archived    delete archived tasks permanently
`)
	flag.PrintDefaults()
}
