package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/b24tools/b24extract/pkg/bitrix"
	"github.com/b24tools/b24extract/pkg/cache"
	"github.com/b24tools/b24extract/pkg/client"
	"github.com/b24tools/b24extract/pkg/logging"
	"github.com/b24tools/b24extract/pkg/paginate"
)

var (
	webhookURL string
	dealID     string
	dialogID   string
	findNumber string
	firstOnly  bool
	outputFile string
	format     string
	maxRetries int
	rateLimit  time.Duration
	timeout    time.Duration
	insecure   bool
	redisAddr  string
	debug      bool
	logFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "b24-export",
		Short: "Export deals and dialogue history from a Bitrix24 portal",
		Long: "Extracts deals, timeline dialogues, and chat message history " +
			"from a Bitrix24 REST webhook, filters out system noise, and " +
			"writes JSON or CSV reports.",
		Run: run,
	}

	rootCmd.Flags().StringVarP(&webhookURL, "webhook", "w", os.Getenv("B24_WEBHOOK_URL"), "Webhook URL including the auth token (or B24_WEBHOOK_URL)")
	rootCmd.Flags().StringVar(&dealID, "deal-id", "", "Export a single deal by ID")
	rootCmd.Flags().StringVar(&dialogID, "dialog-id", "", "Dump the message history of one chat dialog")
	rootCmd.Flags().StringVar(&findNumber, "find-number", "", "Find deals by a number in their ID or title")
	rootCmd.Flags().BoolVar(&firstOnly, "first-only", false, "Export only the oldest deal")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	rootCmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or csv")
	rootCmd.Flags().IntVar(&maxRetries, "max-retries", 5, "Retries per request after the first attempt")
	rootCmd.Flags().DurationVar(&rateLimit, "rate-limit", 500*time.Millisecond, "Minimum interval between requests")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for one HTTP attempt")
	rootCmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	rootCmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for response caching (e.g. localhost:6379)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Duplicate logs to this file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) {
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	if webhookURL == "" {
		red.Println("Error: webhook URL is required (--webhook or B24_WEBHOOK_URL)")
		os.Exit(1)
	}
	if format != "json" && format != "csv" {
		red.Printf("Error: unknown format %q (want json or csv)\n", format)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Pretty = true
	logCfg.File = logFile
	if debug {
		logCfg.Level = logging.LevelDebug
	}
	logging.Setup(logCfg)

	cfg := client.DefaultConfig(webhookURL)
	cfg.MaxRetries = maxRetries
	cfg.RateLimitDelay = rateLimit
	cfg.RequestTimeout = timeout
	cfg.VerifyTLS = !insecure

	if redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			red.Printf("Error: cannot reach Redis at %s: %v\n", redisAddr, err)
			os.Exit(1)
		}
		cfg.Cache = cache.NewManager(redisClient)
	}

	crm, err := client.New(cfg)
	if err != nil {
		red.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer crm.Close()

	// Interrupt finishes the current request and exports what was
	// collected so far.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extractor := bitrix.NewExtractor(crm)

	cyan.Println("Bitrix24 Deal Export")
	cyan.Println("====================")

	if dialogID != "" {
		runDialogDump(ctx, crm, extractor)
		return
	}

	deals, err := selectDeals(ctx, extractor)
	if err != nil && len(deals) == 0 {
		red.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err != nil {
		red.Printf("Warning: extraction incomplete: %v\n", err)
	}
	if len(deals) == 0 {
		fmt.Println("No deals found.")
		return
	}

	report := &bitrix.Report{
		GeneratedAt: time.Now().UTC(),
		Mode:        mode(),
	}

	for _, deal := range deals {
		if ctx.Err() != nil {
			red.Println("Interrupted, writing partial results")
			break
		}

		id, _ := deal.ID()
		printDeal(deal)

		records, err := extractor.DealDialogues(ctx, id)
		if err != nil {
			red.Printf("  dialogues for deal %s: %v\n", id, err)
		}
		messages := extractor.FilterMessages(records)
		for _, msg := range messages {
			fmt.Printf("  [%s] author %d: %s\n", msg.Created, msg.AuthorID, msg.Text)
		}

		report.Add(bitrix.DealResult{
			Deal:         deal,
			Messages:     messages,
			MessageCount: len(messages),
		})
	}
	report.Stats = crm.Stats()

	if err := writeReport(report, deals); err != nil {
		red.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	printStats(crm)
}

// selectDeals resolves the deal set for the chosen mode. On pagination
// errors the partial set is still returned alongside the error.
func selectDeals(ctx context.Context, extractor *bitrix.Extractor) ([]paginate.Record, error) {
	switch {
	case dealID != "":
		deal, err := extractor.DealByID(ctx, dealID)
		if err != nil || deal == nil {
			return nil, err
		}
		return []paginate.Record{deal}, nil
	case findNumber != "":
		return extractor.FindDealsByNumber(ctx, findNumber)
	case firstOnly:
		deal, err := extractor.FirstDeal(ctx)
		if err != nil || deal == nil {
			return nil, err
		}
		return []paginate.Record{deal}, nil
	default:
		return extractor.AllDeals(ctx)
	}
}

func mode() string {
	switch {
	case dealID != "":
		return "deal"
	case findNumber != "":
		return "find"
	case firstOnly:
		return "first"
	default:
		return "all"
	}
}

func runDialogDump(ctx context.Context, crm *client.Client, extractor *bitrix.Extractor) {
	red := color.New(color.FgRed)

	records, err := extractor.DialogMessages(ctx, dialogID)
	if err != nil && len(records) == 0 {
		red.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err != nil {
		red.Printf("Warning: history incomplete: %v\n", err)
	}

	messages := extractor.FilterMessages(records)
	fmt.Printf("Dialog %s: %d messages (%d raw)\n", dialogID, len(messages), len(records))
	for _, msg := range messages {
		fmt.Printf("  [%s] author %d: %s\n", msg.Created, msg.AuthorID, msg.Text)
	}

	if outputFile != "" {
		out, err := os.Create(outputFile)
		if err != nil {
			red.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer out.Close()

		if format == "csv" {
			err = bitrix.WriteMessagesCSV(out, messages)
		} else {
			report := &bitrix.Report{
				GeneratedAt: time.Now().UTC(),
				Mode:        "dialog",
				Stats:       crm.Stats(),
			}
			report.Add(bitrix.DealResult{Messages: messages, MessageCount: len(messages)})
			err = bitrix.WriteJSON(out, report)
		}
		if err != nil {
			red.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		color.New(color.FgGreen).Printf("Saved to %s\n", outputFile)
	}

	printStats(crm)
}

// writeReport saves the report. CSV mode writes the deals table to the
// output file and the messages next to it as <name>_messages.csv.
func writeReport(report *bitrix.Report, deals []paginate.Record) error {
	if outputFile == "" {
		if format == "csv" {
			return bitrix.WriteDealsCSV(os.Stdout, deals)
		}
		return bitrix.WriteJSON(os.Stdout, report)
	}

	out, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	if format == "json" {
		if err := bitrix.WriteJSON(out, report); err != nil {
			return err
		}
	} else {
		if err := bitrix.WriteDealsCSV(out, deals); err != nil {
			return err
		}

		var all []bitrix.Message
		for _, result := range report.Deals {
			all = append(all, result.Messages...)
		}
		if len(all) > 0 {
			ext := filepath.Ext(outputFile)
			msgFile := strings.TrimSuffix(outputFile, ext) + "_messages" + ext
			mf, err := os.Create(msgFile)
			if err != nil {
				return err
			}
			defer mf.Close()
			if err := bitrix.WriteMessagesCSV(mf, all); err != nil {
				return err
			}
		}
	}

	color.New(color.FgGreen).Printf("Saved to %s\n", outputFile)
	return nil
}

func printDeal(deal paginate.Record) {
	id, _ := deal.ID()
	title, _ := deal["TITLE"].(string)
	stage, _ := deal["STAGE_ID"].(string)

	color.New(color.FgYellow).Printf("\nDeal %s\n", id)
	if title != "" {
		fmt.Printf("  Title: %s\n", title)
	}
	if stage != "" {
		fmt.Printf("  Stage: %s\n", stage)
	}
}

func printStats(crm *client.Client) {
	s := crm.Stats()
	cyan := color.New(color.FgCyan)
	cyan.Println("\nAPI statistics")
	fmt.Printf("  Requests:   %d\n", s.TotalRequests)
	fmt.Printf("  Successful: %d\n", s.SuccessfulRequests)
	fmt.Printf("  Failed:     %d\n", s.FailedRequests)
	fmt.Printf("  Retries:    %d\n", s.RetryAttempts)
	fmt.Printf("  Success:    %.1f%%\n", s.SuccessRate())
	if !s.StartTime.IsZero() {
		fmt.Printf("  Elapsed:    %s\n", time.Since(s.StartTime).Round(time.Second))
	}
}
