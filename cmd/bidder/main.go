// Command bidder is a headless CLI client for the auction service. It
// reads bid amounts from stdin (one per line) and prints each
// confirmation/result as it arrives; it carries none of the HTML/JS
// auction UI the teacher's ui.go served, which spec.md §1 places
// explicitly out of scope.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"auctionring/client"
	"auctionring/internal/telemetry/logging"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "bidder <host:port> [host:port...]",
		Short: "Connect to the auction ring and submit bids from stdin",
		Long:  "Dials the first reachable candidate server, then reads bid amounts one per line from stdin and prints each confirmation. A blank line or EOF stops reading bids; the command then waits for the auction's final result and prints it.",
		Args:  cobra.MinimumNArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logging.Config{Level: logLevel, Format: "console"})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBidder(args)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	return cmd
}

func runBidder(candidates []string) error {
	cl := client.New(candidates, logging.Client())
	cl.OnInicio = func(secs int64) {
		fmt.Printf("auction started, %ds remaining\n", secs)
	}
	cl.OnSync = func(c client.Confirmation) {
		fmt.Printf("sync: current high bid %.2f held by %s, %ds left\n", c.Bid, c.Addr, c.SecsLeft)
	}

	if err := cl.Connect(0); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Println("connected; enter bid amounts, one per line (blank line to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		amount, err := strconv.ParseFloat(line, 64)
		if err != nil {
			fmt.Printf("not a number: %q\n", line)
			continue
		}
		conf, err := cl.Bid(amount)
		if err != nil {
			fmt.Printf("bid rejected: %v\n", err)
			continue
		}
		status := "SIGUIENDO"
		if conf.IsLeader {
			status = "LIDER"
		}
		fmt.Printf("confirmed: high bid %.2f (%s), %ds left\n", conf.Bid, status, conf.SecsLeft)
	}

	if result, ok := cl.AwaitResult(24 * time.Hour); ok {
		fmt.Printf("auction closed: winner %s at %.2f\n", result.WinnerAddr, result.WinnerBid)
	}
	return nil
}
