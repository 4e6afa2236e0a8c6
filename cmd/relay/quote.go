package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mtzanidakis/relay/internal/market"
	"github.com/spf13/cobra"
)

var (
	quoteWatch  bool
	quoteWindow time.Duration
)

var quoteCmd = &cobra.Command{
	Use:   "quote <query>",
	Short: "Look up the market quote of an instrument",
	Long: `Resolve an instrument from free text such as "price of INFY on BSE" and
print its quote. With --watch the quote is polled until the window ends.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		query := strings.Join(args, " ")
		symbol, exchange, ok := market.ParseSymbol(query)
		if !ok {
			return fmt.Errorf("no instrument found in %q", query)
		}

		src := newQuoteSource(cfg.Quotes)
		w := cmd.OutOrStdout()
		if !quoteWatch {
			q, err := src.Quote(cmd.Context(), symbol, exchange)
			if err != nil {
				return err
			}
			printQuote(w, q)
			return nil
		}

		window := quoteWindow
		if window <= 0 {
			window = cfg.Quotes.Window
		}
		poller := market.NewPoller(src, cfg.Quotes.Interval)
		n, err := poller.Stream(cmd.Context(), symbol, exchange, window, func(q market.Quote) {
			printQuote(w, q)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintf(w, "%d quotes received for %s\n", n, market.InstrumentKey(symbol, exchange))
		return nil
	},
}

func init() {
	quoteCmd.Flags().BoolVarP(&quoteWatch, "watch", "w", false, "poll the quote until the window ends")
	quoteCmd.Flags().DurationVar(&quoteWindow, "window", 0, "watch window (default quotes.window)")
}

func printQuote(w io.Writer, q market.Quote) {
	fmt.Fprintf(w, "%s  %.2f  (%+.2f)  O %.2f H %.2f L %.2f C %.2f  vol %d  %s\n",
		market.InstrumentKey(q.Symbol, q.Exchange), q.LastPrice, q.NetChange,
		q.OHLC.Open, q.OHLC.High, q.OHLC.Low, q.OHLC.Close, q.Volume,
		q.Timestamp.Local().Format(time.TimeOnly))
}
