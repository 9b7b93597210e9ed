package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/feed"
	"ticker-storefront/internal/logging"
	"ticker-storefront/internal/models"
	"ticker-storefront/internal/resilience"
	"ticker-storefront/pkg/utils"
)

// addTickerCommands adds market data commands.
func addTickerCommands(rootCmd *cobra.Command, a *App) {
	rootCmd.AddCommand(newTickersCmd(a))
	rootCmd.AddCommand(newWatchCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newOHLCCmd(a))
}

var quoteColumns = []Column{
	{Key: "id", Label: "ID", Align: AlignRight},
	{Key: "ticker", Label: "Ticker"},
	{Key: "sellqty", Label: "Sell Qty", Align: AlignRight, Format: formatQuantity},
	{Key: "sellprice", Label: "Sell Price", Align: AlignRight, Format: formatPrice},
	{Key: "ltp", Label: "LTP", Align: AlignRight, Format: formatPrice},
	{Key: "ltq", Label: "LTQ", Align: AlignRight, Format: formatQuantity},
	{Key: "latest_timestamp", Label: "Updated"},
	{Key: "cart", Label: "Cart"},
}

var historyColumns = []Column{
	{Key: "ltp", Label: "LTP", Align: AlignRight, Format: formatPrice},
	{Key: "sellprice", Label: "Sell Price", Align: AlignRight, Format: formatPrice},
	{Key: "sellqty", Label: "Sell Qty", Align: AlignRight},
	{Key: "ltq", Label: "LTQ", Align: AlignRight},
	{Key: "date", Label: "Date"},
	{Key: "time", Label: "Time"},
}

// quoteRow flattens a quote for the grid. inCart marks lines already in
// the cart.
func quoteRow(q models.QuoteRecord, inCart bool) models.Row {
	cart := "add"
	if inCart {
		cart = "✓ in cart"
	}
	return models.Row{
		"id":               int64(q.ID),
		"ticker":           q.Ticker,
		"sellqty":          q.SellQty,
		"sellprice":        q.SellPrice,
		"ltp":              q.LTP,
		"ltq":              q.LTQ,
		"dates":            q.Dates,
		"latest_timestamp": q.LatestTimestamp,
		"cart":             cart,
	}
}

func newTickersCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tickers",
		Aliases: []string{"list"},
		Short:   "List tickers page by page",
		Example: `  storefront tickers
  storefront tickers --page 2 --search inf
  storefront tickers --start 01-02-2024 --end 29-02-2024 --csv feb.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}

			list := st.NewList()
			defer list.Close()
			if err := applyListFlags(cmd, list); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.Config.API.Timeout+5*time.Second)
			defer cancel()
			if err := list.Load(ctx); err != nil {
				// The list degrades to empty; show why.
				output.Error("Could not load tickers: %v", err)
			}

			view := list.View()
			if output.IsJSON() {
				return output.JSON(view)
			}
			renderQuotes(cmd, output, view, st.Cart.Contains)
			return nil
		},
	}

	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().String("search", "", "case-insensitive ticker filter")
	cmd.Flags().String("start", "", "start date (dd-mm-yyyy)")
	cmd.Flags().String("end", "", "end date (dd-mm-yyyy)")
	addGridFlags(cmd)
	return cmd
}

func applyListFlags(cmd *cobra.Command, list *feed.List) error {
	page, _ := cmd.Flags().GetInt("page")
	if page < 1 {
		return apperrors.NewValidationError("page", page, "must be at least 1")
	}
	list.SetSkip((page - 1) * list.Query().Limit)

	search, _ := cmd.Flags().GetString("search")
	list.SetSearch(search)

	if s, _ := cmd.Flags().GetString("start"); s != "" {
		t, err := utils.ParseDate(s)
		if err != nil {
			return err
		}
		if err := list.SetStartDate(t); err != nil {
			return err
		}
	}
	if s, _ := cmd.Flags().GetString("end"); s != "" {
		t, err := utils.ParseDate(s)
		if err != nil {
			return err
		}
		if err := list.SetEndDate(t); err != nil {
			return err
		}
	}
	return nil
}

func renderQuotes(cmd *cobra.Command, output *Output, view feed.View, inCart func(models.InstrumentID) bool) {
	grid := NewGrid(quoteColumns...)
	for _, q := range view.Rows {
		grid.AddRow(quoteRow(q, inCart(q.ID)))
	}
	if err := renderGrid(cmd, output, grid); err != nil {
		output.Error("%v", err)
	}
	output.Dim("Page %d of %d (%d tickers)", view.Page, view.Pages, view.Total)
}

func newWatchCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the first page of tickers update live",
		Long: `Load the first ticker page and keep it current from the push channel.

Updates are merged into the page as they arrive. The connection is retried
a fixed number of times; press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			st, err := a.State(ctx)
			if err != nil {
				return err
			}
			live := st.NewLive()
			keepTrying, _ := cmd.Flags().GetBool("keep-trying")
			search, _ := cmd.Flags().GetString("search")
			live.List.SetSearch(search)

			views, cancel := live.List.Subscribe()
			defer cancel()
			statuses, cancelStatus := live.Conn.Subscribe()
			defer cancelStatus()

			if err := live.List.Load(ctx); err != nil {
				output.Error("Could not load tickers: %v", err)
			}
			live.Start()

			for {
				select {
				case <-ctx.Done():
					ctxLogger := logging.FromContext(ctx)
					ctxLogger.Info().
						Int("dials", live.Conn.Dials()).
						Uint64("updates", live.Reconciler.Stats().Applied).
						Msg("Watch stopped")
					return nil
				case s, ok := <-statuses:
					if !ok {
						return nil
					}
					if output.IsJSON() {
						output.JSON(map[string]any{"status": s})
						continue
					}
					output.Println(output.ConnectionStatus(s))
					if live.Conn.State() == resilience.StateTerminal {
						output.Warning("Live updates stopped after %d reconnect attempts", a.Config.Feed.MaxReconnects)
						if keepTrying {
							output.Info("Starting a new round of reconnects")
							live.Conn.Restart()
						}
					}
				case v, ok := <-views:
					if !ok {
						return nil
					}
					if output.IsJSON() {
						output.JSON(v)
						continue
					}
					output.Println()
					output.Bold("%s  %s", time.Now().Format("15:04:05"), output.ConnectionStatus(live.Status()))
					renderQuotes(cmd, output, v, st.Cart.Contains)
				}
			}
		},
	}
	cmd.Flags().String("search", "", "case-insensitive ticker filter")
	cmd.Flags().Bool("keep-trying", false, "start over when reconnects are exhausted")
	addGridFlags(cmd)
	return cmd
}

func newHistoryCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the trade history of a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}

			page, _ := cmd.Flags().GetInt("page")
			limit, _ := cmd.Flags().GetInt("limit")
			interval, _ := cmd.Flags().GetInt("interval")
			if page < 1 || limit < 1 {
				return apperrors.NewValidationError("page", page, "page and limit must be positive")
			}

			hist, err := st.API.TickerHistory(cmd.Context(), id, (page-1)*limit, limit, interval)
			if err != nil {
				output.Error("Could not load history: %v", err)
				hist = &models.TickerHistory{}
			}
			if output.IsJSON() {
				return output.JSON(hist)
			}

			if hist.Ticker != "" {
				output.Bold("%s", hist.Ticker)
			}
			grid := NewGrid(historyColumns...)
			for _, o := range hist.Orders {
				grid.AddRow(models.Row{
					"ltp":       o.LTP,
					"sellprice": o.SellPrice,
					"sellqty":   o.SellQty,
					"ltq":       o.LTQ,
					"date":      o.Date,
					"time":      o.Time,
				})
			}
			if err := renderGrid(cmd, output, grid); err != nil {
				return err
			}
			output.Dim("Page %d of %d (%d trades)", page, (hist.Total+limit-1)/limit, hist.Total)
			return nil
		},
	}
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("limit", feed.DefaultLimit, "rows per page")
	cmd.Flags().Int("interval", 0, "aggregation interval (1-1000, 0 for raw trades)")
	addGridFlags(cmd)
	return cmd
}

func newOHLCCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ohlc <ticker>",
		Short: "Show the open/high/low/close summary of a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := st.API.OHLC(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(rows)
			}
			if len(rows) == 0 {
				output.Warning("No summary for %s", args[0])
				return nil
			}
			output.Bold("%s", args[0])
			for _, c := range ColumnsFromRows(rows[:1]) {
				output.Printf("  %-14s %s\n", c.Label+":", formatCell(rows[0][c.Key]))
			}
			return nil
		},
	}
}

// addGridFlags adds the shared table flags.
func addGridFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("columns", nil, "columns to show (comma separated keys)")
	cmd.Flags().String("sort", "", "column key to sort by")
	cmd.Flags().Bool("desc", false, "sort descending")
	cmd.Flags().String("csv", "", "also export the table to a CSV file")
}

// renderGrid applies the shared table flags, renders the grid and writes the
// CSV export when requested.
func renderGrid(cmd *cobra.Command, output *Output, grid *Grid) error {
	cols, _ := cmd.Flags().GetStringSlice("columns")
	grid.Only(cols)
	if key, _ := cmd.Flags().GetString("sort"); key != "" {
		desc, _ := cmd.Flags().GetBool("desc")
		grid.SortBy(key, !desc)
	}

	if grid.Len() == 0 {
		output.Dim("No data")
	} else {
		grid.Render(output)
	}

	path, _ := cmd.Flags().GetString("csv")
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := grid.WriteCSV(f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	output.Success("✓ Exported %d rows to %s", grid.Len(), path)
	return nil
}

func parseID(s string) (models.InstrumentID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError("id", s, "must be an integer")
	}
	return models.InstrumentID(id), nil
}
