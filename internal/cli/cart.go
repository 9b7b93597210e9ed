package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ticker-storefront/internal/app"
	"ticker-storefront/internal/cart"
	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
	"ticker-storefront/pkg/utils"
)

// addCartCommands adds cart and checkout commands.
func addCartCommands(rootCmd *cobra.Command, a *App) {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Manage the cart",
		Long:  "Add, change and remove cart lines. The cart is saved locally and restored on the next run.",
	}
	cmd.AddCommand(newCartListCmd(a))
	cmd.AddCommand(newCartAddCmd(a))
	cmd.AddCommand(newCartUpdateCmd(a))
	cmd.AddCommand(newCartRemoveCmd(a))
	cmd.AddCommand(newCartClearCmd(a))
	cmd.AddCommand(newCheckoutCmd(a))
	rootCmd.AddCommand(cmd)
	rootCmd.AddCommand(newCheckoutCmd(a))
}

var cartColumns = []Column{
	{Key: "id", Label: "ID", Align: AlignRight},
	{Key: "ticker", Label: "Ticker"},
	{Key: "sellprice", Label: "Price", Align: AlignRight, Format: formatCurrency},
	{Key: "quantity", Label: "Qty", Align: AlignRight, Format: formatQuantity},
	{Key: "total", Label: "Total", Align: AlignRight, Format: formatCurrency},
}

type cartView struct {
	Items []models.CartLineItem `json:"items"`
	Total float64               `json:"total"`
}

func showCart(cmd *cobra.Command, output *Output, items []models.CartLineItem) error {
	if output.IsJSON() {
		return output.JSON(cartView{Items: items, Total: models.CartTotal(items)})
	}
	if len(items) == 0 {
		output.Dim("Cart is empty")
		return nil
	}
	grid := NewGrid(cartColumns...)
	for _, it := range items {
		grid.AddRow(models.Row{
			"id":        int64(it.ID),
			"ticker":    it.Ticker,
			"sellprice": it.SellPrice,
			"quantity":  int64(it.Quantity),
			"total":     cart.LineTotal(it),
		})
	}
	if err := renderGrid(cmd, output, grid); err != nil {
		return err
	}
	output.Bold("Total: %s", utils.FormatIndianCurrency(models.CartTotal(items)))
	return nil
}

// flushCart waits for queued cart writes before the process exits.
func flushCart(ctx context.Context, output *Output, st *app.App) {
	if err := st.Cart.Flush(ctx); err != nil {
		output.Warning("Cart changes may not be saved: %v", err)
		return
	}
	if s := st.Cart.Stats(); s.Failed > 0 {
		output.Warning("%d cart write(s) failed: %s", s.Failed, s.LastError)
	}
}

func newCartListCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"show"},
		Short:   "Show cart lines and totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}
			return showCart(cmd, NewOutput(cmd), st.Cart.CurrentCart())
		},
	}
	addGridFlags(cmd)
	return cmd
}

func newCartAddCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a ticker to the cart",
		Long: `Add a ticker to the cart by id. Adding a ticker already in the cart
increases its quantity by one.

The ticker is looked up on the given page of the ticker list.`,
		Example: `  storefront cart add 42
  storefront cart add 42 --page 3`,
		Args: cobra.ExactArgs(1),
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

			list := st.NewList()
			defer list.Close()
			page, _ := cmd.Flags().GetInt("page")
			if page < 1 {
				return apperrors.NewValidationError("page", page, "must be at least 1")
			}
			list.SetSkip((page - 1) * list.Query().Limit)
			if err := list.Load(cmd.Context()); err != nil {
				return fmt.Errorf("looking up ticker %d: %w", id, err)
			}

			var quote *models.QuoteRecord
			for _, q := range list.Window() {
				if q.ID == id {
					q := q
					quote = &q
					break
				}
			}
			if quote == nil {
				return fmt.Errorf("ticker %d not on page %d: %w", id, page, apperrors.ErrNotFound)
			}

			items := st.Cart.AddToCart(models.CartItemFromQuote(*quote))
			flushCart(cmd.Context(), output, st)
			if !output.IsJSON() {
				output.Success("✓ Added %s", quote.Ticker)
			}
			return showCart(cmd, output, items)
		},
	}
	cmd.Flags().Int("page", 1, "ticker list page to look the id up on")
	addGridFlags(cmd)
	return cmd
}

func newCartUpdateCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id> <quantity>",
		Short: "Set the quantity of a cart line",
		Long: `Set the quantity of a cart line.

Quantities below 1 are raised to 1. Use 'storefront cart remove' to drop a line.`,
		Example: `  storefront cart update 42 3
  storefront cart update 42 -- -1   # clamped to 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return apperrors.NewValidationError("quantity", args[1], "must be an integer")
			}
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}
			if !st.Cart.Contains(id) {
				return fmt.Errorf("ticker %d is not in the cart: %w", id, apperrors.ErrNotFound)
			}

			if qty < 1 {
				output.Warning("Quantity %d raised to 1", qty)
				qty = 1
			}
			items, err := st.Cart.UpdateQuantity(id, qty)
			if err != nil {
				return err
			}
			flushCart(cmd.Context(), output, st)
			return showCart(cmd, output, items)
		},
	}
	addGridFlags(cmd)
	return cmd
}

func newCartRemoveCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a line from the cart",
		Args:    cobra.ExactArgs(1),
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
			items := st.Cart.RemoveFromCart(id)
			flushCart(cmd.Context(), output, st)
			return showCart(cmd, output, items)
		},
	}
	addGridFlags(cmd)
	return cmd
}

func newCartClearCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every line from the cart",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}
			st.Cart.ClearCart()
			flushCart(cmd.Context(), output, st)
			if output.IsJSON() {
				return output.JSON(cartView{Items: []models.CartLineItem{}})
			}
			output.Success("✓ Cart cleared")
			return nil
		},
	}
}

func newCheckoutCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place an order for the cart",
		Long:  "Place an order for every cart line. Requires login. The cart is cleared once the order is accepted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}

			yes, _ := cmd.Flags().GetBool("yes")
			if !yes && !output.IsJSON() {
				if err := showCart(cmd, output, st.Cart.CurrentCart()); err != nil {
					return err
				}
				output.Warning("Run again with --yes to place this order")
				return nil
			}

			receipt, err := st.Checkout.Checkout(cmd.Context())
			switch {
			case apperrors.Is(err, apperrors.ErrNotAuthenticated):
				output.Error("Please log in first: storefront login")
				return err
			case apperrors.Is(err, apperrors.ErrEmptyCart):
				output.Warning("Cart is empty")
				return err
			case err != nil:
				output.Error("Purchase failed, your cart was kept")
				return err
			}
			flushCart(cmd.Context(), output, st)

			if output.IsJSON() {
				return output.JSON(receipt)
			}
			output.Success("✓ Purchase done successfully! %d line(s), %s", len(receipt.Lines), utils.FormatIndianCurrency(receipt.Total))
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "place the order without the preview")
	addGridFlags(cmd)
	return cmd
}
