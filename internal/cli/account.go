package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ticker-storefront/internal/app"
	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/feed"
	"ticker-storefront/internal/models"
	"ticker-storefront/internal/security"
)

// addAccountCommands adds authentication and account history commands.
func addAccountCommands(rootCmd *cobra.Command, a *App) {
	rootCmd.AddCommand(newLoginCmd(a))
	rootCmd.AddCommand(newSignupCmd(a))
	rootCmd.AddCommand(newLogoutCmd(a))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newAccountPageCmd(a, ordersPage))
	rootCmd.AddCommand(newAccountPageCmd(a, qualityChecksPage))
	rootCmd.AddCommand(newAccountPageCmd(a, portfolioPage))
}

// promptCredentials fills missing flags from stdin.
func promptCredentials(cmd *cobra.Command, in io.Reader) (models.Credentials, error) {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")

	reader := bufio.NewReader(in)
	out := cmd.OutOrStdout()
	if email == "" {
		fmt.Fprint(out, "Email: ")
		line, _ := reader.ReadString('\n')
		email = strings.TrimSpace(line)
	}
	if password == "" {
		fmt.Fprint(out, "Password: ")
		line, _ := reader.ReadString('\n')
		password = strings.TrimRight(line, "\r\n")
	}

	creds := models.Credentials{Email: strings.TrimSpace(email), Password: password}
	if err := security.ValidateCredentials(creds.Email, creds.Password); err != nil {
		return creds, apperrors.NewValidationError("credentials", security.MaskCredential(creds.Email), err.Error())
	}
	return creds, nil
}

func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().String("email", "", "account email (prompted when empty)")
	cmd.Flags().String("password", "", "account password (prompted when empty)")
}

func newLoginCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the storefront",
		Long: `Log in with email and password.

The session is saved locally and shared with other running instances, so
logging in here logs in every open client.`,
		Example: `  storefront login
  storefront login --email me@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}
			if st.Session.IsLoggedIn() {
				output.Info("Already logged in")
				return showSession(output, st)
			}

			creds, err := promptCredentials(cmd, os.Stdin)
			if err != nil {
				return err
			}
			token, err := st.API.Login(cmd.Context(), creds)
			if err != nil {
				output.Error("Login failed")
				return err
			}
			if err := st.Session.Login(cmd.Context(), token); err != nil {
				return err
			}
			if !output.IsJSON() {
				output.Success("✓ Logged in as %s", creds.Email)
			}
			return showSession(output, st)
		},
	}
	addCredentialFlags(cmd)
	return cmd
}

func newSignupCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a storefront account",
		Long:  "Create an account. When the backend returns a token the new account is logged in right away.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}

			creds, err := promptCredentials(cmd, os.Stdin)
			if err != nil {
				return err
			}
			token, err := st.API.Signup(cmd.Context(), creds)
			if err != nil {
				output.Error("Signup failed")
				return err
			}
			if token == "" {
				if output.IsJSON() {
					return output.JSON(map[string]bool{"created": true, "is_logged_in": false})
				}
				output.Success("✓ Account created, run 'storefront login' to continue")
				return nil
			}
			if err := st.Session.Login(cmd.Context(), token); err != nil {
				return err
			}
			if !output.IsJSON() {
				output.Success("✓ Account created for %s", creds.Email)
			}
			return showSession(output, st)
		},
	}
	addCredentialFlags(cmd)
	return cmd
}

func newLogoutCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out of every running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			if !output.IsJSON() {
				output.Success("✓ Logged out")
			}
			return showSession(output, st)
		},
	}
}

func newStatusCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login and cart status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				stats := st.Cart.Stats()
				return output.JSON(map[string]any{
					"is_logged_in":  st.Session.IsLoggedIn(),
					"token":         security.MaskCredential(st.Session.Token()),
					"cart_lines":    st.Cart.Len(),
					"cart_total":    st.Cart.Total(),
					"cart_failures": stats.Failed,
					"instance_id":   st.InstanceID,
				})
			}
			if err := showSession(output, st); err != nil {
				return err
			}
			output.Printf("Cart:      %d line(s)\n", st.Cart.Len())
			output.Dim("Instance:  %s", st.InstanceID)
			return nil
		},
	}
}

func showSession(output *Output, st *app.App) error {
	s := st.Session.State()
	if output.IsJSON() {
		return output.JSON(models.SessionState{
			Token:      security.MaskCredential(s.Token),
			IsLoggedIn: s.IsLoggedIn,
		})
	}
	if s.IsLoggedIn {
		output.Printf("Session:   %s\n", output.Green("logged in"))
		output.Printf("Token:     %s\n", security.MaskCredential(s.Token))
	} else {
		output.Printf("Session:   %s\n", output.Red("logged out"))
	}
	return nil
}

// accountPage describes one paginated account listing.
type accountPage struct {
	use     string
	aliases []string
	short   string
	noun    string
	columns []Column
	fetch   func(ctx context.Context, st *app.App, token string, skip, limit int) (*models.RowPage, error)
}

var ordersPage = accountPage{
	use:     "orders",
	aliases: []string{"purchased"},
	short:   "Show purchased orders",
	noun:    "orders",
	columns: []Column{
		{Key: "ticker", Label: "Ticker"},
		{Key: "purchase_price", Label: "Purchase Price", Align: AlignRight, Format: formatCurrency},
		{Key: "purchase_qty", Label: "Qty", Align: AlignRight, Format: formatQuantity},
		{Key: "timestamp", Label: "Timestamp", Format: formatTimestamp},
	},
	fetch: func(ctx context.Context, st *app.App, token string, skip, limit int) (*models.RowPage, error) {
		return st.API.PurchasedOrders(ctx, token, skip, limit)
	},
}

var qualityChecksPage = accountPage{
	use:     "quality-checks",
	aliases: []string{"qc", "issues"},
	short:   "Show data quality issues",
	noun:    "issues",
	columns: []Column{
		{Key: "description", Label: "Description", MaxWidth: 60},
		{Key: "severity", Label: "Severity"},
		{Key: "timestamp", Label: "Timestamp", Format: formatTimestamp},
	},
	fetch: func(ctx context.Context, st *app.App, token string, skip, limit int) (*models.RowPage, error) {
		return st.API.QualityChecks(ctx, token, skip, limit)
	},
}

var portfolioPage = accountPage{
	use:     "portfolio",
	aliases: []string{"positions"},
	short:   "Show portfolio positions",
	noun:    "positions",
	columns: []Column{
		{Key: "symbol", Label: "Symbol"},
		{Key: "quantity", Label: "Qty", Align: AlignRight, Format: formatQuantity},
		{Key: "average_price", Label: "Avg Price", Align: AlignRight, Format: formatPrice},
		{Key: "current_price", Label: "Current", Align: AlignRight, Format: formatPrice},
		{Key: "pnl", Label: "P&L", Align: AlignRight, Format: formatCurrency},
		{Key: "timestamp", Label: "Timestamp", Format: formatTimestamp},
	},
	fetch: func(ctx context.Context, st *app.App, token string, skip, limit int) (*models.RowPage, error) {
		return st.API.PortfolioPositions(ctx, token, skip, limit)
	},
}

func newAccountPageCmd(a *App, p accountPage) *cobra.Command {
	cmd := &cobra.Command{
		Use:     p.use,
		Aliases: p.aliases,
		Short:   p.short,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := a.State(cmd.Context())
			if err != nil {
				return err
			}
			if !st.Session.IsLoggedIn() {
				output.Error("Please log in first: storefront login")
				return apperrors.ErrNotAuthenticated
			}

			page, _ := cmd.Flags().GetInt("page")
			limit, _ := cmd.Flags().GetInt("limit")
			if page < 1 || limit < 1 {
				return apperrors.NewValidationError("page", page, "page and limit must be positive")
			}

			res, err := p.fetch(cmd.Context(), st, st.Session.Token(), (page-1)*limit, limit)
			if err != nil {
				// The listing stays on screen empty with the error above it.
				output.Error("Could not load %s: %v", p.noun, err)
				res = &models.RowPage{}
			}
			if output.IsJSON() {
				return output.JSON(map[string]any{p.noun: res.Rows, "total": res.Total})
			}

			grid := NewGrid(p.columns...)
			grid.AddRows(res.Rows)
			if err := renderGrid(cmd, output, grid); err != nil {
				return err
			}
			pages := (res.Total + limit - 1) / limit
			if pages < 1 {
				pages = 1
			}
			output.Dim("Page %d of %d (%d %s)", page, pages, res.Total, p.noun)
			return nil
		},
	}
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("limit", feed.DefaultLimit, "rows per page")
	addGridFlags(cmd)
	return cmd
}
