package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"payndeliver-cart/internal/config"
	"payndeliver-cart/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var (
		opts options
		a    *app
	)

	root := &cobra.Command{
		Use:           "cartctl",
		Short:         "Manage a shopping cart backed by a local store and the cart server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.apply(cfg)

			a, err = newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			a.restoreIdentity(cmd.Context())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a == nil {
				return nil
			}
			err := a.close()
			if msg := a.cart.LastError(); msg != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", msg)
			}
			return err
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.storeType, "store", "", "durable store: memory, sqlite, redis or none")
	flags.StringVar(&opts.storePath, "store-path", "", "sqlite store file")
	flags.StringVar(&opts.server, "server", "", `cart server base URL, "none" to stay offline`)
	flags.StringVar(&opts.apiKey, "api-key", "", "cart server API key")

	current := func() *app { return a }
	root.AddCommand(
		newShowCmd(current),
		newAddCmd(current),
		newRemoveCmd(current),
		newQtyCmd(current),
		newClearCmd(current),
		newLoginCmd(current),
		newLogoutCmd(current),
		newWatchCmd(current),
	)
	return root
}

func newShowCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			fmt.Fprintln(cmd.OutOrStdout(), "state:", describe(a.cart))
			printItems(cmd.OutOrStdout(), a.cart.Items())
			return nil
		},
	}
}

func newAddCmd(current func() *app) *cobra.Command {
	var (
		item  model.LineItem
		price string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add one unit of a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := decimal.NewFromString(price)
			if err != nil {
				return errors.Wrapf(err, "invalid price %q", price)
			}
			if p.IsNegative() {
				return errors.New("price must not be negative")
			}
			item.Price = p

			printItems(cmd.OutOrStdout(), current().cart.AddItem(item))
			return nil
		},
	}

	cmd.Flags().StringVar(&item.ID, "id", "", "product id")
	cmd.Flags().StringVar(&item.Name, "name", "", "product name")
	cmd.Flags().StringVar(&price, "price", "0", "unit price")
	cmd.Flags().StringVar(&item.Image, "image", "", "product image URL")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newRemoveCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a product line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printItems(cmd.OutOrStdout(), current().cart.RemoveItem(args[0]))
			return nil
		},
	}
}

func newQtyCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "qty <id> <quantity>",
		Short: "Set the quantity of a product line; below 1 removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Wrapf(err, "invalid quantity %q", args[1])
			}
			printItems(cmd.OutOrStdout(), current().cart.UpdateQuantity(args[0], n))
			return nil
		},
	}
}

func newClearCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printItems(cmd.OutOrStdout(), current().cart.Clear())
			return nil
		},
	}
}

func newLoginCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Sign in and load the server cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			a.login(cmd.Context(), args[0])
			fmt.Fprintln(cmd.OutOrStdout(), "state:", describe(a.cart))
			printItems(cmd.OutOrStdout(), a.cart.Items())
			return nil
		},
	}
}

func newLogoutCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and empty the local cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			a.logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "state:", describe(a.cart))
			return nil
		},
	}
}

func newWatchCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the cart whenever another process changes it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printItems(cmd.OutOrStdout(), a.cart.Items())
			go a.cart.Watch(ctx)

			for {
				select {
				case <-ctx.Done():
					return nil
				case items := <-a.changes:
					fmt.Fprintln(cmd.OutOrStdout())
					printItems(cmd.OutOrStdout(), items)
				}
			}
		},
	}
}

func printItems(w io.Writer, items []model.LineItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "cart is empty")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tQTY\tSUBTOTAL")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			item.ID, item.Name, item.Price.StringFixed(2), item.Quantity, item.Subtotal().StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t\tTOTAL\t%s\n", model.Total(items).StringFixed(2))
	tw.Flush()
}
