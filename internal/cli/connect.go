package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yolodolo42/walletbridge/internal/connector"
	"github.com/yolodolo42/walletbridge/internal/ui"
)

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "List the available wallet connectors",
	RunE:  runConnectors,
}

var connectCmd = &cobra.Command{
	Use:   "connect [connector-id]",
	Short: "Connect a wallet",
	Long: `Connect a wallet through one of the configured connectors.

Without an id, an interactive picker lists the connectors in priority order.
The connection is remembered and restored automatically next time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect [connector-id]",
	Short: "Disconnect a wallet and forget the remembered connection",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDisconnect,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active connection",
	RunE:  runStatus,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List wallets that announced themselves",
	RunE:  runDiscover,
}

func init() {
	rootCmd.AddCommand(connectorsCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().Duration("timeout", announceTimeout, "how long to wait for announcements")
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// run shows a spinner while fn runs, or just runs it without a terminal
func (s *session) run(ctx context.Context, title string, status func() string, fn func(ctx context.Context) error) error {
	if !interactive() {
		return fn(ctx)
	}
	return s.term.console.Run(ctx, title, status, fn)
}

func describe(c connector.Connector) string {
	st := c.Status()
	line := fmt.Sprintf("%-28s %-16s %s", c.Info().ID, c.Info().Type, ui.StateBadge(string(st.State)))
	if !st.IsInstalled {
		line += ui.DimStyle.Render("  not installed")
	}
	if acc := c.Account(); acc != nil {
		line += "  " + acc.Address.Hex()
	}
	if st.Error != "" {
		line += "  " + ui.ErrorStyle.Render(st.Error)
	}
	return line
}

func runConnectors(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println(ui.TitleStyle.Render("Connectors on " + s.Network.Name))
	for _, c := range s.Registry.Connectors() {
		fmt.Println("  " + describe(c))
	}
	return nil
}

func pickConnector(s *session) (string, error) {
	if !interactive() {
		return "", fmt.Errorf("connector id required (see 'walletbridge connectors')")
	}
	items := make([]ui.SelectorItem, 0, len(s.Registry.Connectors()))
	for _, c := range s.Registry.Connectors() {
		st := c.Status()
		desc := string(c.Info().Type)
		if !st.IsInstalled {
			desc += ", not installed"
		}
		items = append(items, ui.SelectorItem{
			ID:          c.Info().ID,
			Label:       c.Info().Label,
			Description: desc,
			Current:     st.State == connector.StateConnected,
			Disabled:    !st.IsInstalled,
		})
	}
	return ui.Pick("Connect a wallet", items)
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	var id string
	if len(args) == 1 {
		id = args[0]
	} else if id, err = pickConnector(s); err != nil {
		return err
	}
	if id == "" {
		return nil
	}

	c, ok := s.Registry.Get(id)
	if !ok {
		return fmt.Errorf("unknown connector %q", id)
	}
	err = s.run(ctx, "Connecting to "+c.Info().Label,
		func() string { return string(c.Status().State) },
		func(ctx context.Context) error {
			_, err := s.Sessions.Connect(ctx, id)
			return err
		})
	if err != nil {
		fmt.Println(ui.ErrorStyle.Render(ui.SymbolCross + " " + err.Error()))
		return err
	}

	fmt.Println(ui.SuccessStyle.Render(ui.SymbolCheck+" Connected to "+c.Info().Label) + "  " + c.Account().Address.Hex())
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	var id string
	if len(args) == 1 {
		id = args[0]
	} else if c := s.Registry.ActiveConnector(); c != nil {
		id = c.Info().ID
	} else {
		fmt.Println("No wallet connected.")
		return nil
	}

	if err := s.Sessions.Disconnect(ctx, id); err != nil {
		return err
	}
	fmt.Println(ui.SuccessStyle.Render(ui.SymbolCheck + " Disconnected " + id))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Network:  %s (%s)\n", s.Network.Name, s.Network.NodeURL)
	fmt.Printf("Config:   %s\n", configPath())

	c := s.Registry.ActiveConnector()
	if c == nil {
		fmt.Println("Wallet:   not connected")
		return nil
	}
	fmt.Printf("Wallet:   %s (%s)\n", c.Info().Label, c.Info().ID)
	fmt.Printf("Account:  %s\n", c.Account().Address.Hex())
	if connector.IsExtensionManaged(c) {
		if caip := connector.MustExtensionManaged(c).CaipAccount(); caip != "" {
			fmt.Printf("CAIP-10:  %s\n", caip)
		}
	}
	return nil
}

func runDiscover(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	s, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	found := s.AwaitProviders(cmd.Context(), timeout)
	if len(found) == 0 {
		fmt.Printf("No wallets announced within %s.\n", timeout.Round(time.Millisecond))
		return nil
	}
	for _, a := range found {
		fmt.Printf("  %s %-30s %s\n", ui.SymbolBullet, a.Info.Name, ui.DimStyle.Render(a.Info.RDNS))
	}
	return nil
}
