package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yolodolo42/walletbridge/internal/app"
	"github.com/yolodolo42/walletbridge/internal/connector"
	"github.com/yolodolo42/walletbridge/internal/ui"
	"github.com/yolodolo42/walletbridge/internal/wallet"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage the embedded account",
	Long: `The embedded account is created on first connect and kept in the local
keystore. Its address depends only on the keystore key, so it is the same
after every reconnect.`,
}

var accountShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the embedded account for the current network",
	RunE:  runAccountShow,
}

var accountForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Delete the embedded account and its key",
	RunE:  runAccountForget,
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage keystore keys",
	Long: `Keys in the keystore back the embedded account and any external
signer configured with a keystore address.`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new key",
	RunE:  runKeysCreate,
}

var keysImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a key from a private key",
	RunE:  runKeysImport,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all keys",
	RunE:  runKeysList,
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountShowCmd)
	accountCmd.AddCommand(accountForgetCmd)

	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysImportCmd)
	keysCmd.AddCommand(keysListCmd)

	accountForgetCmd.Flags().Bool("yes", false, "skip the confirmation")
	keysImportCmd.Flags().String("key", "", "Private key to import (hex, with or without 0x prefix)")
}

func runAccountShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	cred, ok := s.Embedded.Credential()
	if !ok {
		fmt.Printf("No embedded account on %s.\n", s.Network.Name)
		fmt.Println("Use 'walletbridge connect embedded' to create one.")
		return nil
	}

	fmt.Printf("Signing key: %s\n", cred.Address.Hex())
	if cred.PXEAddress != "" {
		fmt.Printf("Account:     %s\n", cred.PXEAddress)
	}
	deployed := ui.WarningStyle.Render("not deployed")
	if cred.Deployed {
		deployed = ui.SuccessStyle.Render("deployed")
	}
	fmt.Printf("Status:      %s\n", deployed)
	fmt.Printf("Created:     %s\n", time.Unix(cred.CreatedAt, 0).Format(time.RFC3339))
	return nil
}

func runAccountForget(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.Embedded.HasCredentials() {
		return connector.ErrNoCredentials
	}
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		if !s.term.confirm("This deletes the embedded account key. Continue?") {
			return nil
		}
	}
	password, err := readPassword("Account password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if err := s.Sessions.Disconnect(ctx, connector.EmbeddedID); err != nil {
		return err
	}
	if err := s.Embedded.Forget(ctx, password); err != nil {
		return err
	}
	fmt.Println(ui.SuccessStyle.Render(ui.SymbolCheck + " Embedded account removed"))
	return nil
}

func openKeystore() (*wallet.KeystoreManager, error) {
	cfg, err := app.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}
	return km, nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	km, err := openKeystore()
	if err != nil {
		return err
	}
	password, err := readNewPassword("Enter password for new key: ")
	if err != nil {
		return err
	}

	account, err := km.CreateAccount(password)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Println("\nKey created.")
	fmt.Printf("Address:  %s\n", account.Address.Hex())
	fmt.Printf("Keystore: %s\n", account.URL.Path)
	fmt.Println("\nBack up the keystore file and remember the password.")
	return nil
}

func runKeysImport(cmd *cobra.Command, args []string) error {
	privateKey, _ := cmd.Flags().GetString("key")
	if privateKey == "" {
		var err error
		if privateKey, err = readPassword("Private key (hex): "); err != nil {
			return fmt.Errorf("failed to read private key: %w", err)
		}
	}
	privateKey = strings.TrimSpace(privateKey)
	if privateKey == "" {
		return fmt.Errorf("private key is required")
	}

	km, err := openKeystore()
	if err != nil {
		return err
	}
	password, err := readNewPassword("Enter password to encrypt the key: ")
	if err != nil {
		return err
	}

	account, err := km.ImportKey(privateKey, password)
	if err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}

	fmt.Println("\nKey imported.")
	fmt.Printf("Address:  %s\n", account.Address.Hex())
	fmt.Printf("Keystore: %s\n", account.URL.Path)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	km, err := openKeystore()
	if err != nil {
		return err
	}

	accounts := km.ListAccounts()
	if len(accounts) == 0 {
		fmt.Println("No keys found.")
		fmt.Println("Use 'walletbridge keys create' to create one.")
		return nil
	}

	fmt.Printf("Found %d key(s):\n\n", len(accounts))
	for i, acc := range accounts {
		fmt.Printf("%d. %s\n", i+1, acc.Address.Hex())
	}
	return nil
}
