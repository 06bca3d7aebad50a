package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yolodolo42/walletbridge/internal/app"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/ui"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a transaction from the connected account",
	Long: `Send a contract call from the connected account and wait for its receipt.

Fees are paid by the network's sponsored fee contract. An external signer's
account is deployed first if it is not on chain yet.`,
	Example: `  walletbridge send --to 0x1234 --function transfer --args 0xabcd,100`,
	RunE:    runSend,
}

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "List recorded transaction receipts",
	RunE:  runReceipts,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiptsCmd)

	sendCmd.Flags().String("to", "", "contract address")
	sendCmd.Flags().String("function", "", "function to call")
	sendCmd.Flags().StringSlice("args", nil, "call arguments")
	receiptsCmd.Flags().Int("limit", 20, "maximum number of receipts")
}

func validAddress(s string) error {
	_, err := pxe.AddressFromHex(s)
	return err
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	to, _ := cmd.Flags().GetString("to")
	function, _ := cmd.Flags().GetString("function")
	callArgs, _ := cmd.Flags().GetStringSlice("args")

	var err error
	if to == "" && interactive() {
		if to, err = ui.Ask("Contract address", "0x...", validAddress); err != nil {
			return err
		}
	}
	if to == "" {
		return fmt.Errorf("--to is required")
	}
	if function == "" {
		return fmt.Errorf("--function is required")
	}
	target, err := pxe.AddressFromHex(to)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	c := s.Registry.ActiveConnector()
	if c == nil {
		return fmt.Errorf("no wallet connected: run 'walletbridge connect' first")
	}

	var res *app.SendResult
	err = s.run(ctx, fmt.Sprintf("Sending %s via %s", function, c.Info().Label),
		func() string { return string(c.Status().State) },
		func(ctx context.Context) error {
			var err error
			res, err = s.Send(ctx, []pxe.FunctionCall{{To: target, Function: function, Args: callArgs}})
			return err
		})
	if res != nil {
		fmt.Printf("Tx hash: %s\n", res.TxHash.Hex())
	}
	if err != nil {
		return err
	}

	switch res.Receipt.Status {
	case pxe.TxStatusSuccess:
		fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("%s Included in block %d", ui.SymbolCheck, res.Receipt.BlockNumber)))
	case pxe.TxStatusPending:
		fmt.Println(ui.WarningStyle.Render("Submitted, not yet included"))
	default:
		msg := fmt.Sprintf("%s Transaction %s", ui.SymbolCross, res.Receipt.Status)
		if res.Receipt.Error != "" {
			msg += ": " + res.Receipt.Error
		}
		fmt.Println(ui.ErrorStyle.Render(msg))
	}
	return nil
}

func runReceipts(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	s, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.Ledger.List(s.NetworkKey, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No receipts recorded.")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s  %-10s %-9s %-24s %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Kind, r.Status, r.ConnectorID, r.TxHash.Hex())
	}
	return nil
}
