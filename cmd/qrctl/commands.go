package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"payment_backend/internal/emvqr"
)

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [content]",
		Short: "Print the parsed fields, CRC and signature status of a payload",
		Long: `Inspect accepts a raw payload, a payload wrapped in other text,
a data:image URI or a bare base64 PNG. With --image the argument is read as
a PNG file instead. Reads stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if image, _ := cmd.Flags().GetBool("image"); image {
				raw, err := os.ReadFile(input)
				if err != nil {
					return err
				}
				if input, err = emvqr.DecodeImage(raw); err != nil {
					return err
				}
			}

			var verifier emvqr.Verifier
			if skip, _ := cmd.Flags().GetBool("no-verify"); !skip {
				_, s, err := loadSigner(cmd)
				if err != nil {
					return fmt.Errorf("load signing keys (use --no-verify to skip): %w", err)
				}
				verifier = s
			}

			report := emvqr.Inspect(input, verifier)
			if report.Diagnostics == nil {
				report.Diagnostics = emvqr.Diagnostics{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().Bool("image", false, "treat the argument as a PNG file path")
	cmd.Flags().Bool("no-verify", false, "skip signature verification")
	return cmd
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Print a signed payload for the given payment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, s, err := loadSigner(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			bank, _ := f.GetString("bank")
			account, _ := f.GetString("account")
			amountStr, _ := f.GetString("amount")
			message, _ := f.GetString("message")
			txID, _ := f.GetString("tx-id")

			if bank == "" {
				bank = cfg.QRBankCode
			}
			if account == "" {
				account = cfg.QRBankAccount
			}
			amount, err := decimal.NewFromString(amountStr)
			if err != nil || !amount.IsPositive() {
				return fmt.Errorf("invalid amount %q", amountStr)
			}
			if txID == "" {
				txID = uuid.NewString()
			}

			b := emvqr.NewBuilder(s,
				emvqr.WithMerchant(cfg.QRMerchantName, cfg.QRMerchantCity),
				emvqr.WithSignatureLength(cfg.QRSignatureLength),
			)
			built, err := b.Build(emvqr.Payment{
				BankCode:      bank,
				BankAccount:   account,
				Amount:        amount.String(),
				Message:       message,
				TransactionID: txID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), built.Content)
			return nil
		},
	}

	cmd.Flags().String("bank", "", "bank code (defaults to QR_BANK_CODE)")
	cmd.Flags().String("account", "", "bank account (defaults to QR_BANK_ACCOUNT)")
	cmd.Flags().String("amount", "", "amount in VND")
	cmd.Flags().String("message", "", "transfer message")
	cmd.Flags().String("tx-id", "", "transaction id (random uuid when empty)")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render [content]",
		Short: "Write a payload as a PNG QR code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			content, _ := emvqr.Sanitize(input)
			if content == "" {
				return fmt.Errorf("no payload to render")
			}
			out, _ := cmd.Flags().GetString("out")
			size, _ := cmd.Flags().GetInt("size")

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := emvqr.RenderPNG(f, content, size); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringP("out", "o", "qr.png", "output file")
	cmd.Flags().Int("size", emvqr.DefaultImageSize, "image size in pixels")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "", fmt.Errorf("no input")
	}
	return s, nil
}
