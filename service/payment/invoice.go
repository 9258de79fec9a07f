package payment

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// buildSolanaPayURL creates a Solana Pay transfer request URL.
// Format: solana:{recipient}?amount={sol}&memo={memo}&label={label}&message={message}
func buildSolanaPayURL(recipient string, lamports int64, memo string) string {
	params := url.Values{}
	params.Set("amount", decimal.New(lamports, -9).String())
	if memo != "" {
		params.Set("memo", memo)
	}
	params.Set("label", "mintpay")
	params.Set("message", "AI image generation")

	return fmt.Sprintf("solana:%s?%s", recipient, params.Encode())
}

// generateQRCode renders data as a 256x256 PNG and returns it base64 encoded.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}
