package payment

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"net/url"
	"strings"
	"testing"
)

// TestBuildSolanaPayURL tests Solana Pay URL generation for native SOL.
func TestBuildSolanaPayURL(t *testing.T) {
	recipient := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

	tests := []struct {
		name       string
		lamports   int64
		memo       string
		wantAmount string
	}{
		{"one SOL", 1_000_000_000, "nftgen:abc", "1"},
		{"creation fee", 10_000_000, "nftgen:abc", "0.01"},
		{"odd amount", 25_666_667, "", "0.025666667"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payURL := buildSolanaPayURL(recipient, tt.lamports, tt.memo)

			if !strings.HasPrefix(payURL, "solana:"+recipient+"?") {
				t.Fatalf("URL should start with solana:<recipient>?, got %s", payURL)
			}

			params, err := url.ParseQuery(strings.SplitN(payURL, "?", 2)[1])
			if err != nil {
				t.Fatalf("Failed to parse query: %v", err)
			}
			if got := params.Get("amount"); got != tt.wantAmount {
				t.Errorf("Expected amount %q, got %q", tt.wantAmount, got)
			}
			if got := params.Get("memo"); got != tt.memo {
				t.Errorf("Expected memo %q, got %q", tt.memo, got)
			}
			if params.Get("label") != "mintpay" {
				t.Errorf("Expected label mintpay, got %q", params.Get("label"))
			}
			// Native SOL requests carry no token mint.
			if params.Has("spl-token") {
				t.Error("URL should not contain spl-token")
			}
		})
	}
}

// TestGenerateQRCode tests that QR codes decode as PNG images.
func TestGenerateQRCode(t *testing.T) {
	data := buildSolanaPayURL("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", 10_000_000, "nftgen:abc")

	encoded, err := generateQRCode(data)
	if err != nil {
		t.Fatalf("generateQRCode failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("QR code should be valid base64: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("QR code should be a valid PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 256 || b.Dy() != 256 {
		t.Errorf("Expected 256x256 image, got %dx%d", b.Dx(), b.Dy())
	}
}
