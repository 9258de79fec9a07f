package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runApp runs the CLI against serverURL and returns what it wrote to stdout.
func runApp(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard

	argv := append([]string{"mintpay", "--server-url", serverURL}, args...)
	err := app.Run(argv)
	return out.String(), err
}

func writeBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestQuoteCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pricing/quote", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 100, body["count"])

		writeBody(w, http.StatusOK, map[string]any{
			"ok":       true,
			"model":    "sd35-medium",
			"count":    100,
			"credits":  "650",
			"eur":      "3.5",
			"usd":      "3.85",
			"sol":      "0.025666667",
			"lamports": 25_666_667,
		})
	}))
	defer server.Close()

	t.Run("table", func(t *testing.T) {
		out, err := runApp(t, server.URL, "quote", "--count", "100")
		require.NoError(t, err)
		assert.Contains(t, out, "Model:    sd35-medium")
		assert.Contains(t, out, "Lamports: 25666667")
	})

	t.Run("jq", func(t *testing.T) {
		out, err := runApp(t, server.URL, "--jq", ".lamports", "quote", "--count", "100")
		require.NoError(t, err)
		assert.Equal(t, "25666667\n", out)
	})

	t.Run("jq string is raw", func(t *testing.T) {
		out, err := runApp(t, server.URL, "--jq", ".model", "quote", "--count", "100")
		require.NoError(t, err)
		assert.Equal(t, "sd35-medium\n", out)
	})
}

func TestConfirmCommand(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/payments/confirm", r.URL.Path)
			writeBody(w, http.StatusAccepted, map[string]any{
				"ok":          true,
				"pending":     true,
				"signature":   "sig123",
				"explorerUrl": "https://explorer.solana.com/tx/sig123",
			})
		}))
		defer server.Close()

		out, err := runApp(t, server.URL, "confirm", "sig123")
		require.NoError(t, err)
		assert.Contains(t, out, "Still pending: sig123")
	})

	t.Run("wrong transfer", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeBody(w, http.StatusBadRequest, map[string]any{
				"ok":      false,
				"error":   "missing_or_wrong_transfer",
				"message": "transfer to treasury is below the expected amount",
			})
		}))
		defer server.Close()

		_, err := runApp(t, server.URL, "confirm", "--payment-id", "p1", "sig123")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing_or_wrong_transfer")
	})

	t.Run("requires signature", func(t *testing.T) {
		_, err := runApp(t, "http://127.0.0.1:0", "confirm")
		assert.Error(t, err)
	})
}

func TestPaymentsListCommand_Where(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "wallet123", r.URL.Query().Get("wallet"))
		writeBody(w, http.StatusOK, map[string]any{
			"ok": true,
			"payments": []map[string]any{
				{"id": "small", "wallet": "wallet123", "lamports": 5_000_000, "status": "confirmed", "createdAt": "2026-01-01T00:00:00Z"},
				{"id": "large", "wallet": "wallet123", "lamports": 25_666_667, "status": "confirmed", "createdAt": "2026-01-02T00:00:00Z"},
				{"id": "open", "wallet": "wallet123", "lamports": 30_000_000, "status": "pending", "createdAt": "2026-01-03T00:00:00Z"},
			},
		})
	}))
	defer server.Close()

	out, err := runApp(t, server.URL,
		"--jq", ".[].id",
		"payments", "list",
		"--wallet", "wallet123",
		"--where", ".lamports >= 10000000",
		"--where", `.status == "confirmed"`,
	)
	require.NoError(t, err)
	assert.Equal(t, "large\n", out)
}

func TestPaymentsListCommand_Table(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, map[string]any{
			"ok": true,
			"payments": []map[string]any{
				{"id": "p1", "wallet": "wallet123", "lamports": 1000, "status": "confirmed", "txSignature": "sig1", "createdAt": "2026-01-01T00:00:00Z"},
			},
		})
	}))
	defer server.Close()

	out, err := runApp(t, server.URL, "payments", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "sig1")
}

func TestPaymentsListCommand_BadPredicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, map[string]any{"ok": true, "payments": []any{}})
	}))
	defer server.Close()

	_, err := runApp(t, server.URL, "payments", "list", "--where", ".[")
	assert.Error(t, err)
}

func TestHealthCommand(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.Write([]byte("OK"))
		}))
		defer server.Close()

		out, err := runApp(t, server.URL, "server", "health")
		require.NoError(t, err)
		assert.Contains(t, out, "Server is healthy")
	})

	t.Run("unhealthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := runApp(t, server.URL, "server", "health")
		assert.Error(t, err)
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "http://127.0.0.1:0", "server", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: dev")
}

func TestSubscribeCommand_UnknownType(t *testing.T) {
	_, err := runApp(t, "http://127.0.0.1:0", "nats", "subscribe", "refunded")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestGetStore_RequiresURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := runApp(t, "http://127.0.0.1:0", "db", "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database-url is required")
}

func TestMintsCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mints", r.URL.Path)
		assert.Equal(t, "wallet123", r.URL.Query().Get("wallet"))
		writeBody(w, http.StatusOK, map[string]any{
			"ok": true,
			"mints": []map[string]any{
				{"mintAddress": "mint1", "minterWallet": "wallet123", "collectionId": "col-1", "name": "One", "createdAt": "2026-03-01T12:00:00Z"},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	out, err := runApp(t, server.URL, "mints", "--wallet", "wallet123")
	require.NoError(t, err)
	assert.Contains(t, out, "MINT")
	assert.Contains(t, out, "mint1")
	assert.Contains(t, out, "col-1")

	out, err = runApp(t, server.URL, "--jq", ".[0].mintAddress", "mints", "--wallet", "wallet123")
	require.NoError(t, err)
	assert.Equal(t, "mint1\n", out)
}
