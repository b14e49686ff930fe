package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"wallet-auth/internal/signature"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "walletctl",
		Short:         "Wallet key and sign-in helper",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newKeygenCmd(), newSignCmd(), newLoginCmd())
	return root
}

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 keypair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			if err := os.WriteFile(out, []byte(base58.Encode(priv)+"\n"), 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signature.Encode(pub))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "wallet.key", "private key file")
	return cmd
}

func newSignCmd() *cobra.Command {
	var keyFile, message string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a message with the wallet key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readKey(keyFile)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"publicKey": signature.Encode(key.Public().(ed25519.PublicKey)),
				"signature": signature.Sign(key, message),
			})
		},
	}
	cmd.Flags().StringVarP(&keyFile, "key", "k", "wallet.key", "private key file")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to sign")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newLoginCmd() *cobra.Command {
	var keyFile, server string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign the server's message and exchange it for a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readKey(keyFile)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := &apiClient{base: strings.TrimRight(server, "/"), http: &http.Client{}}
			message, err := client.signInMessage(ctx)
			if err != nil {
				return err
			}
			session, err := client.walletSignIn(ctx, signature.Encode(key.Public().(ed25519.PublicKey)), signature.Sign(key, message))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), session)
		},
	}
	cmd.Flags().StringVarP(&keyFile, "key", "k", "wallet.key", "private key file")
	cmd.Flags().StringVarP(&server, "server", "s", "http://127.0.0.1:8080", "server base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func readKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	decoded, err := base58.Decode(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file holds %d bytes, want %d", len(decoded), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(decoded), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) signInMessage(ctx context.Context) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/message", nil, &resp); err != nil {
		return "", fmt.Errorf("fetch sign-in message: %w", err)
	}
	return resp.Message, nil
}

func (c *apiClient) walletSignIn(ctx context.Context, publicKey, sig string) (map[string]any, error) {
	var resp map[string]any
	body := map[string]string{"publicKey": publicKey, "signature": sig}
	if err := c.do(ctx, http.MethodPost, "/api/auth/wallet", body, &resp); err != nil {
		return nil, fmt.Errorf("wallet sign-in: %w", err)
	}
	return resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", res.Status, apiErr.Error)
		}
		return fmt.Errorf("%s", res.Status)
	}
	return json.Unmarshal(raw, out)
}
