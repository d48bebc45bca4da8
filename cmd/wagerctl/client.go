package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/wagerengine/internal/crypto"
	"github.com/alanyoungcy/wagerengine/internal/server/middleware"
)

// client sends requests signed with the caller's key.
type client struct {
	base   string
	signer *crypto.Signer
	http   *http.Client
	now    func() time.Time
}

func newClient(cmd *cobra.Command, needKey bool) (*client, error) {
	base, _ := cmd.Flags().GetString("server")
	keyHex, _ := cmd.Flags().GetString("key")

	c := &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
	}
	if keyHex == "" {
		if needKey {
			return nil, errors.New("a signing key is required: pass --key or set WAGER_KEY")
		}
		return c, nil
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return nil, err
	}
	c.signer = signer
	return c, nil
}

// headers returns the identity headers for one request.
func (c *client) headers(method, path string, body []byte) (http.Header, error) {
	h := http.Header{}
	if c.signer == nil {
		return h, nil
	}
	ts := c.now().Unix()
	nonce := uuid.NewString()
	sig, err := c.signer.SignRequest(method, path, ts, nonce, body)
	if err != nil {
		return nil, err
	}
	h.Set(middleware.HeaderAddress, c.signer.Address().Hex())
	h.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(middleware.HeaderNonce, nonce)
	h.Set(middleware.HeaderSignature, sig)
	return h, nil
}

// do sends the request and returns the status and body. The signature
// covers the path without its query string.
func (c *client) do(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
	u, err := url.Parse(c.base + target)
	if err != nil {
		return 0, nil, err
	}
	h, err := c.headers(method, u.Path, body)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header = h
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

// postJSON sends v and decodes a 2xx answer into out.
func (c *client) postJSON(ctx context.Context, path string, v, out any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	status, resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("%s: %d %s", path, status, strings.TrimSpace(string(resp)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp, out)
}

// SignCmd prints the identity headers for a request.
func SignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <METHOD> <PATH>",
		Short: "Print signed identity headers for a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			data, _ := cmd.Flags().GetString("data")
			h, err := c.headers(strings.ToUpper(args[0]), args[1], []byte(data))
			if err != nil {
				return err
			}
			for _, k := range []string{middleware.HeaderAddress, middleware.HeaderTimestamp, middleware.HeaderNonce, middleware.HeaderSignature} {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, h.Get(k))
			}
			return nil
		},
	}
	cmd.Flags().String("data", "", "exact request body")
	return cmd
}

// CallCmd sends a signed request and prints the response.
func CallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <METHOD> <PATH>",
		Short: "Send a signed API request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, false)
			if err != nil {
				return err
			}
			data, _ := cmd.Flags().GetString("data")
			status, body, err := c.do(cmd.Context(), strings.ToUpper(args[0]), args[1], []byte(data))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n%s\n", status, bytes.TrimSpace(body))
			if status/100 != 2 {
				return fmt.Errorf("request failed with status %d", status)
			}
			return nil
		},
	}
	cmd.Flags().String("data", "", "JSON request body")
	return cmd
}
