package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dirigent-io/dirigent/pkg/version"
)

// apiClient is the thin HTTP client behind the operator subcommands.
// 4xx responses become user errors (exit 1), connection failures and 5xx
// become system errors (exit 2).
type apiClient struct {
	base string
	http *http.Client
}

func addServerFlag(cmd *cobra.Command, server *string) {
	cmd.Flags().StringVarP(server, "server", "s",
		getEnv("DIRIGENT_SERVER", "http://localhost:8080"),
		"base URL of a running dirigent server")
}

func newClient(server string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(server, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// do performs one request and decodes the JSON response into out (when out
// is non-nil).
func (c *apiClient) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return userError(fmt.Errorf("encode request: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reqBody)
	if err != nil {
		return userError(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.http.Do(req)
	if err != nil {
		return systemError(fmt.Errorf("request to %s failed: %w", c.base, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		err := fmt.Errorf("%s %s: %s (%s)", method, path, msg, resp.Status)
		if resp.StatusCode < 500 {
			return userError(err)
		}
		return systemError(err)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return systemError(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&body); err == nil && body.Error != "" {
		return body.Error
	}
	return "request failed"
}

// printJSON renders a response body for the terminal.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return systemError(err)
	}
	cmd.Println(string(data))
	return nil
}
