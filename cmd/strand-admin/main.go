// ABOUTME: Operator CLI for strand-gateway mapping and credential management
// ABOUTME: Talks to the gateway admin HTTP API with admission headers

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

const banner = `
      _                       _                 _           _
  ___| |_ _ __ __ _ _ __   __| |       __ _  __| |_ __ ___ (_)_ __
 / __| __| '__/ _' | '_ \ / _' |_____ / _' |/ _' | '_ ' _ \| | '_ \
 \__ \ |_| | | (_| | | | | (_| |_____| (_| | (_| | | | | | | | | | |
 |___/\__|_|  \__,_|_| |_|\__,_|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

// mapping mirrors the gateway admin API's JSON shape.
type mapping struct {
	LogicalKey    string `json:"logical_key"`
	Dialect       string `json:"dialect"`
	VendorModelID string `json:"vendor_model_id"`
	CredentialRef string `json:"credential_ref"`
	Active        bool   `json:"active"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type credentialBody struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Offline   bool   `json:"offline,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("STRAND_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	principal := os.Getenv("STRAND_PRINCIPAL")
	if principal == "" {
		principal = "admin"
	}

	c := &client{baseURL: strings.TrimSuffix(baseURL, "/"), principal: principal}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "mappings":
		err = cmdMappings(c, args)
	case "credentials":
		err = cmdCredentials(c, args)
	case "status":
		err = cmdStatus(c)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: strand-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  mappings                                    List model mappings")
	fmt.Println("  mappings add <key> <dialect> <model> <cred> Add or update a mapping")
	fmt.Println("  mappings rm <key>                           Remove a mapping")
	fmt.Println("  credentials set <ref> <api-key>             Store a credential")
	fmt.Println("  status                                      Show gateway health")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  STRAND_GATEWAY_URL   Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  STRAND_PRINCIPAL     Principal id for admin requests (default: admin)")
}

// client wraps the admin HTTP API.
type client struct {
	baseURL   string
	principal string
}

func (c *client) do(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Principal-Id", c.principal)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	return resp, nil
}

// fail decodes the gateway's error body into a readable message.
func fail(resp *http.Response) error {
	defer resp.Body.Close()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("gateway: %s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("gateway: status %d", resp.StatusCode)
}

func cmdMappings(c *client, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		return listMappings(c)
	}

	switch args[0] {
	case "add":
		if len(args) != 5 {
			return fmt.Errorf("usage: mappings add <key> <dialect> <model> <cred>")
		}
		return addMapping(c, args[1], args[2], args[3], args[4])
	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: mappings rm <key>")
		}
		return removeMapping(c, args[1])
	default:
		return fmt.Errorf("unknown mappings subcommand: %s", args[0])
	}
}

func listMappings(c *client) error {
	resp, err := c.do(http.MethodGet, "/api/mappings", nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fail(resp)
	}
	defer resp.Body.Close()

	var mappings []mapping
	if err := json.NewDecoder(resp.Body).Decode(&mappings); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(mappings) == 0 {
		fmt.Println("No mappings.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tDIALECT\tVENDOR MODEL\tCREDENTIAL\tACTIVE\tUPDATED")
	for _, m := range mappings {
		active := "yes"
		if !m.Active {
			active = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.LogicalKey, m.Dialect, m.VendorModelID, m.CredentialRef, active, m.UpdatedAt)
	}
	return w.Flush()
}

func addMapping(c *client, key, dialectName, model, cred string) error {
	body := mapping{
		LogicalKey:    key,
		Dialect:       dialectName,
		VendorModelID: model,
		CredentialRef: cred,
		Active:        true,
	}
	resp, err := c.do(http.MethodPut, "/api/mappings", body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return fail(resp)
	}
	resp.Body.Close()

	color.Green("Mapping %s -> %s (%s) saved.\n", key, model, dialectName)
	return nil
}

func removeMapping(c *client, key string) error {
	resp, err := c.do(http.MethodDelete, "/api/mappings/"+key, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return fail(resp)
	}
	resp.Body.Close()

	color.Green("Mapping %s removed.\n", key)
	return nil
}

func cmdCredentials(c *client, args []string) error {
	if len(args) < 1 || args[0] != "set" {
		return fmt.Errorf("usage: credentials set <ref> <api-key> [base-url]")
	}
	if len(args) < 3 {
		return fmt.Errorf("usage: credentials set <ref> <api-key> [base-url]")
	}

	body := credentialBody{APIKey: args[2]}
	if len(args) > 3 {
		body.BaseURL = args[3]
	}

	resp, err := c.do(http.MethodPut, "/api/credentials/"+args[1], body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return fail(resp)
	}
	resp.Body.Close()

	color.Green("Credential %s saved.\n", args[1])
	return nil
}

func cmdStatus(c *client) error {
	resp, err := c.do(http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fail(resp)
	}
	defer resp.Body.Close()

	var health struct {
		Status      string `json:"status"`
		Channels    int    `json:"channels"`
		OpenStreams int    `json:"open_streams"`
		SnapshotAge string `json:"snapshot_age"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  %s\n", health.Status)
	fmt.Printf("  channels:     %d\n", health.Channels)
	fmt.Printf("  open streams: %d\n", health.OpenStreams)
	fmt.Printf("  snapshot age: %s\n", health.SnapshotAge)
	return nil
}
