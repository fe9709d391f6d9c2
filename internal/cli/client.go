package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/clearline-network/clearline/internal/daemon"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// apiGet fetches path from the running node and decodes the JSON body.
func apiGet(path string) (map[string]interface{}, error) {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("reach node at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	return decodeAPI(resp)
}

// apiPost posts body as JSON to path on the running node.
func apiPost(path string, body interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Post(serverURL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("reach node at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	return decodeAPI(resp)
}

func decodeAPI(resp *http.Response) (map[string]interface{}, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unexpected response: %s", raw)
	}
	if resp.StatusCode >= 400 {
		if e, ok := out["error"].(map[string]interface{}); ok {
			return nil, fmt.Errorf("%v", e["message"])
		}
		return nil, fmt.Errorf("node returned %s", resp.Status)
	}
	return out, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withDaemon opens the node database directly for administrative work and
// persists on the way out. The daemon must not be running.
func withDaemon(fn func(d *daemon.Daemon) error) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg, nil)
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}
