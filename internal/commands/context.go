package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	msconsole "github.com/msconsole/msconsole-go"
	"github.com/msconsole/msconsole-go/config"
	"github.com/msconsole/msconsole-go/daemon"
)

// GlobalContext carries the resolved configuration and targets into every
// command. It is built once in main after global flag parsing.
type GlobalContext struct {
	ConfigMgr *config.Manager

	// DaemonURL is where daemon-backed commands (status, start, logs...)
	// connect. MSCONSOLE_URL and --url override the default.
	DaemonURL string
}

// NewGlobalContext loads configuration and resolves the daemon URL.
func NewGlobalContext(flags *GlobalFlags) (*GlobalContext, error) {
	if flags.ConfigDir != "" {
		os.Setenv("MSCONSOLE_CONFIG_DIR", flags.ConfigDir)
	}

	mgr, err := config.NewManager()
	if err != nil {
		return nil, err
	}

	url := flags.DaemonURL
	if url == "" {
		url = os.Getenv("MSCONSOLE_URL")
	}
	if url == "" {
		url = "http://" + daemon.DefaultListen
	}

	return &GlobalContext{
		ConfigMgr: mgr,
		DaemonURL: strings.TrimRight(url, "/"),
	}, nil
}

// BackendClient returns an SDK client targeting the configured backend port.
func (ctx *GlobalContext) BackendClient() *msconsole.Client {
	return msconsole.New(msconsole.WithPort(ctx.ConfigMgr.BackendPort()))
}

var daemonHTTP = &http.Client{Timeout: 30 * time.Second}

// daemonGet fetches a control API endpoint into out.
func (ctx *GlobalContext) daemonGet(path string, out any) error {
	resp, err := daemonHTTP.Get(ctx.DaemonURL + path)
	if err != nil {
		return fmt.Errorf("cannot reach control daemon at %s (is 'msconsole serve' running?): %w", ctx.DaemonURL, err)
	}
	defer resp.Body.Close()
	return decodeDaemonResponse(resp, out)
}

// daemonPost posts body (may be nil) to a control API endpoint.
func (ctx *GlobalContext) daemonPost(path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	resp, err := daemonHTTP.Post(ctx.DaemonURL+path, "application/json", rd)
	if err != nil {
		return fmt.Errorf("cannot reach control daemon at %s (is 'msconsole serve' running?): %w", ctx.DaemonURL, err)
	}
	defer resp.Body.Close()
	return decodeDaemonResponse(resp, out)
}

func decodeDaemonResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
