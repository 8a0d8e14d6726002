package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/callmux/internal/arbiter"
	"github.com/spf13/cobra"
)

func newStatusCmd(st *rootState) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List live sessions from a callmuxd admin endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := adminBase(admin, st.cfg.AdminAddr)
			if err != nil {
				return err
			}
			sessions, err := fetchStatus(cmd, base)
			if err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), st.formatter.Format(sessions))
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "admin address, overrides admin_addr")
	return cmd
}

type callbackResult struct {
	Session string `json:"session" yaml:"session"`
	Reply   string `json:"reply" yaml:"reply"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newCallbackCmd(st *rootState) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "callback <session> <payload>",
		Short: "Have callmuxd call the peer of one of its sessions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := adminBase(admin, st.cfg.AdminAddr)
			if err != nil {
				return err
			}
			endpoint := base + "/sessions/" + url.PathEscape(args[0]) + "/call"
			var res callbackResult
			code, err := adminDo(cmd, http.MethodPost, endpoint, []byte(args[1]), &res)
			if err != nil {
				return fmt.Errorf("callback failed: %w", err)
			}
			if code != http.StatusOK {
				return fmt.Errorf("callback failed: admin returned %d: %s", code, res.Error)
			}
			fmt.Fprint(cmd.OutOrStdout(), st.formatter.Format(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "admin address, overrides admin_addr")
	return cmd
}

func adminBase(flagAddr, cfgAddr string) (string, error) {
	base := flagAddr
	if base == "" {
		base = cfgAddr
	}
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("no admin address: set --admin or admin_addr")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/"), nil
}

// adminDo sends one request and decodes the JSON body into out whatever the
// status code.
func adminDo(cmd *cobra.Command, method, endpoint string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), method, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w (status %s)", endpoint, err, resp.Status)
	}
	return resp.StatusCode, nil
}

func fetchStatus(cmd *cobra.Command, base string) ([]arbiter.Status, error) {
	var sessions []arbiter.Status
	code, err := adminDo(cmd, http.MethodGet, base+"/status", nil, &sessions)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("admin returned %d", code)
	}
	return sessions, nil
}
