// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// ProbeStatus is the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServerStatus summarizes a running server's health probes.
type ServerStatus struct {
	Addr   string        `json:"addr"`
	Probes []ProbeStatus `json:"probes"`
}

// Healthy reports whether every probe succeeded.
func (s ServerStatus) Healthy() bool {
	for _, p := range s.Probes {
		if !p.OK {
			return false
		}
	}
	return len(s.Probes) > 0
}

type statusConfig struct {
	jsonOutput bool
	timeout    time.Duration
}

var statusFlagKeys = map[string]string{
	"metrics-addr": "metrics.addr",
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running authd server",
		Long: `Query the liveness and readiness health endpoints of a running
authd server and report whether it is serving.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := loadConfig(cmd, statusFlagKeys)
			if err != nil {
				return err
			}
			if appCfg.Metrics.Addr == "" {
				return oops.Code("CONFIG_INVALID").
					With("key", "metrics.addr").
					Errorf("metrics.addr is required to query status")
			}
			client := &http.Client{Timeout: cfg.timeout}
			return runStatus(cmd, cfg, client, appCfg.Metrics.Addr)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "per-probe timeout")
	cmd.Flags().String("metrics-addr", "", "metrics/health address of the server (default: metrics.addr)")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig, client *http.Client, addr string) error {
	status := queryServerStatus(cmd.Context(), client, addr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FAILED").With("operation", "marshal status").Wrap(err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Print(formatStatusTable(status))
	}

	if !status.Healthy() {
		return oops.Code("SERVER_UNHEALTHY").With("addr", addr).Errorf("authd at %s is not healthy", addr)
	}
	return nil
}

func queryServerStatus(ctx context.Context, client *http.Client, addr string) ServerStatus {
	if ctx == nil {
		ctx = context.Background()
	}
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	status := ServerStatus{Addr: addr}
	for _, probe := range []string{"liveness", "readiness"} {
		status.Probes = append(status.Probes, probeEndpoint(ctx, client, base+"/healthz/"+probe, probe))
	}
	return status
}

func probeEndpoint(ctx context.Context, client *http.Client, url, probe string) ProbeStatus {
	result := ProbeStatus{Probe: probe}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	resp, err := client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("failed to connect: %v", err)
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	result.Status = resp.StatusCode
	result.Body = strings.TrimSpace(string(body))
	result.OK = resp.StatusCode == http.StatusOK
	return result
}

func formatStatusTable(status ServerStatus) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "ADDR\t%s\n", status.Addr)
	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t------")
	for _, p := range status.Probes {
		state := "ok"
		if !p.OK {
			state = "failing"
		}
		detail := p.Body
		if p.Error != "" {
			detail = p.Error
		} else if p.Status != 0 && !p.OK {
			detail = fmt.Sprintf("HTTP %d %s", p.Status, p.Body)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Probe, state, detail)
	}

	_ = w.Flush()
	return sb.String()
}
