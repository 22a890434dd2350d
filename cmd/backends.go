package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/idfuse/internal/registry"
)

var backendsCheck bool

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Show the verification backend roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.Load(cfg.Registry.Path)
		if err != nil {
			return err
		}

		backends := reg.All()
		health := make([]string, len(backends))
		if backendsCheck {
			probeBackends(cmd.Context(), backends, health)
		}

		fmt.Printf("%-20s %-45s %-10s %-8s %s\n", "NAME", "ENDPOINT", "THRESHOLD", "ACTIVE", "HEALTH")
		for i, b := range backends {
			fmt.Printf("%-20s %-45s %-10.2f %-8t %s\n", b.Name, b.EndpointURL, b.Threshold, b.Active, health[i])
		}
		return nil
	},
}

// probeBackends hits each backend's /health route concurrently with a short
// deadline. The verify endpoint itself is never probed; a probe upload
// would show up in the backend's own accounting.
func probeBackends(ctx context.Context, backends []registry.Backend, health []string) {
	client := &http.Client{Timeout: 3 * time.Second}

	var wg sync.WaitGroup
	for i, b := range backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			health[i] = probeOne(ctx, client, b.EndpointURL)
		}()
	}
	wg.Wait()
}

func probeOne(ctx context.Context, client *http.Client, endpointURL string) string {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "unknown"
	}
	u.Path = "/health"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "unknown"
	}
	resp, err := client.Do(req)
	if err != nil {
		return "down"
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "down"
	}
	return "up"
}

func init() {
	backendsCmd.Flags().BoolVar(&backendsCheck, "check", false, "probe each backend's health route")
	rootCmd.AddCommand(backendsCmd)
}
