// Command healthcheck probes the bot's liveness endpoint and exits non-zero on failure.
// It is meant for container HEALTHCHECK directives where curl is unavailable.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	url := pflag.String("url", "http://localhost:8080/healthz", "endpoint to probe")
	timeout := pflag.Duration("timeout", 3*time.Second, "request timeout")
	pflag.Parse()

	if err := probe(context.Background(), *url, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func probe(ctx context.Context, url string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return nil
}
