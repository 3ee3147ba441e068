// Command healthcheck probes the local /healthz endpoint for container
// HEALTHCHECK directives. HEALTHCHECK_URL overrides the default target.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/healthz"

func main() {
	target := os.Getenv("HEALTHCHECK_URL")
	if target == "" {
		target = defaultURL
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := probe(ctx, http.DefaultClient, target); err != nil {
		log.Printf("healthcheck failed: %v", err)
		os.Exit(1)
	}
}

type statusError int

func (e statusError) Error() string { return "unexpected status " + http.StatusText(int(e)) }

func probe(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	return nil
}
