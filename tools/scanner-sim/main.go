// scanner-sim is a tiny, dependency-free driver that simulates a fleet of
// vulnerability scanners against a running patches server. Each simulated
// scanner obtains a session, then polls until its platform's feed is drained
// or the server rejects it.
//
// Usage examples:
//
//	scanner-sim -base=http://127.0.0.1:9002 -platform=__testing_stub__ -scanners=8
//	scanner-sim -base=http://127.0.0.1:9002 -platform=ubuntu:18.04 -scanners=4 -poll=250ms
//
// Notes:
//   - Reuses HTTP connections (keep-alive) so large fleets run fast.
//   - Prints a one-line summary per scanner and a fleet total at the end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type feedResponse struct {
	Error           *string           `json:"error"`
	Session         string            `json:"session"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
}

func main() {
	var (
		base     = flag.String("base", "http://127.0.0.1:9002", "Base URL of the patches server")
		platform = flag.String("platform", "__testing_stub__", "Platform tag to scan")
		scanners = flag.Int("scanners", 4, "Number of concurrent simulated scanners")
		poll     = flag.Duration("poll", 100*time.Millisecond, "Delay between polls of one scanner")
		timeout  = flag.Duration("timeout", 60*time.Second, "Overall timeout for the run")
		maxIdle  = flag.Int("max_idle", 64, "Max idle connections per host")
	)
	flag.Parse()

	if *scanners <= 0 {
		fmt.Fprintln(os.Stderr, "-scanners must be > 0")
		os.Exit(2)
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdle,
		IdleConnTimeout:     30 * time.Second,
	}
	client := &http.Client{Transport: tr, Timeout: 10 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	var totalVulns, drained int64

	var wg sync.WaitGroup
	wg.Add(*scanners)
	for i := 0; i < *scanners; i++ {
		go func(id int) {
			defer wg.Done()
			n, ok := runScanner(ctx, client, *base, *platform, *poll)
			atomic.AddInt64(&totalVulns, int64(n))
			if ok {
				atomic.AddInt64(&drained, 1)
			}
			fmt.Printf("scanner %d: received %d vulnerabilities (drained=%t)\n", id, n, ok)
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("Fleet: scanners=%d platform=%s drained=%d total_vulns=%d duration=%s\n",
		*scanners, *platform, drained, totalVulns, elapsed.Truncate(time.Millisecond))
}

// runScanner drives one scanner through the full protocol: create a session,
// then poll until an empty batch (feed drained) or a rejection. It returns
// how many records it received and whether it drained the feed cleanly.
func runScanner(ctx context.Context, client *http.Client, base, platform string, poll time.Duration) (int, bool) {
	session, ok := getFeed(ctx, client, base+"/?"+url.Values{"platform": {platform}}.Encode())
	if !ok || session.Session == "" {
		return 0, false
	}

	received := 0
	pollURL := base + "/?" + url.Values{"session": {session.Session}}.Encode()
	for {
		select {
		case <-ctx.Done():
			return received, false
		case <-time.After(poll):
		}

		resp, ok := getFeed(ctx, client, pollURL)
		if !ok {
			// Still queued or already terminated; keep polling until the
			// context gives up, unless we have already received data, in
			// which case termination means the drain completed.
			if received > 0 {
				return received, true
			}
			continue
		}
		if len(resp.Vulnerabilities) == 0 {
			return received, true
		}
		received += len(resp.Vulnerabilities)
	}
}

func getFeed(ctx context.Context, client *http.Client, u string) (feedResponse, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return feedResponse{}, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return feedResponse{}, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return feedResponse{}, false
	}
	var decoded feedResponse
	if json.Unmarshal(body, &decoded) != nil {
		return feedResponse{}, false
	}
	return decoded, true
}
