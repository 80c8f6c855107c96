package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Hammers the clock toggle of one signed-in client. Only one toggle can be
// in flight at a time, so most requests are expected to be rejected with
// 409 while the remote call is outstanding.
func main() {
	// Ports match the SERVER_PORT and MOCK_PORT defaults
	clientURL := "http://localhost:8080/api/v1"
	mockURL := "http://localhost:8081"
	contentType := "application/json"

	totalRequests := 2000
	concurrency := 50 // Number of concurrent requests to avoid local port exhaustion

	token, err := devToken(mockURL + "/dev/token")
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not get a token from the mock: %v\n", err)
		os.Exit(1)
	}
	resp, err := http.Post(clientURL+"/session", contentType, bytes.NewBufferString(fmt.Sprintf(`{"token": %q}`, token)))
	if err != nil || resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "sign-in failed: %v\n", err)
		os.Exit(1)
	}
	resp.Body.Close()

	fmt.Printf("Starting load test: %d toggles to %s with concurrency %d\n", totalRequests, clientURL, concurrency)

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency) // Semaphore to limit concurrency

	var acceptedCount, busyCount, failCount int64

	startTime := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := http.Post(clientURL+"/attendance/toggle", contentType, nil)
			if err != nil {
				atomic.AddInt64(&failCount, 1)
				return
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusAccepted:
				atomic.AddInt64(&acceptedCount, 1)
			case http.StatusConflict:
				atomic.AddInt64(&busyCount, 1)
			default:
				atomic.AddInt64(&failCount, 1)
			}
		}()
	}

	wg.Wait()
	duration := time.Since(startTime)

	fmt.Println("\n--- Load Test Results ---")
	fmt.Printf("Total Duration: %v\n", duration)
	fmt.Printf("Total Requests: %d\n", totalRequests)
	fmt.Printf("Accepted:       %d\n", acceptedCount)
	fmt.Printf("Busy (409):     %d\n", busyCount)
	fmt.Printf("Failed:         %d\n", failCount)
	fmt.Printf("Requests/Sec:   %.2f\n", float64(totalRequests)/duration.Seconds())
}

// devToken asks the callable mock for a token of a fresh user.
func devToken(url string) (string, error) {
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(`{"providers": ["google.com"]}`))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Token, nil
}
