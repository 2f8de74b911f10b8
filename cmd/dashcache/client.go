package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// newClient returns an HTTP client for the API at addr.
func newClient(addr string) *resty.Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return resty.New().
		SetBaseURL(addr).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("User-Agent", "dashcache-cli/"+Version)
}

// get fetches path and decodes a JSON body into result when result is not
// nil. It returns the raw body either way.
func get(client *resty.Client, path string, query map[string]string, result interface{}) ([]byte, error) {
	req := client.R().SetQueryParams(query)
	if result != nil {
		req = req.SetResult(result)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reach dashcache API at %s: %w", client.BaseURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("API returned %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	return resp.Body(), nil
}
