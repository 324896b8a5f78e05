package resources

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
)

//go:embed data/roberta-base/config.json
var f embed.FS

// GetEmbeddedResource
// Returns a ResourceEntry for the given resource name that is embedded in
// the binary, or nil if there is no such resource.
func GetEmbeddedResource(path string) *ResourceEntry {
	resourceBytes, err := f.ReadFile("data/" + path)
	if err != nil {
		return nil
	}
	return &ResourceEntry{Data: resourceBytes}
}

// hfToken returns the Hugging Face access token from the environment.
func hfToken() string {
	return os.Getenv("HF_TOKEN")
}

// FetchHTTP
// Fetch a resource from a remote HTTP server with bearer token auth.
func FetchHTTP(uri string, rsrc string, auth string) (io.ReadCloser, error) {
	req, reqErr := http.NewRequest("GET", uri+"/"+rsrc, nil)
	if reqErr != nil {
		return nil, reqErr
	}
	if auth != "" {
		req.Header.Add("Authorization", "Bearer "+auth)
	}
	resp, remoteErr := http.DefaultClient.Do(req)
	if remoteErr != nil {
		return nil, remoteErr
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.New(fmt.Sprintf("HTTP status code %d",
			resp.StatusCode))
	}
	return resp.Body, nil
}

// SizeHTTP
// Get the size of a resource from a remote HTTP server with bearer token auth.
func SizeHTTP(uri string, rsrc string, auth string) (uint, error) {
	req, reqErr := http.NewRequest("HEAD", uri+"/"+rsrc, nil)
	if reqErr != nil {
		return 0, reqErr
	}
	if auth != "" {
		req.Header.Add("Authorization", "Bearer "+auth)
	}
	resp, remoteErr := http.DefaultClient.Do(req)
	if remoteErr != nil {
		return 0, remoteErr
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.New(fmt.Sprintf("HTTP status code %d",
			resp.StatusCode))
	}
	size, _ := strconv.Atoi(resp.Header.Get("Content-Length"))
	return uint(size), nil
}
