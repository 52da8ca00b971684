package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/report"
)

// ErrAPIResponse is returned when the TIX API answers with an unexpected status
var ErrAPIResponse = errors.New("unexpected TIX API response")

// Authorizer checks a report's user and installation against the directory
// of registered installations. A missing user or installation is a plain
// false; an unreachable or misbehaving directory is an error.
type Authorizer interface {
	ValidUserAndInstallation(ctx context.Context, r report.Report) (bool, error)
}

// APIUser is the user resource served by the TIX API
type APIUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Enabled  bool   `json:"enabled"`
}

// APIInstallation is the installation resource served by the TIX API
type APIInstallation struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
}

// APIAuthorizer queries the TIX API over HTTP.
type APIAuthorizer struct {
	client  *http.Client
	apiPath string
}

// NewAPIAuthorizer builds an authorizer for {scheme}://host:port/api.
// A nil client gets one with the default API timeout.
func NewAPIAuthorizer(client *http.Client, useHTTPS bool, host string, port int) *APIAuthorizer {
	if client == nil {
		client = &http.Client{Timeout: config.APITimeout}
	}
	scheme := "http"
	if useHTTPS {
		scheme = "https"
	}
	return &APIAuthorizer{
		client:  client,
		apiPath: fmt.Sprintf("%s://%s:%d/api", scheme, host, port),
	}
}

// APIPath returns the API base URL
func (a *APIAuthorizer) APIPath() string {
	return a.apiPath
}

// ValidUserAndInstallation implements Authorizer
func (a *APIAuthorizer) ValidUserAndInstallation(ctx context.Context, r report.Report) (bool, error) {
	var user APIUser
	found, err := a.get(ctx, fmt.Sprintf("%s/user/%d", a.apiPath, r.UserID), &user)
	if err != nil || !found {
		return false, err
	}
	if !user.Enabled {
		log.Printf("User %d is disabled", r.UserID)
		return false, nil
	}

	var installation APIInstallation
	found, err = a.get(ctx, fmt.Sprintf("%s/user/%d/installation/%d", a.apiPath, r.UserID, r.InstallationID), &installation)
	if err != nil || !found {
		return false, err
	}

	packetKey := base64.StdEncoding.EncodeToString(r.PublicKey)
	if installation.PublicKey == "" || installation.PublicKey != packetKey {
		log.Printf("Installation %d public key does not match report public key", r.InstallationID)
		return false, nil
	}
	return true, nil
}

// get decodes a 200 response into out. A 404 reports found=false.
func (a *APIAuthorizer) get(ctx context.Context, url string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		log.Printf("Discarding 404 silently: %s", url)
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: %s returned %d", ErrAPIResponse, url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%w: %s body: %v", ErrAPIResponse, url, err)
	}
	return true, nil
}
