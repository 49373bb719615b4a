// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clair is a minimal client for version 1 of the Clair API.
//
// The feed for a platform is read in two steps: paged summary listings under
// /v1/namespaces/{platform}/vulnerabilities, then one detail request per
// summary with the fixedIn expansion. See
// https://coreos.com/clair/docs/latest/api_v1.html.
package clair

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"patches/pkg/vuln"
)

// DefaultFetchLimit is the summary page size used when the caller does not
// set one.
const DefaultFetchLimit = 128

// requestTimeout bounds each upstream call so a stalled Clair cannot wedge
// the tick that pulls from it.
const requestTimeout = 10 * time.Second

// Client fetches vulnerability records for one platform from a Clair
// instance. It is safe to reuse across fetches; the underlying http.Client
// pools connections.
type Client struct {
	base       string
	platform   string
	fetchLimit int
	http       *http.Client
}

// NewClient creates a client for the platform against the Clair instance at
// base (e.g. http://127.0.0.1:6060). fetchLimit <= 0 selects
// DefaultFetchLimit.
func NewClient(base, platform string, fetchLimit int) *Client {
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	return &Client{
		base:       base,
		platform:   platform,
		fetchLimit: fetchLimit,
		http:       &http.Client{Timeout: requestTimeout},
	}
}

type summaryPage struct {
	Vulnerabilities []struct {
		Name string `json:"Name"`
	} `json:"Vulnerabilities"`
	NextPage string `json:"NextPage"`
}

// descriptionDoc uses pointer fields so a missing key is distinguishable from
// an empty value; a record missing any of them is dropped.
type descriptionDoc struct {
	Name     *string `json:"Name"`
	Link     *string `json:"Link"`
	Severity *string `json:"Severity"`
	FixedIn  *[]struct {
		Name    *string `json:"Name"`
		Version *string `json:"Version"`
	} `json:"FixedIn"`
}

// Summaries fetches one page of vulnerability names. page is the token from a
// previous call, or empty for the first page. The returned nextPage token is
// empty once the upstream reports no further page.
func (c *Client) Summaries(page string) (names []string, nextPage string, err error) {
	u := fmt.Sprintf("%s/v1/namespaces/%s/vulnerabilities?limit=%d",
		c.base, url.PathEscape(c.platform), c.fetchLimit)
	if page != "" {
		u += "&page=" + url.QueryEscape(page)
	}

	var doc summaryPage
	if err := c.getJSON(u, &doc); err != nil {
		return nil, "", fmt.Errorf("clair summaries for %s: %w", c.platform, err)
	}

	names = make([]string, 0, len(doc.Vulnerabilities))
	for _, s := range doc.Vulnerabilities {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return names, doc.NextPage, nil
}

// Describe fetches the detailed record for one vulnerability name. ok=false
// means the upstream document was missing required fields and the record
// should be skipped.
func (c *Client) Describe(name string) (vuln.Vulnerability, bool, error) {
	u := fmt.Sprintf("%s/v1/namespaces/%s/vulnerabilities/%s?fixedIn",
		c.base, url.PathEscape(c.platform), url.PathEscape(name))

	var doc descriptionDoc
	if err := c.getJSON(u, &doc); err != nil {
		return vuln.Vulnerability{}, false, fmt.Errorf("clair description for %s/%s: %w", c.platform, name, err)
	}

	if doc.Name == nil || doc.Link == nil || doc.Severity == nil || doc.FixedIn == nil {
		return vuln.Vulnerability{}, false, nil
	}

	fixedIn := make([]vuln.Package, 0, len(*doc.FixedIn))
	for _, p := range *doc.FixedIn {
		if p.Name == nil || p.Version == nil {
			continue
		}
		fixedIn = append(fixedIn, vuln.Package{Name: *p.Name, Version: *p.Version})
	}

	return vuln.Vulnerability{
		Name:     *doc.Name,
		Platform: c.platform,
		Link:     *doc.Link,
		Severity: toSeverity(*doc.Severity),
		FixedIn:  fixedIn,
	}, true, nil
}

func (c *Client) getJSON(u string, out any) error {
	resp, err := c.http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// toSeverity maps Clair's severity vocabulary onto ours. Clair's top rating
// is Defcon, which we file under critical. Anything unrecognized is unknown.
func toSeverity(name string) vuln.Severity {
	switch name {
	case "Unknown":
		return vuln.SeverityUnknown
	case "Negligible":
		return vuln.SeverityNegligible
	case "Low":
		return vuln.SeverityLow
	case "Medium":
		return vuln.SeverityMedium
	case "High":
		return vuln.SeverityHigh
	case "Urgent":
		return vuln.SeverityUrgent
	case "Defcon":
		return vuln.SeverityCritical
	}
	return vuln.SeverityUnknown
}
