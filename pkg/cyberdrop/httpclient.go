// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// downloadErrorETags identifies specific ETags known to correspond to
// "this file was removed" placeholder responses.
var downloadErrorETags = map[string]string{
	"d835884373f4d6c8f24742ceabe74946": "Imgur image has been removed",
	"65b7753c-528a":                    "SC Scrape Image",
	"5c4fb843-ece":                     "PixHost Removed Image",
}

var cloudflareChallengeTitles = []string{"Simpcity Cuck Detection", "Attention Required! | Cloudflare"}
var cloudflareChallengeSelectors = []string{".captchawrapper", ".cf-turnstile"}
var ddosGuardChallengeTitles = []string{"Just a moment...", "DDoS-Guard"}
var ddosGuardChallengeSelectors = []string{
	"#cf-challenge-running", ".ray_id", ".attack-box", "#cf-please-wait",
	"#challenge-spinner", "#trk_jschal_js", "#turnstile-wrapper", ".lds-ring",
}

// httpClient is the HTTP Client Layer: status classification, challenge
// detection, and Flaresolverr escalation on top of a stdlib *http.Client.
//
// Handles per-domain rate limiting, response caching, challenge detection
// (Cloudflare/DDoS-Guard), and dead-content fingerprinting on every request.
type httpClient struct {
	hc      *http.Client
	jar     *cookiejar.Jar
	cache   *responseCache
	solver  *flaresolverrClient
	limiter *limiterFabric
	cfg     Settings
	log     *log.Logger
}

func newHTTPClient(cfg Settings, fabric *limiterFabric, solver *flaresolverrClient, logger *log.Logger) (*httpClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &httpClient{
		hc:      &http.Client{Transport: tr, Jar: jar, Timeout: 60 * time.Second},
		jar:     jar,
		cache:   newResponseCache(512, logger),
		solver:  solver,
		limiter: fabric,
		cfg:     cfg,
		log:     logger,
	}, nil
}

// classifiedResponse is the outcome of fetching and classifying one URL.
type classifiedResponse struct {
	status  int
	body    []byte
	headers http.Header
}

// Get performs a rate-limited GET against urlStr: dead-ETag short-circuit,
// challenge-page detection with Flaresolverr escalation, and status-code
// based errors.
func (c *httpClient) Get(ctx context.Context, urlStr, domain, referer string) (*classifiedResponse, error) {
	if c.cache != nil {
		if cached, ok := c.cache.get(urlStr); ok {
			h := http.Header{}
			for k, v := range cached.headers {
				h.Set(k, v)
			}
			return &classifiedResponse{status: cached.status, body: cached.body, headers: h}, nil
		}
	}

	release, err := c.limiter.acquireRequest(ctx, domain)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req, referer)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	cr := &classifiedResponse{status: resp.StatusCode, body: body, headers: resp.Header}

	if etag := strings.Trim(resp.Header.Get("ETag"), `"`); etag != "" {
		if msg, bad := downloadErrorETags[etag]; bad {
			return nil, &ScrapeError{URL: urlStr, Err: fmt.Errorf("%s", msg)}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		if challenged, kind := c.detectChallenge(body); challenged {
			if c.solver == nil || !c.cfg.FlaresolverrEnabled {
				return nil, &ChallengeError{URL: urlStr, Kind: kind, Reason: "no solver configured"}
			}
			solved, err := c.solveAndInstallCookies(ctx, urlStr, referer)
			if err != nil {
				return nil, &ChallengeError{URL: urlStr, Kind: kind, Reason: err.Error()}
			}
			return solved, nil
		}
		return nil, &ScrapeError{URL: urlStr, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if err := checkContentType(resp.Header); err != nil {
		return nil, &ScrapeError{URL: urlStr, Err: err}
	}

	if c.cache != nil {
		flat := map[string]string{}
		for k := range resp.Header {
			flat[k] = resp.Header.Get(k)
		}
		c.cache.put(urlStr, cachedResponse{status: cr.status, body: cr.body, headers: flat})
	}

	return cr, nil
}

// solveAndInstallCookies escalates a detected challenge to Flaresolverr,
// installs the cookies it returns into the shared jar, and retries the
// original URL directly (now authenticated by those cookies) instead of
// trusting the solver's own response body. A second challenge on the retry
// is fatal — Flaresolverr is only ever given one chance per URL.
func (c *httpClient) solveAndInstallCookies(ctx context.Context, urlStr, referer string) (*classifiedResponse, error) {
	solved, err := c.solver.Solve(ctx, urlStr, referer)
	if err != nil {
		return nil, err
	}

	if u, perr := url.Parse(urlStr); perr == nil {
		if cookies := (&http.Response{Header: solved.headers}).Cookies(); len(cookies) > 0 {
			c.jar.SetCookies(u, cookies)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req, referer)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if challenged, kind := c.detectChallenge(body); challenged {
		return nil, fmt.Errorf("still challenged (%s) after installing solver cookies", kind)
	}

	return &classifiedResponse{status: resp.StatusCode, body: body, headers: resp.Header}, nil
}

// checkContentType rejects a response carrying no Content-Type header at
// all, treated as a synthetic 418 ("No content-type in response header")
// rather than trusting a bodiless classification.
func checkContentType(h http.Header) error {
	if h.Get("Content-Type") == "" {
		return &InvalidContentTypeError{}
	}
	return nil
}

// checkDownloadHeaders applies the download-specific header checks that run
// before streaming a file body: missing content-type, dead-ETag
// placeholders, and the Bunkr maintenance-video fingerprint.
func (c *httpClient) checkDownloadHeaders(h http.Header) error {
	if err := checkContentType(h); err != nil {
		return &DownloadError{StatusCode: http.StatusTeapot, Err: err}
	}
	if etag := strings.Trim(h.Get("ETag"), `"`); etag != "" {
		if msg, bad := downloadErrorETags[etag]; bad {
			return &DownloadError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("%s", msg)}
		}
	}
	if checkBunkrMaint(h) {
		return &DownloadError{StatusCode: http.StatusServiceUnavailable, Err: fmt.Errorf("Bunkr under maintenance")}
	}
	return nil
}

// checkBunkrMaint detects Bunkr's maintenance-placeholder video response by
// its fixed Content-Length/Content-Type fingerprint.
func checkBunkrMaint(h http.Header) bool {
	return h.Get("Content-Length") == "322509" && h.Get("Content-Type") == "video/mp4"
}

func (c *httpClient) addHeaders(req *http.Request, referer string) {
	ua := c.cfg.UserAgent
	if ua == "" {
		ua = "cyberdrop-dl-go/1.0"
	}
	req.Header.Set("User-Agent", ua)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}

// detectChallenge inspects an HTML body for Cloudflare/DDoS-Guard challenge
// page markers, by page title and by CSS selector.
func (c *httpClient) detectChallenge(body []byte) (bool, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false, ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if matchesAny(title, ddosGuardChallengeTitles) || matchesSelector(doc, ddosGuardChallengeSelectors) {
		return true, "ddos-guard"
	}
	if matchesAny(title, cloudflareChallengeTitles) || matchesSelector(doc, cloudflareChallengeSelectors) {
		return true, "cloudflare"
	}
	return false, ""
}

func matchesAny(title string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(title, c) {
			return true
		}
	}
	return false
}

func matchesSelector(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// resolveAgreementURL builds the "please accept/visit" URL shown for gated
// content that requires visiting the site itself before a direct link works.
func resolveAgreementURL(base *url.URL) string {
	u := *base
	u.Path = "/"
	return u.String()
}
