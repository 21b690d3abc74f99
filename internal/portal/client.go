package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lawble/courtsync/internal/config"
	"github.com/lawble/courtsync/internal/database"
	"github.com/lawble/courtsync/pkg/logger"
)

// Doer issues HTTP requests. *http.Client satisfies it; tests inject a
// fake transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs the remote portal operations: CAPTCHA-gated case
// search, credential-based detail fetch, and session refresh. It never
// persists anything and never retries internally.
type Client struct {
	HTTP Doer // Made public for testing

	baseURL   string
	userAgent string
	logger    *logger.Logger
}

// SearchRequest carries the inputs for a CAPTCHA-gated case search.
type SearchRequest struct {
	CourtCode     string
	CaseYear      string
	CaseTypeCode  string
	CaseSerial    string
	PartyName     string
	CaptchaAnswer string
}

// SearchResult is a successful search: the opaque per-case credential
// plus the portal's normalized court code.
type SearchResult struct {
	Credential string
	CourtCode  string
}

// RenewedSession is the outcome of a session refresh.
type RenewedSession struct {
	Token     string
	Cookie    string
	ExpiresAt time.Time
}

// NewClient creates a portal client
func NewClient(cfg *config.Config, logger *logger.Logger) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: cfg.PortalTimeout},
		baseURL:   cfg.PortalBaseURL,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Search performs the CAPTCHA-gated case search. The captcha answer
// must come from a challenge issued for the same session; a failed
// answer is terminal for this call and must not be resubmitted.
func (c *Client) Search(ctx context.Context, identity *database.SessionIdentity, req SearchRequest) (*SearchResult, error) {
	if req.CaptchaAnswer == "" {
		return nil, NewError(KindInvalidCaptcha, "captcha answer is required for search")
	}

	body := searchRequest{
		CourtCode:     req.CourtCode,
		CaseYear:      req.CaseYear,
		CaseTypeCode:  req.CaseTypeCode,
		CaseSerial:    req.CaseSerial,
		PartyName:     req.PartyName,
		CaptchaAnswer: req.CaptchaAnswer,
	}

	var resp searchResponse
	if err := c.post(ctx, identity, "/portal/case/search", body, &resp); err != nil {
		return nil, err
	}

	if err := classify(resp.ResultCode, resp.ResultMessage); err != nil {
		c.logger.Warn("Case search rejected by portal",
			"court", req.CourtCode,
			"year", req.CaseYear,
			"code", resp.ResultCode,
		)
		return nil, err
	}

	if resp.EncCaseNo == "" {
		return nil, NewError(KindPortalUnavailable, "portal returned success without a case credential")
	}

	courtCode := resp.CourtCode
	if courtCode == "" {
		courtCode = req.CourtCode
	}

	c.logger.Info("Case search succeeded", "court", courtCode, "year", req.CaseYear)

	return &SearchResult{Credential: resp.EncCaseNo, CourtCode: courtCode}, nil
}

// FetchDetail fetches the raw case payload using a previously obtained
// credential. No CAPTCHA is required, but the owning identity must
// still be live; otherwise the caller has to go through search again.
func (c *Client) FetchDetail(ctx context.Context, identity *database.SessionIdentity, credential string) (*RawCasePayload, error) {
	if !identity.Live(time.Now()) {
		return nil, NewError(KindSessionExpired, "owning session identity is no longer active")
	}
	if credential == "" {
		return nil, NewError(KindCaseNotFound, "empty case credential")
	}

	var resp detailResponse
	if err := c.post(ctx, identity, "/portal/case/detail", detailRequest{EncCaseNo: credential}, &resp); err != nil {
		return nil, err
	}

	if err := classify(resp.ResultCode, resp.ResultMessage); err != nil {
		return nil, err
	}

	return &resp.Payload, nil
}

// RefreshSession establishes a fresh session through the portal's
// refresh flow. This is a distinct operation from search and does not
// involve a CAPTCHA.
func (c *Client) RefreshSession(ctx context.Context, identity *database.SessionIdentity) (*RenewedSession, error) {
	var resp refreshResponse
	if err := c.post(ctx, identity, "/portal/session/refresh", struct{}{}, &resp); err != nil {
		return nil, err
	}

	if err := classify(resp.ResultCode, resp.ResultMessage); err != nil {
		return nil, err
	}

	if resp.Token == "" {
		return nil, NewError(KindPortalUnavailable, "portal returned success without a session token")
	}

	expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	if err != nil {
		return nil, WrapError(KindPortalUnavailable, "unparseable session expiry", err)
	}

	return &RenewedSession{
		Token:     resp.Token,
		Cookie:    resp.Cookie,
		ExpiresAt: expiresAt,
	}, nil
}

// post issues one JSON call carrying the identity's session cookies
// and decodes the response. Network failures are classified here so
// every caller sees the same taxonomy.
func (c *Client) post(ctx context.Context, identity *database.SessionIdentity, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return WrapError(KindPortalUnavailable, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return WrapError(KindPortalUnavailable, "failed to build request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: identity.Token})
	if identity.Cookie != "" {
		req.AddCookie(&http.Cookie{Name: "WMONID", Value: identity.Cookie})
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return WrapError(KindTimeout, "portal call timed out", err)
		}
		return WrapError(KindPortalUnavailable, "portal call failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(KindSessionExpired, fmt.Sprintf("portal rejected session: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return NewError(KindPortalUnavailable, fmt.Sprintf("portal returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return WrapError(KindPortalUnavailable, "failed to decode portal response", err)
	}

	return nil
}

// classify maps portal result codes into the error taxonomy.
func classify(code, message string) error {
	switch code {
	case codeOK:
		return nil
	case codeInvalidCaptcha:
		return NewError(KindInvalidCaptcha, message)
	case codeCaseNotFound:
		return NewError(KindCaseNotFound, message)
	case codePartyNameMismatch:
		return NewError(KindPartyNameMismatch, message)
	case codeSessionExpired:
		return NewError(KindSessionExpired, message)
	default:
		return NewError(KindPortalUnavailable, fmt.Sprintf("portal error %s: %s", code, message))
	}
}
