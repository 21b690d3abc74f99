package portal

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/lawble/courtsync/internal/config"
	"github.com/lawble/courtsync/internal/database"
	"github.com/lawble/courtsync/pkg/logger"
)

// Challenge is a CAPTCHA challenge captured from the portal's search
// page. The image is shown to a human; the answer goes into Search.
type Challenge struct {
	ID       string    `json:"id"`
	Image    []byte    `json:"image"`
	IssuedAt time.Time `json:"issued_at"`
}

// ChallengeProvider drives the portal's search page headlessly to
// capture the CAPTCHA image. The portal only renders the challenge in
// a browser context; everything after the answer is plain JSON.
type ChallengeProvider struct {
	cfg     *config.Config
	Browser *rod.Browser // Made public for testing
	mu      sync.Mutex
	logger  *logger.Logger
}

// NewChallengeProvider launches the browser used for challenge capture
func NewChallengeProvider(cfg *config.Config, logger *logger.Logger) (*ChallengeProvider, error) {
	l := launcher.New().
		Headless(cfg.HeadlessMode).
		Set("user-agent", cfg.UserAgent).
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation")

	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}

	browserURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(browserURL).MustConnect()

	return &ChallengeProvider{
		cfg:     cfg,
		Browser: browser,
		logger:  logger,
	}, nil
}

// Close shuts down the browser
func (p *ChallengeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.Browser.Close()
}

// Issue navigates the portal search page with the identity's session
// cookies and captures the CAPTCHA image. Each call yields a fresh
// challenge; an in-flight challenge is invalidated by issuing another
// one for the same session, so callers serialize per identity.
func (p *ChallengeProvider) Issue(ctx context.Context, identity *database.SessionIdentity) (*Challenge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	page, err := p.Browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.MustClose()

	page.MustSetViewport(1280, 900, 1, false)
	page.MustSetExtraHeaders("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.5")

	if err := p.setSessionCookies(page, identity); err != nil {
		return nil, err
	}

	searchURL := p.cfg.PortalBaseURL + "/portal/case/search"
	if err := page.Context(ctx).Navigate(searchURL); err != nil {
		return nil, WrapError(KindPortalUnavailable, "failed to load search page", err)
	}

	if err := page.Context(ctx).WaitLoad(); err != nil {
		p.logger.Warn("Search page load incomplete", "error", err)
	}

	captchaImg, err := page.Element("img#captcha_image, img[id*='captcha'], img[src*='captcha']")
	if err != nil || captchaImg == nil {
		return nil, NewError(KindPortalUnavailable, "captcha image not found on search page")
	}

	data, err := p.captureImage(page, captchaImg)
	if err != nil {
		return nil, fmt.Errorf("failed to capture captcha image: %w", err)
	}

	challenge := &Challenge{
		ID:       fmt.Sprintf("challenge_%d", time.Now().UnixNano()),
		Image:    data,
		IssuedAt: time.Now(),
	}

	p.logger.Info("CAPTCHA challenge issued", "id", challenge.ID, "bytes", len(data))
	return challenge, nil
}

func (p *ChallengeProvider) setSessionCookies(page *rod.Page, identity *database.SessionIdentity) error {
	base, err := url.Parse(p.cfg.PortalBaseURL)
	if err != nil {
		return fmt.Errorf("invalid portal base URL: %w", err)
	}

	cookies := []*proto.NetworkCookieParam{
		{Name: "JSESSIONID", Value: identity.Token, Domain: base.Hostname(), Path: "/"},
	}
	if identity.Cookie != "" {
		cookies = append(cookies, &proto.NetworkCookieParam{
			Name: "WMONID", Value: identity.Cookie, Domain: base.Hostname(), Path: "/",
		})
	}

	return page.SetCookies(cookies)
}

// captureImage tries the image src first (inline data or cookie-backed
// fetch), falling back to an element screenshot.
func (p *ChallengeProvider) captureImage(page *rod.Page, captchaImg *rod.Element) ([]byte, error) {
	src, err := captchaImg.Attribute("src")
	if err == nil && src != nil && *src != "" {
		if strings.HasPrefix(*src, "data:image") {
			parts := strings.Split(*src, ",")
			if len(parts) == 2 {
				data, err := base64.StdEncoding.DecodeString(parts[1])
				if err == nil {
					return data, nil
				}
			}
		}

		if strings.HasPrefix(*src, "http") || strings.HasPrefix(*src, "/") {
			imgURL := *src
			if strings.HasPrefix(imgURL, "/") {
				imgURL = p.cfg.PortalBaseURL + imgURL
			}

			cookies := page.MustCookies()
			return p.fetchImageWithCookies(imgURL, cookies)
		}
	}

	screenshot, err := captchaImg.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to screenshot captcha: %w", err)
	}

	return screenshot, nil
}

func (p *ChallengeProvider) fetchImageWithCookies(imgURL string, cookies []*proto.NetworkCookie) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest("GET", imgURL, nil)
	if err != nil {
		return nil, err
	}

	for _, cookie := range cookies {
		req.AddCookie(&http.Cookie{
			Name:  cookie.Name,
			Value: cookie.Value,
		})
	}

	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}
