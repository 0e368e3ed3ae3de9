package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/models"
)

// maxProbeBody caps how much of the registry page the probe reads.
const maxProbeBody = 2 << 20

// chromeH1Spec is a Chrome ClientHello with ALPN restricted to http/1.1,
// since http.Transport cannot speak h2 over a utls connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Probe checks a registry page without a browser: one GET with a Chrome TLS
// fingerprint and the engine's network identity. It answers "can we reach
// the registry, and is it currently serving an interstitial?".
type Probe struct {
	client         *http.Client
	userAgent      string
	acceptLanguage string
	blockPhrases   []string
}

// NewProbe creates a Probe that presents the same identity and proxy as
// browser sessions built from cfg.
func NewProbe(cfg config.EngineConfig, blockPhrases []string) *Probe {
	transport := &http.Transport{
		DialTLSContext:    dialChromeTLS,
		ForceAttemptHTTP2: false,
	}
	if cfg.ProxyEndpoint != "" {
		if u, err := url.Parse(cfg.ProxyEndpoint); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Probe{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeouts.Navigation,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent:      cfg.UserAgent,
		acceptLanguage: cfg.AcceptLanguage,
		blockPhrases:   blockPhrases,
	}
}

func dialChromeTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("probe: apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// Check fetches target and reports reachability. Failures are reported in
// the returned value, never as an error.
func (p *Probe) Check(ctx context.Context, jurisdiction, target string) models.ProbeReport {
	start := time.Now()
	report := models.ProbeReport{Jurisdiction: jurisdiction}
	defer func() { report.LatencyMs = time.Since(start).Milliseconds() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		report.Error = fmt.Sprintf("build request: %v", err)
		return report
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", p.acceptLanguage)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := p.client.Do(req)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		report.Error = fmt.Sprintf("read body: %v", err)
		return report
	}

	report.Reachable = true
	report.StatusCode = resp.StatusCode
	report.Title = pageTitle(body)

	if phrase := MatchPhrase(report.Title+" "+visibleText(body), p.blockPhrases); phrase != "" {
		report.Blocked = true
		report.BlockReason = phrase
	} else if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		report.Blocked = true
		report.BlockReason = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return report
}

// pageTitle returns the text of the first <title> element.
func pageTitle(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := z.TagName()
			if string(tn) == "title" {
				if z.Next() == html.TextToken {
					return strings.TrimSpace(string(z.Text()))
				}
				return ""
			}
		}
	}
}

// visibleText returns the text inside <body>, skipping script and style.
func visibleText(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	var buf strings.Builder
	inBody := false
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			tn, _ := z.TagName()
			switch string(tn) {
			case "body":
				inBody = true
			case "script", "style", "noscript":
				skip++
			}
		case html.EndTagToken:
			tn, _ := z.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if inBody && skip == 0 {
				if text := strings.TrimSpace(string(z.Text())); text != "" {
					buf.WriteString(text)
					buf.WriteByte(' ')
				}
			}
		}
	}
}
