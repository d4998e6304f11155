// Package enrich turns what the HTTP layer knows about a request into a
// PII-free visit context.
package enrich

import (
	"encoding/hex"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/pkg/useragent"

	"golang.org/x/crypto/blake2b"
)

const (
	maxReferrerLen = 500
	maxHostLen     = 255
	maxUTMLen      = 100
	maxGeoLen      = 100
	maxDeviceLen   = 10
	maxAgentLen    = 50
)

// DeviceClassifier classifies user agents.
type DeviceClassifier interface {
	ParseUserAgent(userAgent string) *useragent.DeviceInfo
}

type Enricher struct {
	key        []byte
	classifier DeviceClassifier
	now        func() time.Time
}

// New builds an enricher. salt keys the visitor hash so ids cannot be reversed
// by hashing candidate IPs.
func New(salt string, classifier DeviceClassifier) *Enricher {
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Enricher{key: key, classifier: classifier, now: time.Now}
}

func (e *Enricher) Enrich(raw *domain.RawVisit) *domain.VisitContext {
	now := e.now().UTC()
	headers := http.Header(raw.Headers)
	query := url.Values(raw.Query)

	visit := &domain.VisitContext{
		VisitorID:  e.VisitorID(raw.ClientIP, raw.UserAgent),
		Country:    country(headers),
		City:       truncate(headers.Get("X-Geo-City"), maxGeoLen),
		Region:     truncate(headers.Get("X-Geo-Region"), maxGeoLen),
		Referrer:   truncate(raw.Referrer, maxReferrerLen),
		OccurredAt: now,
		UTM: domain.UTM{
			Source:   truncate(query.Get("utm_source"), maxUTMLen),
			Medium:   truncate(query.Get("utm_medium"), maxUTMLen),
			Campaign: truncate(query.Get("utm_campaign"), maxUTMLen),
			Term:     truncate(query.Get("utm_term"), maxUTMLen),
			Content:  truncate(query.Get("utm_content"), maxUTMLen),
		},
	}
	kind, host := ClassifyReferrer(raw.Referrer)
	visit.ReferrerType = kind
	visit.ReferrerHost = truncate(host, maxHostLen)

	if e.classifier != nil {
		info := e.classifier.ParseUserAgent(raw.UserAgent)
		visit.DeviceType = truncate(info.DeviceType, maxDeviceLen)
		visit.Browser = truncate(info.Browser, maxAgentLen)
		visit.OS = truncate(info.OS, maxAgentLen)
		visit.IsBot = info.IsBot
	}

	if !raw.StartedAt.IsZero() {
		if ms := now.Sub(raw.StartedAt).Milliseconds(); ms > 0 {
			visit.ResponseTimeMs = ms
		}
	}

	return visit
}

// VisitorID derives a stable, keyed hash of the client address and user agent.
func (e *Enricher) VisitorID(clientIP, userAgent string) string {
	h, err := blake2b.New256(e.key)
	if err != nil {
		// only reachable with an oversized key, which New prevents
		sum := blake2b.Sum256([]byte(clientIP + "|" + userAgent))
		return hex.EncodeToString(sum[:])
	}
	h.Write([]byte(stripPort(clientIP)))
	h.Write([]byte{'|'})
	h.Write([]byte(userAgent))
	return hex.EncodeToString(h.Sum(nil))
}

// country reads the edge-provided ISO code. CDN placeholders for unknown or Tor are dropped.
func country(h http.Header) string {
	code := h.Get("CF-IPCountry")
	if code == "" {
		code = h.Get("X-Geo-Country")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 || code == "XX" || code == "T1" {
		return ""
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return ""
		}
	}
	return code
}

var socialHosts = []string{
	"facebook.com", "fb.com", "instagram.com", "twitter.com", "x.com", "t.co",
	"linkedin.com", "lnkd.in", "reddit.com", "youtube.com", "tiktok.com",
	"pinterest.com", "t.me", "telegram.org", "whatsapp.com", "vk.com",
}

var searchEngines = []string{"google", "bing", "duckduckgo", "yahoo", "yandex", "baidu", "ecosia"}

// ClassifyReferrer buckets a Referer header and returns its normalized host.
func ClassifyReferrer(referrer string) (domain.ReferrerType, string) {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return domain.ReferrerDirect, ""
	}

	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return domain.ReferrerOther, ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	for _, d := range socialHosts {
		if host == d || strings.HasSuffix(host, "."+d) {
			return domain.ReferrerSocial, host
		}
	}

	labels := strings.Split(host, ".")
	for _, label := range labels[:len(labels)-1] {
		for _, engine := range searchEngines {
			if label == engine {
				return domain.ReferrerSearch, host
			}
		}
	}

	return domain.ReferrerOther, host
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// truncate makes s storable in a varchar(n) column: invalid UTF-8 and NUL
// bytes are dropped and the result is cut to at most n runes.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
