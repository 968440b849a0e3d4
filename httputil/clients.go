package httputil

import (
	"crypto/tls"
	"log"
	"net/http"
	"net/url"
	"time"

	"rankpool/config"
)

type Clients struct {
	Scraping *http.Client // optionally proxied, for ranking sites
	API      *http.Client // direct, for Supabase and the translation API
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			log.Printf("Ignoring invalid PROXY_URL: %v", err)
		}
	}

	return &Clients{
		Scraping: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		API: &http.Client{Timeout: 30 * time.Second},
	}
}
