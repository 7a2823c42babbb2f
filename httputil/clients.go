package httputil

import (
	"net/http"
	"time"
)

type Clients struct {
	MLS      *http.Client // vendor feed, long timeout for large pages
	External *http.Client // Instagram, OpenGraph fetches
}

func NewClients(mlsTimeout time.Duration) *Clients {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	external := &http.Client{
		Timeout:   15 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &Clients{
		MLS:      &http.Client{Timeout: mlsTimeout, Transport: transport},
		External: external,
	}
}
