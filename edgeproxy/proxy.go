package edgeproxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	OriginURL   string
	ImagePrefix string
	ImageMaxAge time.Duration
}

// New returns a reverse proxy to the origin. Responses under the image prefix
// are marked immutable for browsers and the CDN.
func New(cfg Config, transport http.RoundTripper) (http.Handler, error) {
	origin, err := url.Parse(cfg.OriginURL)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("edge proxy: invalid origin url %q", cfg.OriginURL)
	}
	if cfg.ImagePrefix == "" {
		return nil, errors.New("edge proxy: image prefix is required")
	}
	maxAge := int(cfg.ImageMaxAge.Seconds())
	cacheControl := "public, max-age=" + strconv.Itoa(maxAge) + ", immutable"

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
			pr.Out.Host = origin.Host
			pr.Out.Header.Set("X-Forwarded-Host", pr.In.Host)
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			if !strings.HasPrefix(resp.Request.URL.Path, joinPath(origin.Path, cfg.ImagePrefix)) {
				return nil
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return nil
			}
			resp.Header.Set("Cache-Control", cacheControl)
			resp.Header.Set("CDN-Cache-Control", cacheControl)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("Edge: upstream request failed")
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("bad gateway\n"))
		},
	}
	return rp, nil
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}
