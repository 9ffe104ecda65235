// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/aegis/internal/auth"
	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/logging"
)

// Identity holds claims established upstream by the authentication layer.
type Identity struct {
	UserID    string
	Role      string
	SessionID string
	TenantID  string
}

type identityKey struct{}

// WithIdentity attaches identity claims to ctx. Applications that
// authenticate before Aegis runs use this instead of bearer tokens.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns claims attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TokenValidator verifies bearer tokens. *auth.TokenManager satisfies it.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// GeoResolver resolves a public IP to a location.
type GeoResolver interface {
	Lookup(ip netip.Addr) (*GeoPoint, error)
}

// capturedHeaders is the header subset kept on a signal.
var capturedHeaders = []string{
	"User-Agent", "Referer", "Origin", "Accept", "Content-Type", "X-Forwarded-Host",
}

// Collector extracts RequestSignals from HTTP requests. Extraction never
// fails: any field that cannot be read is left nil.
type Collector struct {
	trusted    []netip.Prefix
	tokens     TokenValidator
	geo        GeoResolver
	latHeader  string
	lonHeader  string
	ctryHeader string
	maxBody    int
	now        func() time.Time
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithTokenValidator enables identity extraction from bearer tokens.
func WithTokenValidator(v TokenValidator) CollectorOption {
	return func(c *Collector) { c.tokens = v }
}

// WithGeoResolver enables IP geolocation when no geo headers are present.
func WithGeoResolver(g GeoResolver) CollectorOption {
	return func(c *Collector) { c.geo = g }
}

// WithCollectorClock overrides the signal timestamp source.
func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a collector. Trusted proxy entries may be single IPs
// or CIDRs; invalid entries are skipped (config.Validate rejects them).
func NewCollector(sec config.SecurityConfig, geo config.GeographicConfig, pipeline config.PipelineConfig, opts ...CollectorOption) *Collector {
	c := &Collector{
		latHeader:  geo.LatitudeHeader,
		lonHeader:  geo.LongitudeHeader,
		ctryHeader: geo.CountryHeader,
		maxBody:    pipeline.BodySampleBytes,
		now:        time.Now,
	}
	for _, p := range sec.TrustedProxies {
		if prefix, err := netip.ParsePrefix(p); err == nil {
			c.trusted = append(c.trusted, prefix)
		} else if addr, err := netip.ParseAddr(p); err == nil {
			c.trusted = append(c.trusted, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect builds the signal for r. The body is sampled and restored so the
// downstream handler still sees it in full.
func (c *Collector) Collect(r *http.Request) *RequestSignal {
	sig := &RequestSignal{
		RequestID: requestID(r),
		IP:        c.ClientIP(r),
		Method:    r.Method,
		Path:      r.URL.Path,
		URL:       r.URL.RequestURI(),
		Query:     r.URL.RawQuery,
		Headers:   make(map[string]string, len(capturedHeaders)),
		Timestamp: c.now().UTC(),
	}
	if r.RequestURI != "" {
		sig.URL = r.RequestURI
	}
	for _, h := range capturedHeaders {
		if v := r.Header.Get(h); v != "" {
			sig.Headers[h] = v
		}
	}

	sig.BodySize = declaredLength(r)
	sig.BodySample = c.sampleBody(r)
	c.applyIdentity(r, sig)
	sig.Geo = c.resolveGeo(r, sig.IP)
	return sig
}

// ClientIP returns the client address, honouring X-Forwarded-For and
// X-Real-IP only when the peer is a trusted proxy.
func (c *Collector) ClientIP(r *http.Request) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	peer, err := netip.ParseAddr(remote)
	if err != nil || !c.isTrusted(peer) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if addr, err := netip.ParseAddr(first); err == nil {
			return addr.String()
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.String()
		}
	}
	return remote
}

func (c *Collector) isTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func requestID(r *http.Request) string {
	if id := logging.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return logging.GenerateRequestID()
}

func declaredLength(r *http.Request) *int64 {
	if v := r.Header.Get("Content-Length"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return nil
		}
		return &n
	}
	if r.ContentLength > 0 {
		n := r.ContentLength
		return &n
	}
	return nil
}

type replayBody struct {
	io.Reader
	io.Closer
}

func (c *Collector) sampleBody(r *http.Request) string {
	if c.maxBody <= 0 || r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	sample, err := io.ReadAll(io.LimitReader(r.Body, int64(c.maxBody)))
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(sample), r.Body), Closer: r.Body}
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Failed to sample request body")
	}
	return string(sample)
}

func (c *Collector) applyIdentity(r *http.Request, sig *RequestSignal) {
	id, ok := IdentityFromContext(r.Context())
	if !ok && c.tokens != nil {
		if token, found := auth.BearerToken(r); found {
			if claims, err := c.tokens.ValidateToken(token); err == nil {
				id = Identity{
					UserID:    claims.UserID(),
					Role:      claims.Role,
					SessionID: claims.SessionID,
					TenantID:  claims.TenantID,
				}
				ok = true
			}
		}
	}
	if !ok {
		return
	}
	sig.UserID = optional(id.UserID)
	sig.Role = optional(id.Role)
	sig.SessionID = optional(id.SessionID)
	sig.TenantID = optional(id.TenantID)
}

func (c *Collector) resolveGeo(r *http.Request, ip string) *GeoPoint {
	if c.latHeader != "" && c.lonHeader != "" {
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(r.Header.Get(c.latHeader)), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(r.Header.Get(c.lonHeader)), 64)
		if errLat == nil && errLon == nil && validCoordinates(lat, lon) {
			p := &GeoPoint{Lat: lat, Lon: lon, Source: "header"}
			if c.ctryHeader != "" {
				p.Country = r.Header.Get(c.ctryHeader)
			}
			return p
		}
	}

	if c.geo == nil {
		return nil
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil || !isPublic(addr) {
		return nil
	}
	p, err := c.geo.Lookup(addr)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Str("ip", ip).Msg("GeoIP lookup failed")
		return nil
	}
	return p
}

func validCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func isPublic(addr netip.Addr) bool {
	return addr.IsValid() && !addr.IsLoopback() && !addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() && !addr.IsUnspecified() && !addr.IsMulticast()
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
