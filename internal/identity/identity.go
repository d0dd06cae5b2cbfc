// Package identity gives every browser an anonymous, stable owner id kept in
// a signed cookie.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/hooksink/internal/capture"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

const (
	CookieName   = "hooksink_uid"
	cookieMaxAge = 365 * 24 * time.Hour
	idLength     = 16
)

type ctxKey struct{}

// Provider resolves the owner id of a request, issuing a new one when the
// request carries none.
type Provider interface {
	Middleware(next http.Handler) http.Handler
}

type Signer struct {
	key []byte
}

// NewSigner derives the cookie MAC key from secret so the raw secret is never
// used as a key directly.
func NewSigner(secret string) *Signer {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("hooksink cookie signing"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		panic("identity: derive cookie key: " + err.Error())
	}
	return &Signer{key: key}
}

func (s *Signer) Sign(id string) string {
	return id + ":" + s.mac(id)
}

func (s *Signer) Verify(value string) (string, bool) {
	idx := strings.LastIndexByte(value, ':')
	if idx <= 0 || idx >= len(value)-1 {
		return "", false
	}
	id, sig := value[:idx], value[idx+1:]
	if subtle.ConstantTimeCompare([]byte(sig), []byte(s.mac(id))) != 1 {
		return "", false
	}
	return id, true
}

func (s *Signer) mac(id string) string {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(id))
	return hex.EncodeToString(m.Sum(nil))
}

type CookieProvider struct {
	signer *Signer
	log    *logrus.Entry
}

func NewCookieProvider(logger *logrus.Logger, secret string) *CookieProvider {
	return &CookieProvider{
		signer: NewSigner(secret),
		log:    logger.WithField("component", "identity"),
	}
}

func (p *CookieProvider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := p.fromCookie(r)
		if !ok {
			ownerID = NewOwnerID(r)
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    p.signer.Sign(ownerID),
				Path:     "/",
				MaxAge:   int(cookieMaxAge / time.Second),
				HttpOnly: true,
				Secure:   capture.Scheme(r) == "https",
				SameSite: http.SameSiteLaxMode,
			})
			p.log.WithField("owner_id", ownerID).Debug("Issued new identity")
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), ownerID)))
	})
}

func (p *CookieProvider) fromCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	id, ok := p.signer.Verify(c.Value)
	if !ok {
		p.log.Debug("Rejected identity cookie with a bad signature")
	}
	return id, ok
}

// NewOwnerID hashes a few browser characteristics together with a random
// UUID, so two browsers never collide even with identical headers.
func NewOwnerID(r *http.Request) string {
	h := sha256.New()
	for _, part := range []string{
		r.Header.Get("User-Agent"),
		r.Header.Get("Accept-Language"),
		r.Header.Get("Accept-Encoding"),
		r.RemoteAddr,
		uuid.NewString(),
	} {
		io.WriteString(h, part)
	}
	return hex.EncodeToString(h.Sum(nil))[:idLength]
}

func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ownerID)
}

// FromContext returns the owner id set by the middleware, or "" outside it.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
