package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/medscribe/internal/common"
	"github.com/dmitrijs2005/medscribe/internal/logging"
	"golang.org/x/net/publicsuffix"
)

const (
	authKeyPrefix    = "auth."
	refreshCookieKey = authKeyPrefix + "refresh_cookie"
	refreshOriginKey = authKeyPrefix + "refresh_origin"
	persistTimeout   = 5 * time.Second
)

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure"`
	HttpOnly bool      `json:"http_only"`
}

func (s storedCookie) cookie() *http.Cookie {
	path := s.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     s.Name,
		Value:    s.Value,
		Path:     path,
		Expires:  s.Expires,
		Secure:   s.Secure,
		HttpOnly: s.HttpOnly,
	}
}

// PersistentJar is an http.CookieJar that additionally mirrors the refresh
// cookie into the metadata repository, so a restarted client can present the
// same refresh grant. Other cookies live in memory only.
type PersistentJar struct {
	mu     sync.Mutex
	jar    *cookiejar.Jar
	repo   metadata.Repository
	origin *url.URL
	log    logging.Logger
	now    func() time.Time
}

var _ http.CookieJar = (*PersistentJar)(nil)

// NewPersistentJar builds a jar scoped to baseURL and seeds it with any
// refresh cookie stored by a previous run. Expired or unreadable entries,
// and grants issued by a different server, are discarded.
func NewPersistentJar(ctx context.Context, baseURL string, repo metadata.Repository, log logging.Logger) (*PersistentJar, error) {
	origin, err := url.Parse(baseURL)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", baseURL)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}

	j := &PersistentJar{
		jar:    jar,
		repo:   repo,
		origin: origin,
		log:    log,
		now:    time.Now,
	}
	if err := j.load(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *PersistentJar) load(ctx context.Context) error {
	raw, err := j.repo.Get(ctx, refreshCookieKey)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load refresh cookie: %w", err)
	}

	origin, err := j.repo.Get(ctx, refreshOriginKey)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return fmt.Errorf("load refresh origin: %w", err)
	case string(origin) != j.origin.String():
		j.log.Info(ctx, "discarding refresh cookie of another server", "origin", string(origin))
		return j.forget(ctx)
	}

	var sc storedCookie
	if err := json.Unmarshal(raw, &sc); err != nil {
		j.log.Warn(ctx, "discarding unreadable refresh cookie", "error", err)
		return j.forget(ctx)
	}
	if !sc.Expires.IsZero() && !sc.Expires.After(j.now()) {
		j.log.Debug(ctx, "stored refresh cookie expired", "expires", sc.Expires)
		return j.forget(ctx)
	}

	j.jar.SetCookies(j.origin, []*http.Cookie{sc.cookie()})
	return nil
}

func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// SetCookies stores cookies in memory and persists or forgets the refresh
// cookie. Persistence failures are logged; the in-memory jar stays
// authoritative for the running process.
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)
	for _, c := range cookies {
		if c.Name != common.RefreshCookieName {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := j.persist(ctx, c)
		cancel()
		if err != nil {
			j.log.Warn(ctx, "persist refresh cookie", "error", err)
		}
	}
}

func (j *PersistentJar) persist(ctx context.Context, c *http.Cookie) error {
	now := j.now()
	if c.MaxAge < 0 || c.Value == "" || (!c.Expires.IsZero() && !c.Expires.After(now)) {
		return j.forget(ctx)
	}

	sc := storedCookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	switch {
	case c.MaxAge > 0:
		sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
	case !c.Expires.IsZero():
		sc.Expires = c.Expires
	}

	data, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return j.repo.Update(ctx, func(tx metadata.Repository) error {
		if err := tx.Set(ctx, refreshCookieKey, data); err != nil {
			return err
		}
		return tx.Set(ctx, refreshOriginKey, []byte(j.origin.String()))
	})
}

// forget deletes every stored auth entry in one transaction.
func (j *PersistentJar) forget(ctx context.Context) error {
	return j.repo.Update(ctx, func(tx metadata.Repository) error {
		all, err := tx.List(ctx)
		if err != nil {
			return err
		}
		for key := range all {
			if !strings.HasPrefix(key, authKeyPrefix) {
				continue
			}
			if err := tx.Delete(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// HasGrant reports whether a refresh cookie is currently held.
func (j *PersistentJar) HasGrant() bool {
	for _, c := range j.jar.Cookies(j.origin) {
		if c.Name == common.RefreshCookieName {
			return true
		}
	}
	return false
}

// Clear drops the refresh cookie from memory and from storage.
func (j *PersistentJar) Clear(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(j.origin, []*http.Cookie{{
		Name:   common.RefreshCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
	if err := j.forget(ctx); err != nil {
		return fmt.Errorf("delete refresh cookie: %w", err)
	}
	return nil
}
