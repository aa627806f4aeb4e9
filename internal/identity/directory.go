package identity

import (
	"context"
	"sync"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/gommon/log"
)

type userGetter interface {
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
}

// Directory resolves Firebase uids to display names with a small TTL cache.
type Directory struct {
	users userGetter
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cachedName
}

type cachedName struct {
	name    string
	expires time.Time
}

func NewDirectory(client *auth.Client, ttl time.Duration) *Directory {
	return newDirectory(client, ttl)
}

func newDirectory(users userGetter, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Directory{
		users: users,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedName),
	}
}

// DisplayName returns "" when the user is unknown or has no name set.
func (d *Directory) DisplayName(ctx context.Context, uid string) string {
	if uid == "" {
		return ""
	}
	now := d.now()
	d.mu.Lock()
	if c, ok := d.cache[uid]; ok && now.Before(c.expires) {
		d.mu.Unlock()
		return c.name
	}
	d.mu.Unlock()

	u, err := d.users.GetUser(ctx, uid)
	if err != nil {
		log.Debugf("[identity] uid=%s stage=lookup_fail err=%v", uid, err)
		return ""
	}
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	d.mu.Lock()
	d.cache[uid] = cachedName{name: name, expires: now.Add(d.ttl)}
	d.mu.Unlock()
	return name
}

// Static is a fixed uid to name table for local development.
type Static map[string]string

func (s Static) DisplayName(_ context.Context, uid string) string {
	return s[uid]
}
