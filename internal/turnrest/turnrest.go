// Package turnrest mints coturn "TURN REST" ephemeral credentials.
//
//	username   = <unix expiry>:<prefix>:<id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// coturn recomputes the credential from the username with the same shared
// secret (use-auth-secret / static-auth-secret) and rejects it after expiry.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Now and NewID default to time.Now and a random UUID.
	Now   func() time.Time
	NewID func() string
}

type Generator struct {
	secret []byte
	ttl    int64
	prefix string
	now    func() time.Time
	newID  func() string
}

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, errors.New("turnrest: shared secret is required")
	case cfg.TTLSeconds <= 0:
		return nil, errors.New("turnrest: TTL must be > 0")
	case cfg.UsernamePrefix == "":
		return nil, errors.New("turnrest: username prefix is required")
	case strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, errors.New("turnrest: username prefix must not contain ':'")
	}

	g := &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTLSeconds,
		prefix: cfg.UsernamePrefix,
		now:    cfg.Now,
		newID:  cfg.NewID,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.newID == nil {
		g.newID = uuid.NewString
	}
	return g, nil
}

// Generate mints credentials bound to id, typically the caller's connection id.
// An empty id gets a random one.
func (g *Generator) Generate(id string) (Credentials, error) {
	if id == "" {
		id = g.newID()
	}
	if strings.Contains(id, ":") {
		return Credentials{}, errors.New("turnrest: id must not contain ':'")
	}

	expires := g.now().UTC().Unix() + g.ttl
	username := strconv.FormatInt(expires, 10) + ":" + g.prefix + ":" + id

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  time.Unix(expires, 0).UTC(),
	}, nil
}
