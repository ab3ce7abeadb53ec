package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/cache"
	"github.com/mailcore/engine/internal/config"
	"github.com/mailcore/engine/internal/diskcache"
	"github.com/mailcore/engine/internal/model"
	"github.com/mailcore/engine/internal/pool"
	"github.com/mailcore/engine/internal/ratelimit"
	"github.com/mailcore/engine/internal/store"
	"github.com/mailcore/engine/internal/vendoradapter"
	"github.com/mailcore/engine/internal/vendoradapter/gmail"
	"github.com/mailcore/engine/internal/vendoradapter/graph"
	imapadapter "github.com/mailcore/engine/internal/vendoradapter/imap"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

var gmailScopes = []string{"https://www.googleapis.com/auth/gmail.modify"}

func newAdapterFactory(cfg *config.Config, db *store.DB, disk *diskcache.Cache, log zerolog.Logger) func(ctx context.Context, acct model.Account) (vendoradapter.Adapter, error) {
	c := cache.New(db)
	tokens := gmail.NewTokenStore(db.Meta)

	return func(ctx context.Context, acct model.Account) (vendoradapter.Adapter, error) {
		switch acct.MailerType {
		case model.MailerGmailAPI:
			return newGmailAdapter(ctx, cfg, acct, db, c, disk, tokens, log)
		case model.MailerImapSmtp:
			return newIMAPAdapter(acct, db, c, disk, log), nil
		case model.MailerGraphAPI:
			return newGraphAdapter(ctx, cfg, acct, db, c, disk, log)
		default:
			return nil, apperr.InvalidParam("unknown mailer type %q for account %q", acct.MailerType, acct.ID)
		}
	}
}

func newGmailAdapter(ctx context.Context, cfg *config.Config, acct model.Account, db *store.DB, c *cache.Cache, disk *diskcache.Cache, tokens *gmail.TokenStore, log zerolog.Logger) (vendoradapter.Adapter, error) {
	if cfg.GmailOAuthClientID == "" {
		return nil, apperr.MissingConfig("MAILCORE_GMAIL_OAUTH_CLIENT_ID not set")
	}
	tok, ok := tokens.Get(acct.ID)
	if !ok {
		return nil, apperr.MissingConfig("no stored oauth2 token for gmail account %q", acct.ID)
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailOAuthClientID,
		ClientSecret: cfg.GmailOAuthClientSecret,
		Scopes:       gmailScopes,
		Endpoint:     googleoauth.Endpoint,
	}
	return gmail.New(ctx, acct.ID, oauthCfg, tok, db, c, disk, log)
}

func newIMAPAdapter(acct model.Account, db *store.DB, c *cache.Cache, disk *diskcache.Cache, log zerolog.Logger) vendoradapter.Adapter {
	proxyURL := resolveProxyURL(db, acct.ProxyID)
	p := pool.NewIMAPPool(*acct.Imap, acct.Email, acct.Auth.Password, proxyURL)
	return imapadapter.New(acct.ID, p, db, c, disk, log)
}

func newGraphAdapter(ctx context.Context, cfg *config.Config, acct model.Account, db *store.DB, c *cache.Cache, disk *diskcache.Cache, log zerolog.Logger) (vendoradapter.Adapter, error) {
	if cfg.GraphOAuthClientID == "" {
		return nil, apperr.MissingConfig("MAILCORE_GRAPH_OAUTH_CLIENT_ID not set")
	}
	tokens := gmail.NewTokenStore(db.Meta) // same gob-encoded token bucket shape, keyed by account id
	tok, ok := tokens.Get(acct.ID)
	if !ok {
		return nil, apperr.MissingConfig("no stored oauth2 token for graph account %q", acct.ID)
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GraphOAuthClientID,
		ClientSecret: cfg.GraphOAuthClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(cfg.GraphOAuthTenantID),
	}
	ts := oauthCfg.TokenSource(ctx, tok)
	return graph.New(ctx, acct.ID, ts, db, c, disk, log), nil
}

func resolveProxyURL(db *store.DB, proxyID string) string {
	if proxyID == "" {
		return ""
	}
	p, ok := db.Proxies.FindByPrimary(proxyID)
	if !ok {
		return ""
	}
	return p.URL
}

func newSMTPPoolResolver(db *store.DB, log zerolog.Logger) func(ctx context.Context, task model.SendEmailTask) (*pool.SMTPPool, error) {
	return func(ctx context.Context, task model.SendEmailTask) (*pool.SMTPPool, error) {
		if task.MTAID != "" {
			mta, ok := db.MTAs.FindByPrimary(task.MTAID)
			if !ok {
				return nil, apperr.NotFound("mta %q not found", task.MTAID)
			}
			mta.LastAccessAt = time.Now()
			_ = db.MTAs.Put(mta)
			proxyURL := resolveProxyURL(db, mta.ProxyID)
			return pool.NewSMTPPool(model.SmtpConfig{Host: mta.Host, Port: mta.Port, Encryption: mta.Encryption},
				mta.Username, mta.Password, false, proxyURL), nil
		}
		acct, ok := db.Accounts.FindByPrimary(task.AccountID)
		if !ok {
			return nil, apperr.NotFound("account %q not found", task.AccountID)
		}
		if acct.Smtp == nil {
			return nil, apperr.MissingConfig("account %q has no smtp config", acct.ID)
		}
		proxyURL := resolveProxyURL(db, acct.ProxyID)
		useXOAuth2 := acct.Auth.Type == model.AuthOAuth2
		return pool.NewSMTPPool(*acct.Smtp, acct.Email, acct.Auth.Password, useXOAuth2, proxyURL), nil
	}
}

func newAdapterResolverForSend(factory func(ctx context.Context, acct model.Account) (vendoradapter.Adapter, error), db *store.DB) func(ctx context.Context, accountID string) (vendoradapter.Adapter, error) {
	return func(ctx context.Context, accountID string) (vendoradapter.Adapter, error) {
		acct, ok := db.Accounts.FindByPrimary(accountID)
		if !ok {
			return nil, apperr.NotFound("account %q not found", accountID)
		}
		return factory(ctx, acct)
	}
}

func defaultPolicy() ratelimit.RateLimit {
	return ratelimit.Default()
}

// base64Codec is a development-mode stand-in for track.Codec: it makes
// tracking tokens round-trip without pulling in a real authenticated
// encryption scheme, which is outside this engine's scope (see
// internal/track's Codec doc comment). Production deployments must
// supply their own Codec.
type base64Codec struct{}

func newTrackCodec() base64Codec { return base64Codec{} }

func (base64Codec) Encrypt(plaintext []byte) (string, error) {
	return base64.URLEncoding.EncodeToString(plaintext), nil
}

func (base64Codec) Decrypt(token string) ([]byte, error) {
	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode tracking token: %w", err)
	}
	return b, nil
}
