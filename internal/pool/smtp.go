package pool

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/mailcore/engine/internal/apperr"
	"github.com/mailcore/engine/internal/model"
)

// SMTPPool hands out validated *smtp.Client connections for one account
// or MTA, capped at DefaultCapacity concurrent connections.
type SMTPPool struct {
	cfg      model.SmtpConfig
	username string
	password string
	useXOAuth2 bool
	proxyURL string
	sem      semaphore
}

// NewSMTPPool builds a pool for the given SMTP endpoint and credentials.
// When useXOAuth2 is true, password is treated as a bearer token and
// XOAUTH2 SASL is used instead of PLAIN.
func NewSMTPPool(cfg model.SmtpConfig, username, password string, useXOAuth2 bool, proxyURL string) *SMTPPool {
	return &SMTPPool{cfg: cfg, username: username, password: password, useXOAuth2: useXOAuth2, proxyURL: proxyURL, sem: newSemaphore(DefaultCapacity)}
}

// SMTPConn is a leased SMTP connection.
type SMTPConn struct {
	Client *smtp.Client
	pool   *SMTPPool
}

func (c *SMTPConn) Release() { c.pool.sem.Release() }

// Acquire waits for a free slot, dials and authenticates, then validates
// the session with NOOP followed by RSET (clearing any half-started
// transaction state) before returning it.
func (p *SMTPPool) Acquire(ctx context.Context) (*SMTPConn, error) {
	if err := acquireWithTimeout(p.sem); err != nil {
		return nil, err
	}
	client, err := p.dial(ctx)
	if err != nil {
		p.sem.Release()
		return nil, apperr.SmtpFailed(err, "connect to %s:%d", p.cfg.Host, p.cfg.Port)
	}
	if err := client.Noop(); err != nil {
		client.Close()
		p.sem.Release()
		return nil, apperr.SmtpFailed(err, "validate connection via NOOP")
	}
	if err := client.Reset(); err != nil {
		client.Close()
		p.sem.Release()
		return nil, apperr.SmtpFailed(err, "validate connection via RSET")
	}
	return &SMTPConn{Client: client, pool: p}, nil
}

func (p *SMTPPool) dial(ctx context.Context) (*smtp.Client, error) {
	addr := addrOf(p.cfg.Host, p.cfg.Port)

	netConn, err := (Dialer{ProxyURL: p.proxyURL}).Dial(ctx, addr, sniffEncryptionForDial(p.cfg.Encryption))
	if err != nil {
		return nil, fmt.Errorf("dial SMTP %s: %w", addr, err)
	}

	client, err := smtp.NewClient(netConn)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("smtp handshake %s: %w", addr, err)
	}
	if err := client.Hello(p.cfg.Host); err != nil {
		client.Close()
		return nil, fmt.Errorf("smtp EHLO: %w", err)
	}
	if p.cfg.Encryption == model.EncryptionStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: p.cfg.Host}); err != nil {
				client.Close()
				return nil, fmt.Errorf("smtp STARTTLS: %w", err)
			}
		}
	}
	if err := p.authenticate(client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// sniffEncryptionForDial downgrades EncryptionStartTLS to a plain dial,
// since the TLS upgrade happens post-EHLO via the STARTTLS command.
func sniffEncryptionForDial(enc model.Encryption) model.Encryption {
	if enc == model.EncryptionStartTLS {
		return model.EncryptionNone
	}
	return enc
}

func (p *SMTPPool) authenticate(client *smtp.Client) error {
	if p.username == "" {
		return nil
	}
	var auth sasl.Client
	if p.useXOAuth2 {
		auth = sasl.NewXOauth2Client(p.username, p.password)
	} else {
		auth = sasl.NewPlainClient("", p.username, p.password)
	}
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	return nil
}
