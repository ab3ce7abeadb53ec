package gmail

import (
	"bytes"
	"encoding/gob"

	"github.com/mailcore/engine/internal/store"
	"golang.org/x/oauth2"
)

const tokenBucket = "gmail_oauth_tokens"

// TokenStore persists per-account OAuth2 tokens, gob-encoded, keyed by
// account id.
type TokenStore struct {
	kv *store.BoltKV
}

func NewTokenStore(kv *store.BoltKV) *TokenStore { return &TokenStore{kv: kv} }

func (s *TokenStore) Get(accountID string) (*oauth2.Token, bool) {
	bs, ok := s.kv.Get(tokenBucket, accountID)
	if !ok {
		return nil, false
	}
	var tok oauth2.Token
	if err := gob.NewDecoder(bytes.NewReader(bs)).Decode(&tok); err != nil {
		return nil, false
	}
	return &tok, true
}

func (s *TokenStore) Set(accountID string, tok *oauth2.Token) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tok); err != nil {
		return err
	}
	s.kv.Set(tokenBucket, accountID, buf.Bytes())
	return nil
}
