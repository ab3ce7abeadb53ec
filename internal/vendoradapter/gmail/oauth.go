// Package gmail implements the Gmail REST vendor adapter: OAuth2 token
// management, rate-limited/circuit-broken REST calls, and the
// full/incremental history-based sync pipeline.
package gmail

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"time"

	"golang.org/x/oauth2"
)

// AcquireToken runs the local-redirect OAuth2 authorization-code flow: a
// loopback HTTP server receives the redirect, and a browser (or, with
// OAUTH=NOBROWSER, a pasted code) supplies the authorization code. This
// supports per-account OAuth client credentials -- cfg.ClientID/ClientSecret
// are supplied by the caller per account instead of being process-wide
// constants.
func AcquireToken(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	browser := os.Getenv("OAUTH") != "NOBROWSER"
	var code string
	var err error
	if browser {
		fmt.Println("Launching browser for OAuth exchange. To skip, rerun with environment variable 'OAUTH' set to 'NOBROWSER'.")
		code, err = tokenFromWeb(ctx, cfg)
	}
	if err != nil || !browser {
		cfg.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
		authURL := cfg.AuthCodeURL("")
		fmt.Printf("Authorize this app at %s and paste the authorization code.\n> ", authURL)
		if _, serr := fmt.Scanf("%s", &code); serr != nil {
			return nil, serr
		}
	}
	return cfg.Exchange(ctx, code)
}

func tokenFromWeb(ctx context.Context, config *oauth2.Config) (string, error) {
	ch := make(chan string)
	randState := fmt.Sprintf("st%d", time.Now().UnixNano())
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/favicon.ico" {
			http.Error(rw, "", 404)
			return
		}
		if req.FormValue("state") != randState {
			log.Printf("state mismatch: req = %#v", req)
			http.Error(rw, "", 500)
			return
		}
		if code := req.FormValue("code"); code != "" {
			fmt.Fprintf(rw, "<h1>Success</h1>Authorized.")
			rw.(http.Flusher).Flush()
			ch <- code
			return
		}
		http.Error(rw, "", 500)
	}))
	defer ts.Close()
	config.RedirectURL = ts.URL
	authURL := config.AuthCodeURL(randState)
	errs := make(chan error, 1)
	go func() { errs <- openURL(authURL) }()
	if err := <-errs; err != nil {
		return "", err
	}
	return <-ch, nil
}

func openURL(url string) error {
	for _, bin := range []string{"xdg-open", "google-chrome", "open"} {
		if err := exec.Command(bin, url).Run(); err == nil {
			return nil
		}
	}
	fmt.Printf("Open %v in your browser.\n", url)
	return nil
}
