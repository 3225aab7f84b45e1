// Package cookiestore loads and applies pre-authenticated IdP session
// cookies, used to exercise detections without an interactive login.
// Grounded in original_source's cookie-store generator, which produces one
// JSON cookie array per IdP via a manual login and a dump of the browser's
// cookie jar; this package is the Go-side consumer of that same JSON shape,
// built on top of browser.Context's SetCookies/GetCookies (§5 "IdP cookie
// stores... loaded into a fresh context from disk").
package cookiestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BetterCallFirewall/authlandscape/internal/browser"
)

// Store holds every loaded cookie jar, keyed by IdP name.
type Store struct {
	dir   string
	byIdP map[string][]browser.Cookie
}

// Load reads every "<idp>.json" file in dir for the given idpNames into a
// Store. A missing file is not an error; that IdP simply has no stored
// session and Restore leaves the browser's cookies unchanged for it.
func Load(dir string, idpNames []string) (*Store, error) {
	s := &Store{dir: dir, byIdP: make(map[string][]browser.Cookie)}
	for _, name := range idpNames {
		path := filepath.Join(dir, name+".json")
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cookiestore: read %s: %w", path, err)
		}
		var cookies []browser.Cookie
		if err := json.Unmarshal(raw, &cookies); err != nil {
			return nil, fmt.Errorf("cookiestore: parse %s: %w", path, err)
		}
		s.byIdP[name] = cookies
	}
	return s, nil
}

// Has reports whether a session was loaded for idpName.
func (s *Store) Has(idpName string) bool {
	_, ok := s.byIdP[idpName]
	return ok
}

// Restore installs idpName's stored cookies into browserCtx before
// navigation, so C4 opens an already-authenticated session. A no-op when
// nothing was loaded for idpName.
func (s *Store) Restore(browserCtx *browser.Context, idpName string) error {
	cookies, ok := s.byIdP[idpName]
	if !ok || len(cookies) == 0 {
		return nil
	}
	return browserCtx.SetCookies(browserCtx.InnerContext(), cookies)
}

// Capture reads browserCtx's current cookies and persists them under
// idpName, replacing any stored jar, so a later Load restores the session
// as it stood at capture time. It does not check whether a login took
// place; cmd/worker calls it after every task run.
func (s *Store) Capture(browserCtx *browser.Context, idpName string) error {
	cookies, err := browserCtx.GetCookies(browserCtx.InnerContext())
	if err != nil {
		return err
	}
	return s.Save(idpName, cookies)
}

// Save writes cookies for idpName back to disk in the same shape Load
// reads, creating dir if needed.
func (s *Store) Save(idpName string, cookies []browser.Cookie) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cookiestore: create dir %s: %w", s.dir, err)
	}

	raw, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("cookiestore: marshal %s: %w", idpName, err)
	}
	path := filepath.Join(s.dir, idpName+".json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("cookiestore: write %s: %w", idpName, err)
	}
	s.byIdP[idpName] = cookies
	return nil
}
