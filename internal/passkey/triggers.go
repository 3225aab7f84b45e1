package passkey

import (
	"errors"
	"time"

	"github.com/BetterCallFirewall/authlandscape/internal/browser"
)

var (
	errNoPasskeyButton = errors.New("passkey: no passkey button visible")
	errNoUsernameField = errors.New("passkey: no username field to fill")
)

// DefaultTriggers returns the ordered candidate-triggering actions Capture
// tries (§4.5 "Implementation capture"): a passive wait for an
// autofill-style conditional prompt, clicking a visible passkey/security-key
// button, and finally filling a throwaway username and submitting the form.
func DefaultTriggers() []Trigger {
	return []Trigger{passiveWaitTrigger, clickPasskeyButtonTrigger, fillUsernameTrigger}
}

func passiveWaitTrigger(browserCtx *browser.Context) error {
	browserCtx.Sleep(2 * time.Second)
	return nil
}

const clickPasskeyButtonScript = `() => {
  const isVisible = (el) => el && el.offsetWidth > 0 && el.offsetHeight > 0;
  const els = Array.from(document.querySelectorAll('button, [role="button"], a'));
  for (const el of els) {
    if (!isVisible(el)) continue;
    const text = (el.textContent || '').toLowerCase();
    const aria = (el.getAttribute('aria-label') || '').toLowerCase();
    if (/passkey|security.?key|webauthn/.test(text) || /passkey|security.?key|webauthn/.test(aria)) {
      el.click();
      return true;
    }
  }
  return false;
}`

func clickPasskeyButtonTrigger(browserCtx *browser.Context) error {
	var clicked bool
	if err := browserCtx.Evaluate(clickPasskeyButtonScript, &clicked); err != nil {
		return err
	}
	if !clicked {
		return errNoPasskeyButton
	}
	browserCtx.Sleep(1 * time.Second)
	return nil
}

const fillUsernameScript = `() => {
  const input = document.querySelector('input[type="text"], input[type="email"], input[name*="user" i], input[name*="email" i]');
  if (!input) return false;
  input.focus();
  input.value = 'authlandscape-probe@example.com';
  input.dispatchEvent(new Event('input', {bubbles: true}));
  const form = input.closest('form');
  if (form) { form.requestSubmit ? form.requestSubmit() : form.submit(); return true; }
  const submit = document.querySelector('button[type="submit"], input[type="submit"]');
  if (submit) { submit.click(); return true; }
  return false;
}`

func fillUsernameTrigger(browserCtx *browser.Context) error {
	var submitted bool
	if err := browserCtx.Evaluate(fillUsernameScript, &submitted); err != nil {
		return err
	}
	if !submitted {
		return errNoUsernameField
	}
	browserCtx.Sleep(1 * time.Second)
	return nil
}
