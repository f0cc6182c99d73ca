package auth

import "github.com/xkilldash9x/musinsa-manager/internal/browser/remote"

// Selectors for the site's header and login form.
const (
	gnbLoginSelector   = `#commonLayoutGnb > div > div:nth-child(2) > a._gnb__login_vuwmc_206`
	logoutLinkSelector = `a[href*="auth/logout"], a._gnb__login_vuwmc_206`
	idInputSelector    = `input[placeholder="통합계정 또는 이메일"], input[placeholder*="아이디"], input[name="loginId"], input[name="id"], input[type="text"]`
	pwInputSelector    = `input[placeholder="비밀번호"], input[type="password"]`
)

var submitButtonSelectors = []string{
	`button[data-button-id="login_login"]`,
	`#loginForm button[type="submit"]`,
	`button.login-v2-button__item[type="submit"]`,
	`button[type="submit"]`,
}

var loginFormSelectors = []string{
	`form#loginForm`,
	`form[action*="/auth"]`,
}

type loginArgs struct {
	LoginID        string   `json:"loginId"`
	Password       string   `json:"password"`
	IDSelector     string   `json:"idSelector"`
	PWSelector     string   `json:"pwSelector"`
	Buttons        []string `json:"buttons"`
	Forms          []string `json:"forms"`
	FieldTimeoutMs int64    `json:"fieldTimeoutMs"`
	TypingDelayMs  int64    `json:"typingDelayMs"`
}

type loginOutcome struct {
	OK          bool   `json:"ok"`
	Reason      string `json:"reason"`
	SubmittedBy string `json:"submittedBy"`
}

// loginFill types the credentials and submits the form. It returns as soon as submission is
// triggered; the caller watches for alerts and navigation.
var loginFill = remote.New[loginArgs, loginOutcome]("login_fill", `async (a) => {
  const sleep = (ms) => new Promise((r) => setTimeout(r, ms));
  const waitFor = async (selector, timeout) => {
    const started = Date.now();
    while (Date.now() - started < timeout) {
      const el = document.querySelector(selector);
      if (el) return el;
      await sleep(50);
    }
    return null;
  };
  const first = (selectors) => {
    for (const s of selectors) {
      const el = document.querySelector(s);
      if (el) return el;
    }
    return null;
  };
  try {
    if (Array.isArray(window.__mmAlerts)) window.__mmAlerts.length = 0;
  } catch (e) {}

  const idInput = await waitFor(a.idSelector, a.fieldTimeoutMs);
  const pwInput = await waitFor(a.pwSelector, a.fieldTimeoutMs);
  if (!idInput || !pwInput) return { ok: false, reason: 'input_not_found' };

  const typeText = async (el, text) => {
    el.focus();
    el.value = '';
    for (const ch of text) {
      el.value += ch;
      el.dispatchEvent(new Event('input', { bubbles: true }));
      await sleep(a.typingDelayMs * (0.6 + Math.random() * 0.8));
    }
    el.dispatchEvent(new Event('change', { bubbles: true }));
  };
  await typeText(idInput, a.loginId);
  await typeText(pwInput, a.password);

  const button = first(a.buttons);
  const form = (button && button.closest('form')) || first(a.forms);

  if (button) {
    const opts = { bubbles: true, cancelable: true, view: window };
    ['pointerdown', 'mousedown', 'mouseup', 'click'].forEach((t) => button.dispatchEvent(new MouseEvent(t, opts)));
    return { ok: true, submittedBy: 'click' };
  }
  if (form) {
    if (typeof form.requestSubmit === 'function') {
      form.requestSubmit();
    } else if (form.dispatchEvent(new Event('submit', { bubbles: true, cancelable: true })) && typeof form.submit === 'function') {
      form.submit();
    }
    return { ok: true, submittedBy: 'form' };
  }
  const opts = { key: 'Enter', code: 'Enter', keyCode: 13, which: 13, bubbles: true, cancelable: true };
  ['keydown', 'keypress', 'keyup'].forEach((t) => pwInput.dispatchEvent(new KeyboardEvent(t, opts)));
  return { ok: true, submittedBy: 'enter' };
}`)

type clickArgs struct {
	Selector       string `json:"selector"`
	TimeoutMs      int64  `json:"timeoutMs"`
	DetectLoggedIn bool   `json:"detectLoggedIn"`
	ScrollOnMiss   bool   `json:"scrollOnMiss"`
}

// Results of clickLogin.
const (
	ClickAlreadyLoggedIn = "already_logged_in"
	ClickClicked         = "clicked"
	ClickNotClickable    = "not_clickable"
	ClickNotFound        = "not_found"
)

// clickLogin polls for the header login link and clicks it.
var clickLogin = remote.New[clickArgs, string]("login_click", `async (a) => {
  const sleep = (ms) => new Promise((r) => setTimeout(r, ms));
  const randomDelay = () => sleep(300 + Math.random() * 1200);
  const started = Date.now();
  while (Date.now() - started < a.timeoutMs) {
    const el = document.querySelector(a.selector);
    if (el) {
      const text = (el.textContent || '').trim();
      if (a.detectLoggedIn && /로그아웃/i.test(text)) return 'already_logged_in';
      if (typeof el.click === 'function') {
        el.click();
        return 'clicked';
      }
      return 'not_clickable';
    }
    await sleep(150);
  }
  if (a.scrollOnMiss) {
    await randomDelay();
    window.scrollTo({ top: 400, behavior: 'smooth' });
    await randomDelay();
    window.scrollTo({ top: 0, behavior: 'smooth' });
  }
  return 'not_found';
}`)

// clickLogout clicks whatever logout affordance the header shows.
var clickLogout = remote.New[string, string]("logout_click", `async (selector) => {
  const link = document.querySelector(selector);
  if (link && typeof link.click === 'function') {
    link.click();
    return 'clicked';
  }
  return 'not_found';
}`)

// fireLogout requests the logout URL and ignores the outcome.
var fireLogout = remote.New[string, bool]("logout_fetch", `async (url) => {
  fetch(url, { credentials: 'include' }).catch(() => {});
  return true;
}`)
