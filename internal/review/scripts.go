package review

import "github.com/xkilldash9x/musinsa-manager/internal/browser/remote"

// Selectors for the review list and the review form.
const (
	listMarkerSelector = `[data-testid='virtuoso-item-list']`
	listItemSelector   = `div[data-item-index]`
	cardSelector       = `.ReviewAbleItem__Container-sc-1mz74fe-0`
	textareaSelectors  = `textarea[name="reviewContent"], textarea[data-testid], textarea`
	writePath          = `/mypage/myreview/write`
	listPath           = `/mypage/myreview`

	fileInputSelectors = `input.UploadingImageBox__Input-sc-1sm534o-1,input.UploadingImageBox__HiddenInput-sc-1sm534o-2,input[type="file"],.ReviewUploadImage__ImageGroup-sc-1nx69l8-2 input[type="file"]`
	uploadTrigger      = `.ReviewUploadImage__ImageGroup-sc-1nx69l8-2 .UploadingImageBox__Container-sc-1sm534o-0`
	// cdpFileInput is the target of the low-level fallback.
	cdpFileInput = `.ReviewUploadImage__ImageGroup-sc-1nx69l8-2 input[type="file"],input[type="file"]`
)

// scriptPrelude holds the helpers every form step shares. clickSafe dispatches a synthetic
// click and falls back to click(); setValue goes through the prototype setter so the
// page's framework sees the change.
const scriptPrelude = `
  const sleep = (ms) => new Promise((r) => setTimeout(r, ms));
  const clickSafe = (el) => {
    if (!el) return;
    try {
      el.dispatchEvent(new MouseEvent('click', { bubbles: true, cancelable: true, view: window }));
    } catch (e) {
      try { el.click(); } catch (err) { /* ignore */ }
    }
  };
  const setValue = (el, value) => {
    if (!el) return;
    const setter = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(el), 'value')?.set;
    if (setter) setter.call(el, value ?? ''); else el.value = value ?? '';
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));
  };
`

func step[A any, R any](name, body string) remote.Script[A, R] {
	return remote.New[A, R](name, "async (a) => {"+scriptPrelude+body+"}")
}

type formStateArgs struct {
	TimeoutMs      int64  `json:"timeoutMs"`
	PollMs         int64  `json:"pollMs"`
	WritePath      string `json:"writePath"`
	Textarea       string `json:"textarea"`
	AwaitWritePage bool   `json:"awaitWritePage"`
}

type formState struct {
	Ready bool   `json:"ready"`
	Href  string `json:"href"`
}

// waitForm polls for the review textarea. Off the write page it gives up at once unless
// told to wait for the page to change.
var waitForm = step[formStateArgs, formState]("review_wait_form", `
  const deadline = Date.now() + a.timeoutMs;
  for (;;) {
    const onWrite = location.href.includes(a.writePath);
    if (!onWrite && !a.awaitWritePage) return { ready: false, href: location.href };
    if (onWrite && document.querySelector(a.textarea)) return { ready: true, href: location.href };
    if (Date.now() >= deadline) return { ready: false, href: location.href };
    await sleep(a.pollMs);
  }
`)

type snapshotArgs struct {
	TimeoutMs int64  `json:"timeoutMs"`
	PollMs    int64  `json:"pollMs"`
	ScrollBy  int    `json:"scrollBy"`
	SettleMs  int64  `json:"settleMs"`
	Marker    string `json:"marker"`
}

type listSnapshot struct {
	Ready bool   `json:"ready"`
	HTML  string `json:"html"`
}

// snapshotList optionally scrolls, then returns the rendered part of the virtualized
// review list once its marker is present.
var snapshotList = step[snapshotArgs, listSnapshot]("review_list_snapshot", `
  if (a.scrollBy) {
    window.scrollBy(0, a.scrollBy);
    await sleep(a.settleMs);
  }
  const deadline = Date.now() + a.timeoutMs;
  for (;;) {
    const list = document.querySelector(a.marker);
    if (list) return { ready: true, html: list.outerHTML };
    if (Date.now() >= deadline) return { ready: false, html: '' };
    await sleep(a.pollMs);
  }
`)

type openArgs struct {
	ItemIndex string `json:"itemIndex"`
	Kind      string `json:"kind"`
	Card      string `json:"card"`
}

type stepOutcome struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason"`
	Skipped string `json:"skipped"`
}

// openWrite clicks the write button of one list entry. General reviews take the plain
// write button; style reviews the style one. Finished and expired slots are skipped.
var openWrite = step[openArgs, stepOutcome]("review_open_write", `
  const item = document.querySelector('div[data-item-index="' + CSS.escape(a.itemIndex) + '"]');
  if (!item) return { ok: false, reason: 'container_not_found' };
  const card = item.querySelector(a.card) || item;
  const target = Array.from(card.querySelectorAll('a button, button')).find((btn) => {
    const txt = (btn.textContent || '').replace(/\s+/g, '');
    if (txt.includes('완료') || txt.includes('기간만료')) return false;
    if (a.kind === 'general') return txt.includes('후기작성') && !txt.includes('스타일');
    return txt.includes('스타일후기작성');
  });
  if (!target) return { ok: false, reason: 'button_not_found' };
  try { target.scrollIntoView({ block: 'center' }); } catch (e) { /* ignore */ }
  clickSafe(target);
  return { ok: true };
`)

type fillArgs struct {
	Textarea  string `json:"textarea"`
	Content   string `json:"content"`
	NeedsBody bool   `json:"needsBody"`
	Gender    string `json:"gender"`
	Height    string `json:"height"`
	Weight    string `json:"weight"`
}

type fillOutcome struct {
	Rated     bool `json:"rated"`
	Questions int  `json:"questions"`
	Content   bool `json:"content"`
	Gender    bool `json:"gender"`
	Measures  int  `json:"measures"`
}

// fillForm gives five stars, answers every satisfaction question with its fifth choice,
// writes the content and, where the form has them, the body fields.
var fillForm = step[fillArgs, fillOutcome]("review_fill_form", `
  const out = { rated: false, questions: 0, content: false, gender: false, measures: 0 };
  try {
    const explicit = document.querySelector("button[aria-label*='5점']") ||
      document.querySelector("button[aria-label*='별점'][aria-label*='5']");
    if (explicit) {
      clickSafe(explicit);
      out.rated = true;
    } else {
      let stars = Array.from(document.querySelectorAll('.StarScore__StarGroup-sc-udpksw-2.bQBXgW > div'));
      if (stars.length === 0) stars = Array.from(document.querySelectorAll('div[class*="StarScore"] > div > div'));
      const star = stars[stars.length - 1];
      if (star) {
        clickSafe(star);
        clickSafe(star.querySelector('svg'));
        out.rated = true;
      }
    }
  } catch (e) { /* ignore */ }

  try {
    let questions = Array.from(document.querySelectorAll('.SatisfactionQuestions__Container-sc-12q7sgr-0.iKgIHa > div'));
    if (questions.length === 0) questions = Array.from(document.querySelectorAll('[class*="SatisfactionQuestions"] > div'));
    for (const q of questions) {
      const direct = q.querySelector('div.Answer__AnswerWrapper-sc-mvl9p5-2:nth-child(5) button, div.Answer__Wrapper-sc-mvl9p5-0.iabSQi > div > div:nth-child(5) button');
      if (direct) {
        clickSafe(direct);
        out.questions++;
        continue;
      }
      const btns = Array.from(q.querySelectorAll('button'));
      if (btns.length > 0) {
        clickSafe(btns[Math.min(btns.length - 1, 4)]);
        out.questions++;
      }
    }
  } catch (e) { /* ignore */ }

  const textarea = document.querySelector(a.textarea);
  if (textarea) {
    setValue(textarea, a.content);
    out.content = true;
  }

  if (a.needsBody) {
    try {
      if (a.gender) {
        const chip = Array.from(document.querySelectorAll('button[data-mds="Chip"]'))
          .find((c) => (c.textContent || '').trim() === a.gender);
        if (chip) {
          clickSafe(chip);
          out.gender = true;
        }
      }
    } catch (e) { /* ignore */ }
    try {
      const inputs = Array.from(document.querySelectorAll('div.ReviewBody__ClearableTextField-sc-h2fdld-5.dvrynB input'));
      if (inputs[0]) { setValue(inputs[0], a.height); out.measures++; }
      if (inputs[1]) { setValue(inputs[1], a.weight); out.measures++; }
    } catch (e) { /* ignore */ }
  }
  return out;
`)

type attachArgs struct {
	Name     string `json:"name"`
	Data     string `json:"data"`
	Inputs   string `json:"inputs"`
	Trigger  string `json:"trigger"`
	Attempts int    `json:"attempts"`
	PollMs   int64  `json:"pollMs"`
}

type attachOutcome struct {
	OK         bool `json:"ok"`
	Tries      int  `json:"tries"`
	Candidates int  `json:"candidates"`
	FileCount  int  `json:"fileCount"`
}

// attachImage builds a File from base64 data and assigns it to the first empty file
// input, clicking the upload box to make inputs appear when there are none.
var attachImage = step[attachArgs, attachOutcome]("review_attach_image", `
  const binary = atob(a.data);
  const bytes = new Uint8Array(binary.length);
  for (let i = 0; i < binary.length; i++) bytes[i] = binary.charCodeAt(i);
  const dt = new DataTransfer();
  dt.items.add(new File([new Blob([bytes])], a.name || 'upload.jpg'));

  let candidates = 0;
  const pick = () => {
    const all = Array.from(document.querySelectorAll(a.inputs));
    candidates = all.length;
    return all.find((i) => !i.value) || all[all.length - 1] || null;
  };
  let input = pick();
  let tries = 0;
  while (!input && tries < a.attempts) {
    try { clickSafe(document.querySelector(a.trigger)); } catch (e) { /* ignore */ }
    await sleep(a.pollMs);
    input = pick();
    tries++;
  }
  if (!input) return { ok: false, tries, candidates, fileCount: 0 };
  try { input.scrollIntoView({ block: 'center' }); } catch (e) { /* ignore */ }
  input.files = dt.files;
  input.dispatchEvent(new Event('input', { bubbles: true }));
  input.dispatchEvent(new Event('change', { bubbles: true }));
  try {
    const form = input.closest('form') || document.querySelector('form');
    if (form) form.dispatchEvent(new Event('change', { bubbles: true }));
  } catch (e) { /* ignore */ }
  return { ok: true, tries, candidates, fileCount: (input.files && input.files.length) || 0 };
`)

type submitArgs struct {
	SkipSubmit     bool  `json:"skipSubmit"`
	DialogAttempts int   `json:"dialogAttempts"`
	PollMs         int64 `json:"pollMs"`
}

// submitForm agrees to the terms, presses the register button and dismisses the
// confirmation dialog if one shows up.
var submitForm = step[submitArgs, stepOutcome]("review_submit", `
  try { clickSafe(document.querySelector('.AllAgree__Container-sc-1ze1dl-0.eNTziq button')); } catch (e) { /* ignore */ }
  if (a.skipSubmit) return { ok: true, skipped: 'submit' };

  const submit = document.querySelector("button[data-button-name='등록하기']") ||
    document.querySelector("button.gtm-click-button[data-button-id='check']") ||
    document.querySelector("button.gtm-click-button[data-button-name='등록하기']") ||
    document.querySelector('button[type="submit"]');
  if (!submit) return { ok: false, reason: 'submit_not_found' };
  try { submit.scrollIntoView({ block: 'center' }); } catch (e) { /* ignore */ }
  await sleep(a.pollMs);
  clickSafe(submit);

  for (let i = 0; i < a.dialogAttempts; i++) {
    const confirm = Array.from(document.querySelectorAll('button')).find((b) => /확인/.test((b.textContent || '').trim()));
    if (confirm) {
      clickSafe(confirm);
      break;
    }
    await sleep(a.pollMs);
  }
  return { ok: true };
`)

type completeArgs struct {
	Attempts int   `json:"attempts"`
	PollMs   int64 `json:"pollMs"`
}

// clickComplete presses the confirm button on the completion screen.
var clickComplete = step[completeArgs, bool]("review_complete", `
  for (let i = 0; i < a.attempts; i++) {
    const btn = document.querySelector('#__next > main > div.Footer__Container-sc-ncdyhi-0.iceuL > button') ||
      Array.from(document.querySelectorAll('button')).find((b) => (b.textContent || '').trim() === '확인');
    if (btn) {
      clickSafe(btn);
      return true;
    }
    await sleep(a.pollMs);
  }
  return false;
`)

type listReadyArgs struct {
	TimeoutMs int64  `json:"timeoutMs"`
	PollMs    int64  `json:"pollMs"`
	ListPath  string `json:"listPath"`
	Marker    string `json:"marker"`
}

// waitList waits until the tab is back on the review list with its content rendered.
var waitList = step[listReadyArgs, bool]("review_wait_list", `
  const deadline = Date.now() + a.timeoutMs;
  for (;;) {
    if (location.href.includes(a.listPath) && !location.href.includes(a.listPath + '/write') && document.querySelector(a.marker)) return true;
    if (Date.now() >= deadline) return false;
    await sleep(a.pollMs);
  }
`)
