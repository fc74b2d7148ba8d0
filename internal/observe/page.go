package observe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Selectors locate the caption and roster regions of the meeting page.
// The page re-renders constantly, so every scan resolves them fresh;
// nothing here holds a node reference across calls.
type Selectors struct {
	CaptionsRenderer string
	CaptionMessage   string
	Author           string
	CaptionText      string
	LeaveButtons     []string
	MoreButton       string
	LanguageSpeech   string
	TurnOnCaptions   string
	AttendeeTree     string
	AttendeeItem     string
	AttendeeName     string
	AttendeeRole     string
}

func DefaultSelectors() Selectors {
	return Selectors{
		CaptionsRenderer: "[data-tid='closed-caption-v2-window-wrapper'], [data-tid='closed-captions-renderer'], [data-tid*='closed-caption']",
		CaptionMessage:   ".fui-ChatMessageCompact",
		Author:           "[data-tid='author']",
		CaptionText:      "[data-tid='closed-caption-text']",
		LeaveButtons: []string{
			"button[data-tid='hangup-main-btn']",
			"button[data-tid='hangup-leave-button']",
			"button[data-tid='hangup-end-meeting-button']",
			"div#hangup-button button",
			"#hangup-button",
		},
		MoreButton:     "button[data-tid='more-button'], button[id='callingButtons-showMoreBtn']",
		LanguageSpeech: "div[id='LanguageSpeechMenuControl-id']",
		TurnOnCaptions: "div[id='closed-captions-button']",
		AttendeeTree:   "[role='tree'][aria-label='Attendees']",
		AttendeeItem:   "[data-tid^='participantsInCall-']",
		AttendeeName:   "[id^='roster-avatar-img-']",
		AttendeeRole:   "[data-tid='ts-roster-organizer-status']",
	}
}

// PageSource reads captions from a live meeting page through a headless
// browser session. It implements Source.
type PageSource struct {
	sel    Selectors
	cancel []context.CancelFunc
	ctx    context.Context
}

// NewPageSource launches a browser and navigates to the meeting URL.
func NewPageSource(ctx context.Context, url string, sel Selectors) (*PageSource, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	p := &PageSource{
		sel:    sel,
		cancel: []context.CancelFunc{browserCancel, allocCancel},
		ctx:    browserCtx,
	}

	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	); err != nil {
		p.Close()
		return nil, fmt.Errorf("navigating to meeting page: %w", err)
	}
	return p, nil
}

func (p *PageSource) Close() {
	for _, c := range p.cancel {
		c()
	}
}

// VisibleCaptions scrapes the currently rendered caption elements in
// document order. Returns ok=false when the caption region is absent
// (captions not enabled), which is not an error.
func (p *PageSource) VisibleCaptions(ctx context.Context) ([]RawCaption, bool, error) {
	js := fmt.Sprintf(`(() => {
		const root = document.querySelector(%q);
		if (!root) return null;
		const out = [];
		root.querySelectorAll(%q).forEach((el, i) => {
			const author = el.querySelector(%q);
			const text = el.querySelector(%q);
			if (!author || !text) return;
			const speaker = author.innerText.trim();
			const body = text.innerText.trim();
			if (!speaker || !body) return;
			out.push({
				id: el.getAttribute('data-caption-id') || '',
				speaker: speaker,
				text: body,
				position: i,
			});
		});
		return out;
	})()`, p.sel.CaptionsRenderer, p.sel.CaptionMessage, p.sel.Author, p.sel.CaptionText)

	var items []struct {
		ID       string `json:"id"`
		Speaker  string `json:"speaker"`
		Text     string `json:"text"`
		Position int    `json:"position"`
	}
	runCtx, cancel := tabCtx(ctx, p.ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &items)); err != nil {
		return nil, false, fmt.Errorf("scanning captions: %w", err)
	}
	if items == nil {
		return nil, false, nil
	}

	visible := make([]RawCaption, 0, len(items))
	for _, it := range items {
		visible = append(visible, RawCaption{
			ElementID: it.ID,
			Speaker:   it.Speaker,
			Text:      it.Text,
			Position:  it.Position,
		})
	}
	return visible, true, nil
}

// InMeeting reports whether the page shows an active call. Presence of a
// leave/hang-up control is the signal.
func (p *PageSource) InMeeting(ctx context.Context) (bool, error) {
	js := fmt.Sprintf(`[%s].some(s => document.querySelector(s) !== null)`,
		quoteList(p.sel.LeaveButtons))
	var in bool
	runCtx, cancel := tabCtx(ctx, p.ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &in)); err != nil {
		return false, fmt.Errorf("checking call state: %w", err)
	}
	return in, nil
}

// Roster scrapes the attendee panel. ok=false means the panel is not
// open, which callers treat as "fall back to transcript speakers".
func (p *PageSource) Roster(ctx context.Context) ([]RosterEntry, bool, error) {
	js := fmt.Sprintf(`(() => {
		const tree = document.querySelector(%q);
		if (!tree) return null;
		const out = [];
		document.querySelectorAll(%q).forEach(item => {
			const nameEl = item.querySelector(%q);
			if (!nameEl) return;
			const roleEl = item.querySelector(%q);
			out.push({
				name: nameEl.innerText.trim(),
				role: roleEl ? roleEl.innerText.trim() : 'Attendee',
			});
		});
		return out;
	})()`, p.sel.AttendeeTree, p.sel.AttendeeItem, p.sel.AttendeeName, p.sel.AttendeeRole)

	var items []struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	runCtx, cancel := tabCtx(ctx, p.ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &items)); err != nil {
		return nil, false, fmt.Errorf("scanning roster: %w", err)
	}
	if items == nil {
		return nil, false, nil
	}

	entries := make([]RosterEntry, 0, len(items))
	for _, it := range items {
		if it.Name == "" {
			continue
		}
		entries = append(entries, RosterEntry{Name: it.Name, Role: it.Role})
	}
	return entries, true, nil
}

func (p *PageSource) MeetingTitle(ctx context.Context) (string, error) {
	var title string
	runCtx, cancel := tabCtx(ctx, p.ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("reading page title: %w", err)
	}
	return strings.TrimSpace(title), nil
}

// EnableCaptions walks the call menu to switch captions on: more menu,
// language and speech, turn on captions. Each click needs the previous
// menu layer to finish rendering.
func (p *PageSource) EnableCaptions(ctx context.Context) error {
	runCtx, cancel := tabCtx(ctx, p.ctx)
	defer cancel()

	steps := []string{p.sel.MoreButton, p.sel.LanguageSpeech, p.sel.TurnOnCaptions}
	for _, sel := range steps {
		if err := clickFirst(runCtx, sel); err != nil {
			return err
		}
		select {
		case <-time.After(400 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func clickFirst(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.click();
		return true;
	})()`, selector)
	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return fmt.Errorf("clicking %s: %w", selector, err)
	}
	if !clicked {
		return fmt.Errorf("control not found: %s", selector)
	}
	return nil
}

func quoteList(selectors []string) string {
	quoted := make([]string, len(selectors))
	for i, s := range selectors {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}

// tabCtx bounds browser operations by the caller's deadline while keeping
// the long-lived browser session alive across calls.
func tabCtx(caller, browser context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := caller.Deadline(); ok {
		return context.WithDeadline(browser, deadline)
	}
	return context.WithCancel(browser)
}
