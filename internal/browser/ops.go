package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	readability "github.com/go-shiori/go-readability"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/tools"
)

// Execute runs one operation against the tab's page. In-page failures
// (missing elements, script errors) come back as failed Results the model
// can react to; only a missing page escalates to an error.
func (e *Executor) Execute(ctx context.Context, tabID string, function string, args json.RawMessage) (*tools.Result, error) {
	page, err := e.page(tabID)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		page = page.Timeout(time.Until(deadline))
	}

	start := time.Now()
	result := e.dispatch(page, function, args)
	L_debug("browser: operation done", "tab", tabID, "function", function,
		"success", result.Success, "duration", time.Since(start).String())
	return result, nil
}

func (e *Executor) dispatch(page *rod.Page, function string, args json.RawMessage) *tools.Result {
	switch function {
	case tools.Find:
		return e.find(page, args)
	case tools.Click:
		return e.click(page, args)
	case tools.Type:
		return e.typeText(page, args)
	case tools.Extract:
		return e.extract(page, args)
	case tools.Describe:
		return e.describe(page, args)
	case tools.Summary:
		return e.summary(page)
	case tools.Screenshot:
		return e.screenshot(page)
	case tools.GetResponsePage:
		// Paginated results live on the coordinator, never in the page.
		return fail("getResponsePage is answered by the coordinator, not the page executor")
	default:
		return fail("%s", tools.UnknownError(function))
	}
}

func fail(format string, a ...any) *tools.Result {
	return &tools.Result{Success: false, Error: fmt.Sprintf(format, a...)}
}

func succeed(v any) *tools.Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return fail("failed to encode result: %v", err)
	}
	return &tools.Result{Success: true, Result: raw}
}

// foundElement is one match returned by find
type foundElement struct {
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	Selector string `json:"selector,omitempty"`
	Href     string `json:"href,omitempty"`
	Visible  bool   `json:"visible"`
}

const findCandidateSelector = "a, button, input, select, textarea, [role=button], [onclick], h1, h2, h3, label"

func (e *Executor) find(page *rod.Page, args json.RawMessage) *tools.Result {
	var req struct {
		Pattern string `json:"pattern"`
		Options struct {
			Limit       int  `json:"limit"`
			VisibleOnly bool `json:"visibleOnly"`
		} `json:"options"`
	}
	if err := json.Unmarshal(args, &req); err != nil || req.Pattern == "" {
		return fail("find requires a pattern")
	}
	limit := req.Options.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	// A pattern that parses as a selector wins; otherwise match visible
	// text across interactive elements.
	if els, err := page.Elements(req.Pattern); err == nil && len(els) > 0 {
		return succeed(collectElements(els, "", limit, req.Options.VisibleOnly))
	}
	els, err := page.Elements(findCandidateSelector)
	if err != nil {
		return fail("find failed: %v", err)
	}
	matches := collectElements(els, strings.ToLower(req.Pattern), limit, req.Options.VisibleOnly)
	if len(matches) == 0 {
		return fail("no elements matching %q", req.Pattern)
	}
	return succeed(matches)
}

func collectElements(els rod.Elements, lowerPattern string, limit int, visibleOnly bool) []foundElement {
	out := make([]foundElement, 0, limit)
	for _, el := range els {
		text, _ := el.Text()
		if lowerPattern != "" && !strings.Contains(strings.ToLower(text), lowerPattern) {
			continue
		}
		visible, _ := el.Visible()
		if visibleOnly && !visible {
			continue
		}
		fe := foundElement{Text: truncate(strings.TrimSpace(text), 200), Visible: visible}
		if desc, err := el.Describe(0, false); err == nil {
			fe.Tag = strings.ToLower(desc.LocalName)
		}
		if id, _ := el.Attribute("id"); id != nil && *id != "" {
			fe.Selector = "#" + *id
		}
		if href, _ := el.Attribute("href"); href != nil {
			fe.Href = *href
		}
		out = append(out, fe)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func (e *Executor) click(page *rod.Page, args json.RawMessage) *tools.Result {
	var req struct {
		Selector string `json:"selector"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(args, &req); err != nil || req.Selector == "" {
		return fail("click requires a selector")
	}
	el, errMsg := resolveElement(page, req.Selector, req.Text)
	if errMsg != "" {
		return fail("%s", errMsg)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fail("click failed on %s: %v", req.Selector, err)
	}
	return succeed(map[string]string{"clicked": req.Selector})
}

func (e *Executor) typeText(page *rod.Page, args json.RawMessage) *tools.Result {
	var req struct {
		Selector string `json:"selector"`
		Text     string `json:"text"`
		Options  struct {
			Clear  bool `json:"clear"`
			Submit bool `json:"submit"`
		} `json:"options"`
	}
	if err := json.Unmarshal(args, &req); err != nil || req.Selector == "" {
		return fail("type requires a selector and text")
	}
	el, errMsg := resolveElement(page, req.Selector, "")
	if errMsg != "" {
		return fail("%s", errMsg)
	}
	if req.Options.Clear {
		if err := el.SelectAllText(); err != nil {
			L_debug("browser: select-all before typing failed", "selector", req.Selector, "error", err)
		}
	}
	if err := el.Input(req.Text); err != nil {
		return fail("typing into %s failed: %v", req.Selector, err)
	}
	if req.Options.Submit {
		if err := el.Type(input.Enter); err != nil {
			return fail("submit after typing failed: %v", err)
		}
	}
	return succeed(map[string]string{"typed": req.Selector})
}

func (e *Executor) extract(page *rod.Page, args json.RawMessage) *tools.Result {
	var req struct {
		Selector string `json:"selector"`
		Property string `json:"property"`
	}
	if err := json.Unmarshal(args, &req); err != nil || req.Selector == "" {
		return fail("extract requires a selector")
	}
	el, errMsg := resolveElement(page, req.Selector, "")
	if errMsg != "" {
		return fail("%s", errMsg)
	}
	switch req.Property {
	case "", "text":
		text, err := el.Text()
		if err != nil {
			return fail("text extraction failed: %v", err)
		}
		return succeed(map[string]string{"value": text})
	case "html":
		html, err := el.HTML()
		if err != nil {
			return fail("html extraction failed: %v", err)
		}
		md, err := htmltomd.ConvertString(html)
		if err != nil {
			// Raw HTML still answers the question.
			return succeed(map[string]string{"value": html})
		}
		return succeed(map[string]string{"value": md})
	default:
		val, err := el.Attribute(req.Property)
		if err != nil || val == nil {
			return fail("element has no attribute %q", req.Property)
		}
		return succeed(map[string]string{"value": *val})
	}
}

func (e *Executor) describe(page *rod.Page, args json.RawMessage) *tools.Result {
	var req struct {
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal(args, &req); err != nil || req.Selector == "" {
		return fail("describe requires a selector")
	}
	el, errMsg := resolveElement(page, req.Selector, "")
	if errMsg != "" {
		return fail("%s", errMsg)
	}

	desc := map[string]any{"selector": req.Selector}
	if node, err := el.Describe(0, false); err == nil {
		desc["tag"] = strings.ToLower(node.LocalName)
		attrs := map[string]string{}
		for i := 0; i+1 < len(node.Attributes); i += 2 {
			attrs[node.Attributes[i]] = node.Attributes[i+1]
		}
		desc["attributes"] = attrs
	}
	if text, err := el.Text(); err == nil {
		desc["text"] = truncate(strings.TrimSpace(text), 500)
	}
	if visible, err := el.Visible(); err == nil {
		desc["visible"] = visible
	}
	if shape, err := el.Shape(); err == nil && len(shape.Quads) > 0 {
		box := shape.Box()
		desc["position"] = map[string]float64{"x": box.X, "y": box.Y, "width": box.Width, "height": box.Height}
	}
	return succeed(desc)
}

func (e *Executor) summary(page *rod.Page) *tools.Result {
	html, err := page.HTML()
	if err != nil {
		return fail("failed to read page: %v", err)
	}
	info, err := page.Info()
	if err != nil {
		return fail("failed to read page info: %v", err)
	}
	pageURL, _ := url.Parse(info.URL)

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		L_warn("browser: readability failed, using raw text", "url", info.URL, "error", err)
		el, elErr := page.Element("body")
		if elErr != nil {
			return fail("page has no readable content")
		}
		text, _ := el.Text()
		return succeed(map[string]string{"title": info.Title, "url": info.URL, "content": text})
	}

	content := article.TextContent
	if md, mdErr := htmltomd.ConvertString(article.Content); mdErr == nil && md != "" {
		content = md
	}
	return succeed(map[string]string{
		"title":   firstNonEmpty(article.Title, info.Title),
		"url":     info.URL,
		"byline":  article.Byline,
		"content": content,
	})
}

func (e *Executor) screenshot(page *rod.Page) *tools.Result {
	raw, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fail("screenshot failed: %v", err)
	}

	// Resize before shipping: full-page captures are too big for the
	// message channel and for the model.
	img, err := png.Decode(bytes.NewReader(raw))
	if err == nil {
		resized := imaging.Fit(img, e.cfg.ScreenshotMaxDim, e.cfg.ScreenshotMaxDim, imaging.Lanczos)
		var buf bytes.Buffer
		if encErr := png.Encode(&buf, resized); encErr == nil {
			raw = buf.Bytes()
		}
	}
	return succeed(map[string]string{
		"mimeType": mimetype.Detect(raw).String(),
		"data":     base64.StdEncoding.EncodeToString(raw),
	})
}

// resolveElement finds the selector's element, optionally narrowed to the
// match containing the given visible text.
func resolveElement(page *rod.Page, selector, text string) (*rod.Element, string) {
	if text == "" {
		el, err := page.Element(selector)
		if err != nil {
			return nil, fmt.Sprintf("element not found: %s", selector)
		}
		return el, ""
	}
	els, err := page.Elements(selector)
	if err != nil || len(els) == 0 {
		return nil, fmt.Sprintf("element not found: %s", selector)
	}
	lower := strings.ToLower(text)
	for _, el := range els {
		if t, _ := el.Text(); strings.Contains(strings.ToLower(t), lower) {
			return el, ""
		}
	}
	return nil, fmt.Sprintf("no %s element with text %q", selector, text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		cut = n
	}
	return s[:cut] + "…"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
