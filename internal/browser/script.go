package browser

import (
	"encoding/json"
	"fmt"
)

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// inDoc wraps body in a function that binds doc to the list document, x
// to a single-node XPath lookup and text to the whitespace-collapsed
// textContent of a node, the same string collapseText yields for parsed
// HTML. When the document is unreachable the function returns fallback.
// Scripts never return undefined or null.
func inDoc(root, fallback, body string) string {
	return fmt.Sprintf(`(() => {
	let doc = null;
	try { doc = %s; } catch (e) {}
	if (!doc || !doc.body) return %s;
	const x = (p) => doc.evaluate(p, doc, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	const text = (el) => el ? (el.textContent || "").replace(/\s+/g, " ").trim() : "";
	%s
})()`, root, fallback, body)
}

// frameRoot is the root expression that reaches into the Hide My Email
// iframe from the top document.
func frameRoot(frameSelector string) string {
	return fmt.Sprintf("document.querySelector(%s).contentDocument", jsString(frameSelector))
}

// sectionLookup defines c as the list container, falling back to the n-th
// <section> of the frame.
func sectionLookup(container string, index int) string {
	return fmt.Sprintf(`const c = x(%s) || x(%s);`, jsString(container), jsString(fmt.Sprintf("//section[%d]", index)))
}

// querySection resolves to {header, html} once the header is present and to
// false before that.
func querySection(root, header, container string, index int) string {
	return inDoc(root, "false", fmt.Sprintf(`
	const h = x(%s);
	if (!h) return false;
	%s
	return {header: text(h), html: c ? c.outerHTML : ""};`,
		jsString(header), sectionLookup(container, index)))
}

// Head statuses returned by expandHead.
const (
	headExpanded = "expanded"
	headStale    = "stale"
	headNoExpand = "no-expand"
)

// expandHead clicks the expand control of the first row, but only when that
// row still shows address.
func expandHead(root, container string, index int, itemSel, addressSel, expandSel, address string) string {
	return inDoc(root, jsString(headStale), fmt.Sprintf(`
	%s
	if (!c) return %q;
	const li = c.querySelector(%s);
	if (!li || text(li.querySelector(%s)) !== %s) return %q;
	const b = li.querySelector(%s);
	if (!b) return %q;
	b.click();
	return %q;`,
		sectionLookup(container, index), headStale,
		jsString(itemSel), jsString(addressSel), jsString(address), headStale,
		jsString(expandSel), headNoExpand, headExpanded))
}

// clickButtonWithText clicks the first button whose text is label.
func clickButtonWithText(root, label string) string {
	return inDoc(root, "false", fmt.Sprintf(`
	const b = Array.from(doc.querySelectorAll("button")).find((el) => text(el) === %s);
	if (!b) return false;
	b.click();
	return true;`, jsString(label)))
}

// confirmButton finds the dialog button with a span labelled label.
func confirmButton(label string) string {
	return fmt.Sprintf(`Array.from(doc.querySelectorAll("button")).find((el) =>
		Array.from(el.querySelectorAll("span")).some((s) => text(s) === %s))`, jsString(label))
}

func clickConfirm(root, label string) string {
	return inDoc(root, "false", fmt.Sprintf(`
	const b = %s;
	if (!b) return false;
	b.click();
	return true;`, confirmButton(label)))
}

// confirmGone resolves to true once the dialog button has disappeared.
func confirmGone(root, label string) string {
	return inDoc(root, "false", fmt.Sprintf(`return !(%s);`, confirmButton(label)))
}

// clickXPath clicks the node at path.
func clickXPath(root, path string) string {
	return inDoc(root, "false", fmt.Sprintf(`
	const el = x(%s);
	if (!el) return false;
	el.click();
	return true;`, jsString(path)))
}

// focusXPath focuses and selects the input at path.
func focusXPath(root, path string) string {
	return inDoc(root, "false", fmt.Sprintf(`
	const el = x(%s);
	if (!el) return false;
	el.focus();
	if (el.select) el.select();
	return true;`, jsString(path)))
}

// frameReady resolves to true once the list document inside the frame has
// loaded.
func frameReady(root string) string {
	return inDoc(root, "false", `return doc.readyState === "complete" || doc.readyState === "interactive";`)
}

// clickSelector clicks the first element matching a CSS selector in the top
// document.
func clickSelector(selector string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.click();
	return true;
})()`, jsString(selector))
}

// present resolves to true when selector matches in the top document.
func present(selector string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
}
