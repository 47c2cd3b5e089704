package browser

import (
	"fmt"
	"strings"
)

// Locator identifies an element on the page. A locator carries a CSS form, an
// XPath form, or both; drivers prefer CSS when it is available.
type Locator struct {
	css   string
	xpath string
	desc  string
}

// ID locates by the id attribute. Console ids may contain spaces ("get status"),
// so an attribute selector is used instead of "#id".
func ID(id string) Locator {
	return Locator{
		css:   fmt.Sprintf("[id=%s]", cssString(id)),
		xpath: fmt.Sprintf("//*[@id=%s]", xpathLiteral(id)),
		desc:  "id=" + id,
	}
}

// Name locates by the name attribute.
func Name(name string) Locator {
	return Locator{
		css:   fmt.Sprintf("[name=%s]", cssString(name)),
		xpath: fmt.Sprintf("//*[@name=%s]", xpathLiteral(name)),
		desc:  "name=" + name,
	}
}

// Class locates by a single class name.
func Class(class string) Locator {
	return Locator{
		css:   fmt.Sprintf("[class~=%s]", cssString(class)),
		xpath: fmt.Sprintf("//*[contains(concat(' ', normalize-space(@class), ' '), %s)]", xpathLiteral(" "+class+" ")),
		desc:  "class=" + class,
	}
}

// CSS locates by a raw CSS selector.
func CSS(sel string) Locator {
	return Locator{css: sel, desc: "css=" + sel}
}

// XPath locates by a raw XPath expression.
func XPath(expr string) Locator {
	return Locator{xpath: expr, desc: "xpath=" + expr}
}

// LinkText locates an anchor by its visible text.
func LinkText(text string) Locator {
	return Locator{
		xpath: fmt.Sprintf("//a[normalize-space(.)=%s]", xpathLiteral(text)),
		desc:  "link=" + text,
	}
}

// CSSSelector returns the CSS form, or "" when the locator has none.
func (l Locator) CSSSelector() string { return l.css }

// XPathExpr returns the XPath form, or "" when the locator has none.
func (l Locator) XPathExpr() string { return l.xpath }

// IsZero reports whether the locator was never set.
func (l Locator) IsZero() bool { return l.css == "" && l.xpath == "" }

func (l Locator) String() string { return l.desc }

// Within scopes l to descendants of parent. An absolute XPath (one starting
// with a single "/") addresses the whole document and is returned unchanged.
func (l Locator) Within(parent Locator) (Locator, error) {
	if parent.IsZero() {
		return l, nil
	}
	if isAbsoluteXPath(l.xpath) && l.css == "" {
		return l, nil
	}
	desc := parent.desc + " > " + l.desc
	if parent.css != "" && l.css != "" {
		out := Locator{css: parent.css + " " + l.css, desc: desc}
		if parent.xpath != "" && l.xpath != "" {
			out.xpath = parent.xpath + relativeXPath(l.xpath)
		}
		return out, nil
	}
	if parent.xpath != "" && l.xpath != "" {
		return Locator{xpath: parent.xpath + relativeXPath(l.xpath), desc: desc}, nil
	}
	return Locator{}, fmt.Errorf("cannot scope %s within %s", l.desc, parent.desc)
}

func isAbsoluteXPath(x string) bool {
	return strings.HasPrefix(x, "/") && !strings.HasPrefix(x, "//")
}

// relativeXPath turns "//a[...]" into a descendant step appendable to another path.
func relativeXPath(x string) string {
	if strings.HasPrefix(x, "//") {
		return x
	}
	return "//" + strings.TrimPrefix(x, "./")
}

// cssString quotes s as a CSS string token.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// xpathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so strings containing both quote kinds are built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
