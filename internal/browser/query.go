package browser

import (
	"fmt"
	"strings"
)

// QueryKind selects the query language of a Query.
type QueryKind string

// Supported query languages.
const (
	KindCSS   QueryKind = "css"
	KindXPath QueryKind = "xpath"
)

// Query is a DOM lookup expressed either as a CSS selector or an XPath.
// XPath queries issued against an element must be relative (start with ".").
type Query struct {
	Kind QueryKind `json:"kind" mapstructure:"kind"`
	Expr string    `json:"expr" mapstructure:"expr"`
}

// CSS builds a CSS selector query.
func CSS(selector string) Query {
	return Query{Kind: KindCSS, Expr: selector}
}

// XPath builds an XPath query.
func XPath(expr string) Query {
	return Query{Kind: KindXPath, Expr: expr}
}

// HeadingFollowing builds the structural query "a heading element whose text
// contains label, then the sibling nodes that follow it". follow is an XPath
// step such as "ul/li", "p" or "div[contains(@class,'membership-item')]/span".
func HeadingFollowing(heading, label, follow string) Query {
	return XPath(fmt.Sprintf("//%s[contains(normalize-space(.), %s)]/following-sibling::%s",
		heading, xpathLiteral(label), follow))
}

// Heading builds a query matching a heading element containing label.
func Heading(heading, label string) Query {
	return XPath(fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", heading, xpathLiteral(label)))
}

// Validate reports malformed queries.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Expr) == "" {
		return fmt.Errorf("query expression is required")
	}
	switch q.Kind {
	case KindCSS, KindXPath:
		return nil
	default:
		return fmt.Errorf("unknown query kind %q", q.Kind)
	}
}

// String renders the query for logs.
func (q Query) String() string {
	return string(q.Kind) + ":" + q.Expr
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
