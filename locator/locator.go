package locator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/snikic01/BelexEmailerFinal-v1.0/parser"
)

// Strategy names, in default priority order.
const (
	StrategyStructural   = "structural"
	StrategyLabelSibling = "label-sibling"
	StrategyContaining   = "containing-text"
	StrategyDocument     = "document-regex"
	StrategyFirstNumber  = "first-number"
	StrategySelector     = "selector"
)

// labelWindow is how many non-digit characters may sit between a label and
// its number in whole-document matching.
const labelWindow = 20

var numberTokenRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// Candidate is a piece of text that may hold a price.
type Candidate struct {
	Text string
}

// Strategy produces candidates from a document. Find must not mutate doc.
type Strategy struct {
	Name string
	Find func(doc *Document) []Candidate
}

// Match is a located price and the strategy that found it.
type Match struct {
	Value    float64
	Raw      string
	Strategy string
}

// Locate tries strategies in order and returns the first candidate that
// parses to a number. Later candidates and strategies are not consulted.
func Locate(doc *Document, strategies []Strategy) (Match, bool) {
	if doc == nil {
		return Match{}, false
	}
	for _, s := range strategies {
		for _, c := range s.Find(doc) {
			p, ok := parser.ExtractPrice(c.Text)
			if !ok {
				continue
			}
			return Match{Value: p.Numeric, Raw: p.Raw, Strategy: s.Name}, true
		}
	}
	return Match{}, false
}

// DefaultStrategies returns the heuristic chain for the given label tokens.
func DefaultStrategies(labels []string) []Strategy {
	folded := foldLabels(labels)
	return []Strategy{
		{Name: StrategyStructural, Find: structural(folded)},
		{Name: StrategyLabelSibling, Find: labelSibling(folded)},
		{Name: StrategyContaining, Find: containingText(folded)},
		{Name: StrategyDocument, Find: documentRegex(folded)},
		{Name: StrategyFirstNumber, Find: firstNumber},
	}
}

// SelectorStrategy reads candidates from elements matching a CSS selector.
func SelectorStrategy(css string) Strategy {
	return Strategy{
		Name: StrategySelector,
		Find: func(doc *Document) []Candidate {
			if doc.Query == nil {
				return nil
			}
			var out []Candidate
			doc.Query.Find(css).Each(func(_ int, s *goquery.Selection) {
				out = append(out, Candidate{Text: Normalize(s.Text())})
			})
			return out
		},
	}
}

func foldLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if f := fold(l); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isLabel(n *Node, labels []string) bool {
	text := fold(n.Text())
	for _, l := range labels {
		if text == l {
			return true
		}
	}
	return false
}

func isCell(n *Node) bool {
	return n.Tag == "td" || n.Tag == "th"
}

func structural(labels []string) func(*Document) []Candidate {
	return func(doc *Document) []Candidate {
		var out []Candidate
		doc.Root.Walk(func(n *Node) {
			if !isCell(n) || !isLabel(n, labels) {
				return
			}
			if next := n.NextSibling(); next != nil && isCell(next) {
				out = append(out, Candidate{Text: next.Text()})
			}
		})
		return out
	}
}

func labelSibling(labels []string) func(*Document) []Candidate {
	return func(doc *Document) []Candidate {
		var out []Candidate
		doc.Root.Walk(func(n *Node) {
			if n.Tag == "#document" || !isLabel(n, labels) {
				return
			}
			if next := n.NextSibling(); next != nil {
				out = append(out, Candidate{Text: next.Text()})
			}
		})
		return out
	}
}

// containingText yields, for each innermost element mentioning a label, the
// text that follows the label.
func containingText(labels []string) func(*Document) []Candidate {
	return func(doc *Document) []Candidate {
		var out []Candidate
		doc.Root.Walk(func(n *Node) {
			if n.Tag == "#document" {
				return
			}
			lower := strings.ToLower(n.Text())
			label, idx := firstLabel(lower, labels)
			if idx < 0 {
				return
			}
			for _, child := range n.Children {
				if _, i := firstLabel(strings.ToLower(child.Text()), labels); i >= 0 {
					return
				}
			}
			out = append(out, Candidate{Text: lower[idx+len(label):]})
		})
		return out
	}
}

func firstLabel(text string, labels []string) (string, int) {
	best, at := "", -1
	for _, l := range labels {
		if i := strings.Index(text, l); i >= 0 && (at < 0 || i < at) {
			best, at = l, i
		}
	}
	return best, at
}

func documentRegex(labels []string) func(*Document) []Candidate {
	if len(labels) == 0 {
		return func(*Document) []Candidate { return nil }
	}
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = regexp.QuoteMeta(l)
	}
	re := regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)[^\d]{0,` +
		strconv.Itoa(labelWindow) + `}?(\d+(?:[.,]\d+)?)`)

	return func(doc *Document) []Candidate {
		var out []Candidate
		for _, m := range re.FindAllStringSubmatch(doc.Text(), -1) {
			out = append(out, Candidate{Text: m[1]})
		}
		return out
	}
}

func firstNumber(doc *Document) []Candidate {
	token := numberTokenRe.FindString(doc.Text())
	if token == "" {
		return nil
	}
	return []Candidate{{Text: token}}
}
