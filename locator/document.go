// Package locator finds the element most likely to hold a price when no
// explicit selector is configured.
package locator

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Node is an element of a parsed document, detached from any query engine.
type Node struct {
	Tag      string
	Attrs    map[string]string
	Parent   *Node
	Children []*Node

	text string
	next *Node
}

// Text returns the element's whitespace-collapsed text content.
func (n *Node) Text() string {
	return n.text
}

// NextSibling returns the next element sibling, or nil.
func (n *Node) NextSibling() *Node {
	return n.next
}

// Walk visits n and its descendants depth first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Document is a parsed page plus its rendered text.
type Document struct {
	Root  *Node
	Query *goquery.Document

	text string
}

// Text returns the whole document's rendered text.
func (d *Document) Text() string {
	return d.text
}

// ParseDocument parses raw HTML into a Document.
func ParseDocument(body []byte) (*Document, error) {
	q, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return FromGoquery(q), nil
}

// FromGoquery converts an existing goquery document.
func FromGoquery(q *goquery.Document) *Document {
	var root *Node
	for _, n := range q.Nodes {
		root = convert(n, nil)
	}
	if root == nil {
		root = &Node{Tag: "#document"}
	}
	return &Document{Root: root, Query: q, text: root.text}
}

// convert builds the element tree below n. Text is gathered bottom up so
// each element owns its collapsed text.
func convert(n *html.Node, parent *Node) *Node {
	node := &Node{Parent: parent, Attrs: map[string]string{}}
	switch n.Type {
	case html.DocumentNode:
		node.Tag = "#document"
	case html.ElementNode:
		node.Tag = strings.ToLower(n.Data)
		for _, a := range n.Attr {
			node.Attrs[a.Key] = a.Val
		}
	}

	var parts []string
	var prev *Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			parts = append(parts, c.Data)
		case html.ElementNode:
			if c.Data == "script" || c.Data == "style" {
				continue
			}
			child := convert(c, node)
			node.Children = append(node.Children, child)
			if prev != nil {
				prev.next = child
			}
			prev = child
			parts = append(parts, child.text)
		}
	}
	node.text = Normalize(strings.Join(parts, " "))
	return node
}

// Normalize collapses whitespace and trims the result.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// fold is the comparison form of label text: case-folded, trailing colon dropped.
func fold(s string) string {
	s = strings.ToLower(Normalize(s))
	return strings.TrimSpace(strings.TrimRight(s, ":"))
}
