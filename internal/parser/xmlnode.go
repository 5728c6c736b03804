package parser

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// node is a generic element tree. ADMX and ADML documents are matched by
// local name only, so namespaced and unqualified drafts decode the same way.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []node     `xml:",any"`
	Text    string     `xml:",chardata"`
}

// decodeDocument parses r into its root element.
func decodeDocument(r io.Reader) (*node, error) {
	var root node
	if err := newDecoder(r).Decode(&root); err != nil {
		return nil, err
	}
	if root.XMLName.Local == "" {
		return nil, fmt.Errorf("no root element")
	}
	return &root, nil
}

// newDecoder transcodes UTF-16 input (common for exported templates) and drops
// a UTF-8 byte order mark before handing the stream to encoding/xml.
func newDecoder(r io.Reader) *xml.Decoder {
	br := bufio.NewReader(r)
	var src io.Reader = br

	if head, err := br.Peek(2); err == nil && isUTF16BOM(head) {
		src = transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	} else if head, err := br.Peek(3); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(3)
	}

	dec := xml.NewDecoder(src)
	dec.CharsetReader = charsetReader
	return dec
}

func isUTF16BOM(b []byte) bool {
	return (b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "utf-16", "utf-16le", "utf-16be", "unicode":
		// Already transcoded from the byte order mark.
		return input, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}

func (n *node) name() string { return n.XMLName.Local }

// attr returns the value of the attribute with the given local name.
func (n *node) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local && a.Name.Space != "xmlns" {
			return a.Value
		}
	}
	return ""
}

func (n *node) hasAttr(local string) bool {
	for _, a := range n.Attrs {
		if a.Name.Local == local && a.Name.Space != "xmlns" {
			return true
		}
	}
	return false
}

// child returns the first direct child with the given local name.
func (n *node) child(local string) *node {
	for i := range n.Nodes {
		if n.Nodes[i].name() == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

// children returns the direct children with the given local name.
func (n *node) children(local string) []*node {
	var out []*node
	for i := range n.Nodes {
		if n.Nodes[i].name() == local {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

// walk visits every descendant in document order. Returning false from fn
// skips that element's subtree.
func (n *node) walk(fn func(*node) bool) {
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if fn(c) {
			c.walk(fn)
		}
	}
}

// descendants returns every descendant with the given local name, in document order.
func (n *node) descendants(local string) []*node {
	var out []*node
	n.walk(func(c *node) bool {
		if c.name() == local {
			out = append(out, c)
		}
		return true
	})
	return out
}
