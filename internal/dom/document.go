// Package dom wraps a parsed HTML manifest. It discovers asset declarations,
// tags each with an engine-assigned numeric ID, and offers ID-addressed
// mutations for pipeline outputs to apply during finalize.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// MarkerAttr marks an element as an asset declaration.
	MarkerAttr = "data-skiff"
	// IDAttr carries the engine-assigned asset ID. It never reaches
	// published HTML.
	IDAttr = "data-skiff-id"
)

// Document is a parsed HTML manifest. It is not safe for concurrent use.
type Document struct {
	root *html.Node
	byID map[int]*html.Node
}

// AssetTag describes one discovered asset declaration.
type AssetTag struct {
	ID int
	// Element is the lower-case element name, "link" or "script".
	Element string
	Role    string
	// Attrs holds every source attribute except IDAttr.
	Attrs map[string]string
	// Source is a short rendering of the opening tag for error messages.
	Source string
}

// Parse parses an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return &Document{root: root, byID: make(map[int]*html.Node)}, nil
}

// ParseFile parses the HTML document at path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Assets scans the document in order for elements carrying MarkerAttr and
// assigns sequential IDs, starting at 0, to those whose role match accepts.
// Rejected elements are left untouched. Calling Assets again reassigns IDs.
func (d *Document) Assets(match func(role string) bool) []AssetTag {
	d.byID = make(map[int]*html.Node)
	var tags []AssetTag

	walk(d.root, func(n *html.Node) {
		if n.Type != html.ElementNode || !hasAttr(n, MarkerAttr) {
			return
		}
		removeAttrs(n, IDAttr)

		role := roleOf(n)
		if match != nil && !match(role) {
			return
		}

		id := len(tags)
		n.Attr = append(n.Attr, html.Attribute{Key: IDAttr, Val: strconv.Itoa(id)})
		d.byID[id] = n

		tags = append(tags, AssetTag{
			ID:      id,
			Element: n.Data,
			Role:    role,
			Attrs:   attrMap(n),
			Source:  openingTag(n),
		})
	})

	return tags
}

func roleOf(n *html.Node) string {
	if n.DataAtom == atom.Script {
		return "js"
	}
	rel, _ := getAttr(n, "rel")

	return strings.ToLower(strings.TrimSpace(rel))
}

// IDs returns the IDs still addressable in ascending order.
func (d *Document) IDs() []int {
	ids := make([]int, 0, len(d.byID))
	for id := range d.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids
}

func (d *Document) node(id int) (*html.Node, error) {
	n, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("no element with asset id %d", id)
	}

	return n, nil
}

// Attr returns the value of key on the element with the given ID.
func (d *Document) Attr(id int, key string) (string, bool, error) {
	n, err := d.node(id)
	if err != nil {
		return "", false, err
	}
	val, ok := getAttr(n, key)

	return val, ok, nil
}

// SetAttr sets key to val, replacing any existing value.
func (d *Document) SetAttr(id int, key, val string) error {
	n, err := d.node(id)
	if err != nil {
		return err
	}
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val

			return nil
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})

	return nil
}

// RemoveAttr removes the named attributes.
func (d *Document) RemoveAttr(id int, keys ...string) error {
	n, err := d.node(id)
	if err != nil {
		return err
	}
	removeAttrs(n, keys...)

	return nil
}

// Clean strips every data-skiff* attribute plus the named pipeline option
// attributes. The element stays addressable.
func (d *Document) Clean(id int, options ...string) error {
	n, err := d.node(id)
	if err != nil {
		return err
	}
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if strings.HasPrefix(a.Key, MarkerAttr) || slices.Contains(options, a.Key) {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept

	return nil
}


// Remove detaches the element from the document.
func (d *Document) Remove(id int) error {
	n, err := d.node(id)
	if err != nil {
		return err
	}
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	delete(d.byID, id)

	return nil
}

// ReplaceWithHTML replaces the element with the parsed fragment.
func (d *Document) ReplaceWithHTML(id int, fragment string) error {
	n, err := d.node(id)
	if err != nil {
		return err
	}
	parent := n.Parent
	if parent == nil {
		return fmt.Errorf("asset id %d is detached", id)
	}

	nodes, err := parseFragment(fragment, parent)
	if err != nil {
		return err
	}
	for _, c := range nodes {
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
	delete(d.byID, id)

	return nil
}

// InsertHeadHTML appends the fragment to the end of <head>.
func (d *Document) InsertHeadHTML(fragment string) error {
	return d.appendTo(atom.Head, fragment)
}

// AppendBodyHTML appends the fragment to the end of <body>.
func (d *Document) AppendBodyHTML(fragment string) error {
	return d.appendTo(atom.Body, fragment)
}

func (d *Document) appendTo(a atom.Atom, fragment string) error {
	target := find(d.root, a)
	if target == nil {
		return fmt.Errorf("document has no <%s> element", a)
	}
	nodes, err := parseFragment(fragment, target)
	if err != nil {
		return err
	}
	for _, c := range nodes {
		target.AppendChild(c)
	}

	return nil
}

// StripIDs removes the ID attribute from every element still addressable.
func (d *Document) StripIDs() {
	for id, n := range d.byID {
		removeAttrs(n, IDAttr)
		delete(d.byID, id)
	}
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// Bytes renders the document into a byte slice.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return nil, fmt.Errorf("failed to render HTML: %w", err)
	}

	return buf.Bytes(), nil
}

func parseFragment(fragment string, context *html.Node) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML fragment: %w", err)
	}

	return nodes, nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}

	return nil
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}

	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := getAttr(n, key)

	return ok
}

func removeAttrs(n *html.Node, keys ...string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if slices.Contains(keys, a.Key) {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func attrMap(n *html.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		if a.Key == IDAttr {
			continue
		}
		m[a.Key] = a.Val
	}

	return m
}

func openingTag(n *html.Node) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(n.Data)
	for _, a := range n.Attr {
		if a.Key == IDAttr {
			continue
		}
		b.WriteString(" ")
		b.WriteString(a.Key)
		if a.Val != "" {
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(a.Val))
			b.WriteString(`"`)
		}
	}
	b.WriteString(">")

	return b.String()
}
