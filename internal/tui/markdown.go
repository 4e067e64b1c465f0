package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rivo/tview"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const ruleWidth = 24

// MarkdownRenderer renders GitHub-flavored markdown to tview style tags.
// Single newlines break lines, matching the HTML renderer. Raw HTML is dropped.
type MarkdownRenderer struct {
	md goldmark.Markdown
}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

func (r *MarkdownRenderer) Render(markdown string) (string, error) {
	source := []byte(markdown)
	doc := r.md.Parser().Parse(text.NewReader(source))

	w := &tagWriter{source: source, lineStart: true}
	if err := ast.Walk(doc, w.walk); err != nil {
		return "", err
	}
	w.flush()
	return strings.Trim(w.buf.String(), "\n"), nil
}

type style struct {
	fg    string
	attrs string
}

type listState struct {
	ordered bool
	next    int
}

// tagWriter accumulates tagged output during one AST walk.
type tagWriter struct {
	buf    strings.Builder
	source []byte

	// pending is plain text not yet escaped. Escaping runs over whole runs
	// of text since the parser splits brackets into separate nodes.
	pending strings.Builder

	styles     []style
	lists      []listState
	quoteDepth int
	lineStart  bool
}

func (w *tagWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Document:

	case *ast.Paragraph, *ast.TextBlock:
		if entering {
			w.startBlock(n)
		} else {
			w.endLine()
		}

	case *ast.Heading:
		if entering {
			w.startBlock(n)
			attrs := "b"
			if node.Level == 1 {
				attrs = "bu"
			}
			w.push(style{attrs: attrs})
		} else {
			w.pop()
			w.endLine()
		}

	case *ast.ThematicBreak:
		if entering {
			w.startBlock(n)
			w.text(strings.Repeat("─", ruleWidth))
			w.endLine()
		}

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			w.startBlock(n)
			w.codeLines(n)
		}
		return ast.WalkSkipChildren, nil

	case *ast.Blockquote:
		if entering {
			w.startBlock(n)
			w.quoteDepth++
		} else {
			w.quoteDepth--
		}

	case *ast.List:
		if entering {
			w.startBlock(n)
			w.lists = append(w.lists, listState{ordered: node.IsOrdered(), next: node.Start})
		} else {
			w.lists = w.lists[:len(w.lists)-1]
		}

	case *ast.ListItem:
		if entering {
			w.endLine()
			w.listMarker()
		} else {
			w.endLine()
		}

	case *ast.HTMLBlock, *ast.RawHTML:
		return ast.WalkSkipChildren, nil

	case *ast.Text:
		if entering {
			w.text(string(node.Segment.Value(w.source)))
			if node.SoftLineBreak() || node.HardLineBreak() {
				w.newline()
			}
		}

	case *ast.String:
		if entering {
			w.text(string(node.Value))
		}

	case *ast.CodeSpan:
		w.toggle(entering, style{fg: "yellow"})

	case *ast.Emphasis:
		attrs := "i"
		if node.Level >= 2 {
			attrs = "b"
		}
		w.toggle(entering, style{attrs: attrs})

	case *east.Strikethrough:
		w.toggle(entering, style{attrs: "s"})

	case *ast.Link:
		w.toggle(entering, style{fg: "blue", attrs: "u"})
		if !entering {
			w.destination(node.Destination)
		}

	case *ast.Image:
		if entering {
			w.text("🖼 ")
		}
		w.toggle(entering, style{fg: "gray"})

	case *ast.AutoLink:
		if entering {
			w.toggle(true, style{fg: "blue", attrs: "u"})
			w.text(string(node.URL(w.source)))
			w.toggle(false, style{})
		}
		return ast.WalkSkipChildren, nil

	case *east.TaskCheckBox:
		if entering {
			if node.IsChecked {
				w.text("☑ ")
			} else {
				w.text("☐ ")
			}
		}

	case *east.Table:
		if entering {
			w.startBlock(n)
		}

	case *east.TableHeader, *east.TableRow:
		w.endLine()

	case *east.TableCell:
		_, header := n.Parent().(*east.TableHeader)
		if entering && n.PreviousSibling() != nil {
			w.text(" │ ")
		}
		if header {
			w.toggle(entering, style{attrs: "b"})
		}
	}

	return ast.WalkContinue, nil
}

// startBlock ends the current line and, between sibling blocks, leaves one
// blank line. Tight list items stay together.
func (w *tagWriter) startBlock(n ast.Node) {
	item, inItem := n.Parent().(*ast.ListItem)
	if inItem && n.PreviousSibling() == nil {
		// Continues the line holding the list marker.
		return
	}

	w.endLine()
	if n.PreviousSibling() == nil {
		return
	}
	if inItem {
		if list, ok := item.Parent().(*ast.List); ok && list.IsTight {
			return
		}
	}
	w.newline()
}

func (w *tagWriter) listMarker() {
	if len(w.lists) == 0 {
		return
	}
	list := &w.lists[len(w.lists)-1]
	indent := strings.Repeat("  ", len(w.lists)-1)

	if list.ordered {
		w.text(indent + strconv.Itoa(list.next) + ". ")
		list.next++
		return
	}
	w.text(indent + "• ")
}

func (w *tagWriter) codeLines(n ast.Node) {
	w.push(style{fg: "green"})
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		w.text("  " + strings.TrimRight(string(seg.Value(w.source)), "\r\n"))
		w.newline()
	}
	w.pop()
}

func (w *tagWriter) destination(dest []byte) {
	if len(dest) == 0 {
		return
	}
	w.push(style{fg: "gray"})
	w.text(" (" + string(dest) + ")")
	w.pop()
}

func (w *tagWriter) toggle(entering bool, s style) {
	if entering {
		w.push(s)
	} else {
		w.pop()
	}
}

func (w *tagWriter) push(s style) {
	w.styles = append(w.styles, s)
	w.raw(w.tag())
}

func (w *tagWriter) pop() {
	if len(w.styles) > 0 {
		w.styles = w.styles[:len(w.styles)-1]
	}
	w.raw(w.tag())
}

// tag returns the full style tag for the current stack: the innermost color
// and the union of all attributes.
func (w *tagWriter) tag() string {
	fg := "-"
	var attrs strings.Builder
	for _, s := range w.styles {
		if s.fg != "" {
			fg = s.fg
		}
		for _, a := range s.attrs {
			if !strings.ContainsRune(attrs.String(), a) {
				attrs.WriteRune(a)
			}
		}
	}
	if attrs.Len() == 0 {
		attrs.WriteString("-")
	}
	return fmt.Sprintf("[%s::%s]", fg, attrs.String())
}

// text queues content, prefixed by quote bars at the start of a line.
func (w *tagWriter) text(s string) {
	if s == "" {
		return
	}
	if w.lineStart {
		w.pending.WriteString(strings.Repeat("│ ", w.quoteDepth))
		w.lineStart = false
	}
	w.pending.WriteString(s)
}

func (w *tagWriter) flush() {
	if w.pending.Len() == 0 {
		return
	}
	w.buf.WriteString(tview.Escape(w.pending.String()))
	w.pending.Reset()
}

func (w *tagWriter) raw(s string) {
	w.flush()
	w.buf.WriteString(s)
}

func (w *tagWriter) newline() {
	w.flush()
	w.buf.WriteByte('\n')
	w.lineStart = true
}

func (w *tagWriter) endLine() {
	if !w.lineStart {
		w.newline()
	}
}
