package markdown

import (
	"bytes"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Quote is a run of lines starting with '>', the forum's way of quoting the parent reply.
type Quote struct {
	ast.BaseBlock
}

func (n *Quote) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

var KindQuote = ast.NewNodeKind("Quote")

func (n *Quote) Kind() ast.NodeKind {
	return KindQuote
}

type quoteParser struct{}

func NewQuoteParser() parser.BlockParser {
	return &quoteParser{}
}

func (b *quoteParser) Trigger() []byte {
	return []byte{'>'}
}

func (b *quoteParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	if len(line) == 0 || line[0] != '>' {
		return nil, parser.NoChildren
	}

	node := &Quote{}
	node.Lines().Append(segment)
	reader.Advance(segment.Len() - 1)
	return node, parser.NoChildren
}

func (b *quoteParser) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	line, segment := reader.PeekLine()
	if util.IsBlank(line) || line[0] != '>' {
		return parser.Close
	}
	node.Lines().Append(segment)
	reader.Advance(segment.Len() - 1)
	return parser.Continue | parser.NoChildren
}

func (b *quoteParser) Close(node ast.Node, reader text.Reader, pc parser.Context) {}

func (b *quoteParser) CanInterruptParagraph() bool {
	return true
}

func (b *quoteParser) CanAcceptIndentedLine() bool {
	return false
}

type quoteHTMLRenderer struct {
	html.Config
}

func NewQuoteHTMLRenderer(opts ...html.Option) renderer.NodeRenderer {
	r := &quoteHTMLRenderer{Config: html.NewConfig()}
	for _, opt := range opts {
		opt.SetHTMLOption(&r.Config)
	}
	return r
}

func (r *quoteHTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindQuote, r.renderQuote)
}

func (r *quoteHTMLRenderer) renderQuote(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	_, _ = w.WriteString(`<span class="quote">`)
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		_, _ = w.Write(util.EscapeHTML(bytes.TrimRight(line.Value(source), "\r\n")))
		if i < lines.Len()-1 {
			_, _ = w.WriteString("<br>")
		}
	}
	_, _ = w.WriteString("</span>\n")
	return ast.WalkSkipChildren, nil
}
