// Package render writes the human-facing terminal output for the pipeline
// CLI: the glamour-rendered gate summary, the verdict banner, and the
// doctor/history tables. Styled output is used only on a terminal; plain
// mode passes content through untouched so output stays pipeable.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Semantic colors, shared by the banner and table styles.
var (
	passColor  = lipgloss.Color("#8BC34A")
	failColor  = lipgloss.Color("#e53935")
	mutedColor = lipgloss.Color("#6c7a89")
)

const wordWrap = 80

// Renderer writes CLI output to a single destination, styled when the
// destination is a terminal and plain mode is off.
type Renderer struct {
	out    io.Writer
	styled bool
}

// New builds a renderer for out. plain forces unstyled output regardless
// of the destination.
func New(out io.Writer, plain bool) *Renderer {
	return &Renderer{
		out:    out,
		styled: !plain && writerIsTerminal(out),
	}
}

// Styled reports whether output is being decorated.
func (r *Renderer) Styled() bool { return r.styled }

// Summary writes the gate summary markdown. On a terminal it is rendered
// through glamour; otherwise the raw markdown is passed through so the
// artifact on disk and the piped output stay identical.
func (r *Renderer) Summary(markdown []byte) error {
	if !r.styled {
		_, err := r.out.Write(markdown)
		return err
	}

	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		_, werr := r.out.Write(markdown)
		return werr
	}

	rendered, err := tr.Render(string(markdown))
	if err != nil {
		_, werr := r.out.Write(markdown)
		return werr
	}
	_, err = io.WriteString(r.out, rendered)
	return err
}

// Banner writes a one-line verdict banner. Anything other than "pass"
// renders as a failure.
func (r *Renderer) Banner(verdict string) {
	label := "FAIL"
	color := failColor
	if verdict == "pass" {
		label = "PASS"
		color = passColor
	}

	if !r.styled {
		fmt.Fprintf(r.out, "%s\n", label)
		return
	}

	banner := lipgloss.NewStyle().
		Bold(true).
		Padding(0, 3).
		Foreground(lipgloss.Color("#ffffff")).
		Background(color).
		Render(label)
	fmt.Fprintf(r.out, "%s\n", banner)
}

// Println writes a plain line.
func (r *Renderer) Println(a ...any) {
	fmt.Fprintln(r.out, a...)
}

// Printf writes formatted plain text.
func (r *Renderer) Printf(format string, a ...any) {
	fmt.Fprintf(r.out, format, a...)
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// trimTrailingSpace removes trailing spaces lipgloss padding leaves on
// fixed-width cells at line ends.
func trimTrailingSpace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.Join(lines, "\n")
}
