package geom

import (
	"strings"
	"unicode/utf8"
)

// TextRun is one positioned run of text on a page, as reported by the
// PDF rendering collaborator. Transform places the run's baseline origin
// in document space; Width and Height are the run's extent in document
// units. Advances optionally carries per-rune advance widths; when
// absent, character positions are interpolated proportionally.
type TextRun struct {
	Text      string
	Transform Matrix
	Width     float64
	Height    float64
	Advances  []float64
}

// Origin returns the run's origin in document space.
func (tr TextRun) Origin() Point {
	return tr.Transform.Transform(Point{})
}

// Bounds returns the run's bounding rectangle in document space.
func (tr TextRun) Bounds() Rect {
	o := tr.Origin()
	return Rect{X: o.X, Y: o.Y, W: tr.Width, H: tr.Height}
}

// RuneCount returns the number of runes in the run's text.
func (tr TextRun) RuneCount() int {
	return utf8.RuneCountInString(tr.Text)
}

// offsetOf returns the horizontal offset in document units of the rune
// boundary at index i. With per-rune advances the offsets are exact;
// otherwise they are interpolated from the run width.
func (tr TextRun) offsetOf(i int) float64 {
	n := tr.RuneCount()
	if n == 0 || i <= 0 {
		return 0
	}
	if i > n {
		i = n
	}
	if len(tr.Advances) >= n {
		var off float64
		for j := 0; j < i; j++ {
			off += tr.Advances[j]
		}
		return off
	}
	return tr.Width * float64(i) / float64(n)
}

// SubSpan returns the rectangle covering runes [start, end) of the run,
// in document space. Selecting the middle of a run yields a box that
// starts and ends at character boundaries rather than the full line.
func (tr TextRun) SubSpan(start, end int) Rect {
	n := tr.RuneCount()
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end {
		return Rect{}
	}
	o := tr.Origin()
	x0 := o.X + tr.offsetOf(start)
	x1 := o.X + tr.offsetOf(end)
	return Rect{X: x0, Y: o.Y, W: x1 - x0, H: tr.Height}
}

// SubSpanText returns the substring covered by runes [start, end).
func (tr TextRun) SubSpanText(start, end int) string {
	runes := []rune(tr.Text)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}

// TextLayout is the flat list of text runs for one page, together with
// the viewport the runs were measured against.
type TextLayout struct {
	Page     int
	Viewport Viewport
	Runs     []TextRun
}

// Ready reports whether the layout can be used for coordinate mapping.
func (tl *TextLayout) Ready() bool {
	return tl != nil && tl.Viewport.Ready() && len(tl.Runs) > 0
}

// FindText returns the bounding rectangles, in document space, of every
// occurrence of text within a single run. Matches spanning run
// boundaries are not resolved; the detection backend reports spans
// per-run, matching this behavior.
func (tl *TextLayout) FindText(text string) []Rect {
	if tl == nil || text == "" {
		return nil
	}
	var out []Rect
	needle := []rune(text)
	for i := range tl.Runs {
		run := &tl.Runs[i]
		hay := []rune(run.Text)
		for start := 0; start+len(needle) <= len(hay); start++ {
			if strings.EqualFold(string(hay[start:start+len(needle)]), text) {
				out = append(out, run.SubSpan(start, start+len(needle)))
			}
		}
	}
	return out
}
