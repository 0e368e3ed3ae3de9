package diagnostics

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/google/uuid"

	"github.com/use-agent/regscout/engine"
)

// maxSnapshot caps the markdown snapshot kept per artifact.
const maxSnapshot = 64 << 10

// Capturer builds artifacts from a live session. It is safe for concurrent
// use.
type Capturer struct {
	conv *converter.Converter
}

// NewCapturer creates a Capturer with a markdown converter that keeps
// table structure, since block pages and result grids are mostly tables.
func NewCapturer() *Capturer {
	return &Capturer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(
					table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
				),
			),
		),
	}
}

// Capture takes a full-page screenshot and a markdown snapshot of sess.
// The returned artifact has a fresh ID, CapturedAt and Fingerprint; the
// caller fills in the outcome fields. A partial capture is returned with
// the error when only one of the two succeeds.
func (c *Capturer) Capture(ctx context.Context, sess engine.Session) (*Artifact, error) {
	a := &Artifact{
		ID:         uuid.NewString(),
		CapturedAt: time.Now().UTC(),
	}

	png, shotErr := sess.Screenshot(ctx)
	a.PNG = png

	var snapErr error
	html, err := sess.HTML(ctx)
	if err != nil {
		snapErr = err
	} else if md, err := c.conv.ConvertString(html); err != nil {
		snapErr = err
	} else {
		a.Snapshot = truncateUTF8(md, maxSnapshot)
		a.Fingerprint = Fingerprint(md)
	}

	if shotErr != nil && snapErr != nil {
		return nil, errors.Join(shotErr, snapErr)
	}
	return a, errors.Join(shotErr, snapErr)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
