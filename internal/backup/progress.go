package backup

import (
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressReader tracks bytes read and updates an mpb.Bar.
type ProgressReader struct {
	r   io.Reader
	bar *mpb.Bar
}

func NewProgressReader(r io.Reader, bar *mpb.Bar) *ProgressReader {
	return &ProgressReader{r: r, bar: bar}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.bar != nil {
		pr.bar.IncrBy(n)
	}
	return n, err
}

func NewProgressContainer() *mpb.Progress {
	return mpb.New(mpb.WithWidth(64))
}

// AddUploadBar adds a bar for one target upload. It returns nil without a container.
func AddUploadBar(p *mpb.Progress, name string, total int64) *mpb.Bar {
	if p == nil {
		return nil
	}
	return p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1}),
			decor.Percentage(),
		),
		mpb.AppendDecorators(
			decor.OnComplete(
				decor.CountersKibiByte("% .2f / % .2f"),
				"DONE",
			),
		),
	)
}
