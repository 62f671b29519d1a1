package printing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/govcon/shredder/internal/infrastructure/config"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	marginInches   = 0.4
	footerTemplate = `<div style="font-size:7px;width:100%;text-align:center;color:#555">` +
		`<span class="pageNumber"></span> / <span class="totalPages"></span></div>`
)

// paper sizes in inches, portrait
var papers = map[string][2]float64{
	"letter": {8.5, 11},
	"a4":     {8.27, 11.69},
}

// ErrEmptyDocument is returned for a blank HTML document
var ErrEmptyDocument = errors.New("printing: empty document")

// ChromeRenderer prints HTML to PDF through the Chrome DevTools protocol.
// One browser is shared; every render opens its own tab.
type ChromeRenderer struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
	width       float64
	height      float64
	logger      *zap.Logger
}

// NewChromeRenderer prepares a browser allocator. With cfg.RemoteURL the
// renderer attaches to a running browser, otherwise Chrome is launched on the
// first render.
func NewChromeRenderer(cfg config.PrintingConfig, logger *zap.Logger) (*ChromeRenderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	size, ok := papers[cfg.Paper]
	if !ok {
		return nil, fmt.Errorf("printing: unknown paper %q", cfg.Paper)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	r := &ChromeRenderer{
		timeout: timeout,
		// landscape
		width:  size[1],
		height: size[0],
		logger: logger.Named("printing"),
	}
	if cfg.RemoteURL != "" {
		r.allocCtx, r.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		return r, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return r, nil
}

// RenderPDF prints html on landscape pages with a page number footer. The
// render stops at the configured timeout or when ctx is done.
func (r *ChromeRenderer) RenderPDF(ctx context.Context, html []byte) ([]byte, error) {
	if len(html) == 0 {
		return nil, ErrEmptyDocument
	}
	start := time.Now()

	tabCtx, closeTab := chromedp.NewContext(r.allocCtx,
		chromedp.WithLogf(r.logger.Sugar().Debugf),
		chromedp.WithErrorf(r.logger.Sugar().Warnf),
	)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, r.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var pdf []byte
	err := chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, string(html)).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPaperWidth(r.width).
				WithPaperHeight(r.height).
				WithMarginTop(marginInches).
				WithMarginBottom(marginInches).
				WithMarginLeft(marginInches).
				WithMarginRight(marginInches).
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate("<span></span>").
				WithFooterTemplate(footerTemplate).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(tabCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("printing: render timed out after %s: %w", r.timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("printing: render failed: %w", err)
	}

	r.logger.Debug("Matrix PDF rendered",
		zap.Int("bytes", len(pdf)),
		zap.Duration("duration", time.Since(start)),
	)
	return pdf, nil
}

// Close shuts the browser down
func (r *ChromeRenderer) Close() error {
	if r.allocCancel != nil {
		r.allocCancel()
	}
	return nil
}
