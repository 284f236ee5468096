// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gogpu/gputypes"
	"golang.org/x/sync/errgroup"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/compositor"
	"github.com/gviegas/present/display"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/driver/soft"
	"github.com/gviegas/present/internal/config"
	"github.com/gviegas/present/wsi"
	"github.com/gviegas/present/x11"
)

type demoOptions struct {
	target     string
	frames     int
	images     int
	mode       wsi.PresentMode
	swapchains int
	width      int
	height     int
	xdisplay   string
}

func parsePresentMode(s string) (wsi.PresentMode, error) {
	for _, m := range [...]wsi.PresentMode{wsi.PresentImmediate, wsi.PresentMailbox, wsi.PresentFIFO, wsi.PresentFIFORelaxed} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown present mode %q", s)
}

func runDemo(args []string) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var cf commonFlags
	cf.register(fs)
	var opts demoOptions
	fs.StringVar(&opts.target, "target", "headless", "Presentation target: headless, x11 or display")
	fs.IntVar(&opts.frames, "frames", 120, "Frames to present per swapchain (0 runs until interrupted)")
	fs.IntVar(&opts.images, "images", 3, "Minimum image count")
	mode := fs.String("mode", "fifo", "Present mode for window targets")
	fs.IntVar(&opts.swapchains, "swapchains", 1, "Number of windows for window targets")
	fs.IntVar(&opts.width, "width", 320, "Window width")
	fs.IntVar(&opts.height, "height", 240, "Window height")
	fs.StringVar(&opts.xdisplay, "display", "", "X display (default: $DISPLAY)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	var err error
	if opts.mode, err = parsePresentMode(*mode); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, log, drv, b, err := setup(&cf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer drv.Close()
	c, err := wsi.New(b, cfg.WSI(log))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()
	n, err := demo(ctx, c, cfg, log, &opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	el := time.Since(start)
	fmt.Printf("presented %d frames in %v (%.1f fps)\n", n, el.Round(time.Millisecond), float64(n)/el.Seconds())
	return 0
}

// demo creates the surfaces for opts.target and runs one
// presentation loop per swapchain. It returns the number
// of frames presented.
func demo(ctx context.Context, c *wsi.Context, cfg *config.Config, log *slog.Logger, opts *demoOptions) (int, error) {
	var (
		surfaces []wsi.Surface
		infos    []wsi.SwapchainInfo
	)
	switch opts.target {
	case "headless", "x11":
		var (
			sess compositor.Session
			wins []compositor.Window
		)
		if opts.target == "x11" {
			xc, err := x11.Dial(opts.xdisplay)
			if err != nil {
				return 0, err
			}
			defer xc.Close()
			h := x11.NewSession(cfg.Headless(nil, log))
			defer h.Unref()
			sess = h
			for i := range opts.swapchains {
				w, err := xc.NewWindow(opts.width, opts.height, fmt.Sprintf("presentctl %d", i))
				if err != nil {
					return 0, err
				}
				defer w.Destroy()
				w.Map()
				wins = append(wins, w)
			}
		} else {
			h := compositor.NewHeadless(cfg.Headless(nil, log))
			defer h.Unref()
			sess = h
			for range opts.swapchains {
				wins = append(wins, &compositor.MemWindow{Width: opts.width, Height: opts.height})
			}
		}
		plat := wsi.Headless
		if opts.target == "x11" {
			plat = wsi.XCB
		}
		for _, w := range wins {
			sf, err := c.CreateWindowSurface(&wsi.WindowSurfaceInfo{Platform: plat, Session: sess, Window: w})
			if err != nil {
				return 0, err
			}
			surfaces = append(surfaces, sf)
			width, height := w.Size()
			infos = append(infos, swapchainInfo(sf, opts, wsi.Extent{Width: width, Height: height}, opts.mode))
		}

	case "display":
		vc := display.DefaultVirtual()
		vc.Refresh = 16 * time.Millisecond
		if err := c.InitPhysicalDevice(dev, display.NewVirtual(vc)); err != nil {
			return 0, err
		}
		defer c.DeinitPhysicalDevice(dev)
		var disp [1]wsi.DisplayProperties
		if _, err := c.DisplayProperties(dev, disp[:]); err != nil && !errors.Is(err, driver.ErrIncomplete) {
			return 0, err
		}
		var mode [1]wsi.ModeProperties
		if _, err := c.DisplayModeProperties(dev, disp[0].Display, mode[:]); err != nil && !errors.Is(err, driver.ErrIncomplete) {
			return 0, err
		}
		sf, err := c.CreateDisplayPlaneSurface(&wsi.DisplaySurfaceInfo{
			Mode:      mode[0].Mode,
			Transform: wsi.TransformIdentity,
			Alpha:     wsi.AlphaOpaque,
		})
		if err != nil {
			return 0, err
		}
		surfaces = append(surfaces, sf)
		infos = append(infos, swapchainInfo(sf, opts, mode[0].Parameters.Visible, wsi.PresentFIFO))

	default:
		return 0, fmt.Errorf("unknown target %q", opts.target)
	}
	defer func() {
		for _, sf := range surfaces {
			c.DestroySurface(sf)
		}
	}()

	scs, err := c.CreateSharedSwapchains(dev, infos)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, sc := range scs {
			c.DestroySwapchain(dev, sc)
		}
	}()

	counts := make([]int, len(scs))
	g, ctx := errgroup.WithContext(ctx)
	for i, sc := range scs {
		g.Go(func() error {
			var err error
			counts[i], err = presentLoop(ctx, c, sc, opts.frames)
			return err
		})
	}
	err = g.Wait()
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, err
}

func swapchainInfo(sf wsi.Surface, opts *demoOptions, ext wsi.Extent, mode wsi.PresentMode) wsi.SwapchainInfo {
	return wsi.SwapchainInfo{
		Surface:        sf,
		MinImageCount:  opts.images,
		Format:         gputypes.TextureFormatBGRA8Unorm,
		ColorSpace:     wsi.ColorSpaceSRGBNonlinear,
		Extent:         ext,
		Usage:          gputypes.TextureUsageRenderAttachment,
		Transform:      wsi.TransformIdentity,
		CompositeAlpha: wsi.AlphaOpaque,
		PresentMode:    mode,
		Clipped:        true,
	}
}

// presentLoop acquires, renders and presents images of sc
// until frames images were presented or ctx is done.
func presentLoop(ctx context.Context, c *wsi.Context, sc wsi.Swapchain, frames int) (int, error) {
	n, err := c.SwapchainImages(dev, sc, nil)
	if err != nil {
		return 0, err
	}
	imgs := make([]driver.Image, n)
	if _, err := c.SwapchainImages(dev, sc, imgs); err != nil {
		return 0, err
	}
	sb, _ := c.Bridge().(*soft.Bridge)

	for i := 0; frames == 0 || i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		idx, err := c.AcquireNextImage(dev, sc, time.Second, 0, 0)
		if errors.Is(err, driver.ErrTimeout) {
			i--
			continue
		}
		if err != nil {
			return i, err
		}
		if sb != nil {
			if img, ok := sb.Lookup(imgs[idx]); ok {
				render(img.Buffer, i)
			}
		}
		err = c.QueuePresent(0, &wsi.PresentInfo{
			Swapchains:   []wsi.Swapchain{sc},
			ImageIndices: []int{idx},
		})
		if err != nil {
			return i, err
		}
	}
	return frames, nil
}

// render draws a gradient with a vertical bar that moves
// one column per frame.
func render(buf *bufq.Buffer, frame int) {
	w, h, stride := buf.Width(), buf.Height(), buf.Stride()
	data := buf.Bytes()
	bar := frame % w
	rgba := buf.Format() == bufq.ABGR8888 || buf.Format() == bufq.XBGR8888
	for y := range h {
		row := data[y*stride:]
		for x := range w {
			r, g, b := byte(x*255/max(w-1, 1)), byte(y*255/max(h-1, 1)), byte(96)
			if x == bar {
				r, g, b = 255, 255, 255
			}
			if rgba {
				r, b = b, r
			}
			row[x*4+0] = b
			row[x*4+1] = g
			row[x*4+2] = r
			row[x*4+3] = 255
		}
	}
}
