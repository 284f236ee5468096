// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/gviegas/present/compositor"
	"github.com/gviegas/present/display"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/wsi"
	"github.com/gviegas/present/x11"
)

// dev is the device every command uses. The soft bridge
// ignores it.
const dev driver.Device = 1

type modeReport struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	Refresh int `json:"refresh_mhz"`
}

type planeReport struct {
	Index      int  `json:"index"`
	StackIndex int  `json:"stack_index"`
	Alpha      uint `json:"supported_alpha"`
}

type displayReport struct {
	Name       string        `json:"name"`
	WidthMM    int           `json:"width_mm"`
	HeightMM   int           `json:"height_mm"`
	Resolution string        `json:"resolution"`
	Modes      []modeReport  `json:"modes"`
	Planes     []planeReport `json:"planes"`
}

// openDisplay opens either the X server's outputs or a
// virtual display.
func openDisplay(useX11 bool, name string) (display.Display, func(), error) {
	if !useX11 {
		return display.NewVirtual(display.DefaultVirtual()), func() {}, nil
	}
	c, err := x11.Dial(name)
	if err != nil {
		return nil, nil, err
	}
	d, err := c.Display(1)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return d, c.Close, nil
}

// collectDisplays queries every display of dev in c.
func collectDisplays(c *wsi.Context) ([]displayReport, error) {
	n, err := c.DisplayProperties(dev, nil)
	if err != nil {
		return nil, err
	}
	props := make([]wsi.DisplayProperties, n)
	if _, err := c.DisplayProperties(dev, props); err != nil {
		return nil, err
	}
	n, err = c.DisplayPlaneProperties(dev, nil)
	if err != nil {
		return nil, err
	}
	planes := make([]wsi.PlaneProperties, n)
	if _, err := c.DisplayPlaneProperties(dev, planes); err != nil {
		return nil, err
	}

	reps := make([]displayReport, 0, len(props))
	for _, p := range props {
		rep := displayReport{
			Name:       p.Name,
			WidthMM:    p.PhysicalWidth,
			HeightMM:   p.PhysicalHeight,
			Resolution: fmt.Sprintf("%dx%d", p.Resolution.Width, p.Resolution.Height),
		}
		n, err := c.DisplayModeProperties(dev, p.Display, nil)
		if err != nil {
			return nil, err
		}
		modes := make([]wsi.ModeProperties, n)
		if _, err := c.DisplayModeProperties(dev, p.Display, modes); err != nil {
			return nil, err
		}
		for _, m := range modes {
			rep.Modes = append(rep.Modes, modeReport{m.Parameters.Visible.Width, m.Parameters.Visible.Height, m.Parameters.Refresh})
		}
		for i, pl := range planes {
			if pl.CurrentDisplay != p.Display || len(modes) == 0 {
				continue
			}
			caps, err := c.DisplayPlaneCapabilities(dev, modes[0].Mode, i)
			if err != nil {
				return nil, err
			}
			rep.Planes = append(rep.Planes, planeReport{i, pl.CurrentStackIndex, uint(caps.SupportedAlpha)})
		}
		reps = append(reps, rep)
	}
	return reps, nil
}

func printDisplays(w io.Writer, reps []displayReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range reps {
		fmt.Fprintf(tw, "%s\t%dx%d mm\t%s\n", r.Name, r.WidthMM, r.HeightMM, r.Resolution)
		for _, m := range r.Modes {
			fmt.Fprintf(tw, "  mode\t%dx%d\t%d.%03d Hz\n", m.Width, m.Height, m.Refresh/1000, m.Refresh%1000)
		}
		for _, p := range r.Planes {
			fmt.Fprintf(tw, "  plane %d\tstack %d\talpha %#x\n", p.Index, p.StackIndex, p.Alpha)
		}
	}
	tw.Flush()
}

func runDisplays(args []string) int {
	fs := flag.NewFlagSet("displays", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var cf commonFlags
	cf.register(fs)
	useX11 := fs.Bool("x11", false, "Enumerate the RandR outputs of an X server")
	xdisplay := fs.String("display", "", "X display (default: $DISPLAY)")
	if err := fs.Parse(args); err != nil {
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

	d, done, err := openDisplay(*useX11, *xdisplay)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer done()
	if err := c.InitPhysicalDevice(dev, d); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	reps, err := collectDisplays(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cf.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reps); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}
	printDisplays(os.Stdout, reps)
	return 0
}

type formatReport struct {
	Formats      []string `json:"formats"`
	PresentModes []string `json:"present_modes"`
	MinImages    int      `json:"min_images"`
	MaxImages    int      `json:"max_images"`
}

// collectFormats queries the formats and present modes of
// a headless window surface.
func collectFormats(c *wsi.Context, cfg compositor.HeadlessConfig) (formatReport, error) {
	h := compositor.NewHeadless(cfg)
	defer h.Unref()
	sf, err := c.CreateWindowSurface(&wsi.WindowSurfaceInfo{
		Platform: wsi.Headless,
		Session:  h,
		Window:   &compositor.MemWindow{Width: 640, Height: 480},
	})
	if err != nil {
		return formatReport{}, err
	}
	defer c.DestroySurface(sf)

	var rep formatReport
	n, err := c.SurfaceFormats(dev, sf, nil)
	if err != nil {
		return rep, err
	}
	fmts := make([]wsi.SurfaceFormat, n)
	if _, err := c.SurfaceFormats(dev, sf, fmts); err != nil {
		return rep, err
	}
	for _, f := range fmts {
		native, _ := wsi.NativeFormat(f.Format, wsi.AlphaOpaque)
		rep.Formats = append(rep.Formats, fmt.Sprintf("%v (%v)", f.Format, native))
	}
	n, err = c.SurfacePresentModes(dev, sf, nil)
	if err != nil {
		return rep, err
	}
	modes := make([]wsi.PresentMode, n)
	if _, err := c.SurfacePresentModes(dev, sf, modes); err != nil {
		return rep, err
	}
	for _, m := range modes {
		rep.PresentModes = append(rep.PresentModes, m.String())
	}
	caps, err := c.SurfaceCapabilities(dev, sf)
	if err != nil {
		return rep, err
	}
	rep.MinImages, rep.MaxImages = caps.MinImageCount, caps.MaxImageCount
	return rep, nil
}

func runFormats(args []string) int {
	fs := flag.NewFlagSet("formats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var cf commonFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
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
	rep, err := collectFormats(c, cfg.Headless(nil, log))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cf.json {
		if err := json.NewEncoder(os.Stdout).Encode(rep); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}
	fmt.Println("formats:")
	for _, f := range rep.Formats {
		fmt.Println("  " + f)
	}
	fmt.Println("present modes:")
	for _, m := range rep.PresentModes {
		fmt.Println("  " + m)
	}
	fmt.Printf("images: %d..%d\n", rep.MinImages, rep.MaxImages)
	return 0
}
