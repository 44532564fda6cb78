// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/armon/circbuf"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// x11StderrCap bounds how much child stderr is kept for error messages.
	x11StderrCap = 4 * 1024

	// x11NameCacheSize bounds the window name resolution cache.
	x11NameCacheSize = 64
)

// X11SourceConfig configures an X11Source.
type X11SourceConfig struct {
	Logger hclog.Logger

	// ImportBin is the ImageMagick import binary used for frame grabs.
	// Defaults to "import".
	ImportBin string

	// XdotoolBin resolves window names to window ids. Defaults to "xdotool".
	XdotoolBin string

	// Timeout bounds a single capture, child processes included.
	Timeout time.Duration
}

// X11Source captures frames from X displays by shelling out to import(1)
// for the grab and xdotool(1) for window lookup. Successful window name
// resolutions are cached per display and dropped again when a capture
// against the cached id fails, so a recreated window is found on the next
// attempt.
type X11Source struct {
	logger     hclog.Logger
	importBin  string
	xdotoolBin string
	timeout    time.Duration

	// display+name -> window id
	names *lru.Cache[string, string]
}

func NewX11Source(config *X11SourceConfig) (*X11Source, error) {
	names, err := lru.New[string, string](x11NameCacheSize)
	if err != nil {
		return nil, err
	}

	x := &X11Source{
		logger:     config.Logger.Named("x11"),
		importBin:  config.ImportBin,
		xdotoolBin: config.XdotoolBin,
		timeout:    config.Timeout,
		names:      names,
	}
	if x.importBin == "" {
		x.importBin = "import"
	}
	if x.xdotoolBin == "" {
		x.xdotoolBin = "xdotool"
	}
	if x.timeout == 0 {
		x.timeout = 5 * time.Second
	}
	return x, nil
}

func (x *X11Source) Capture(ctx context.Context, display string, target Target) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	window := "root"
	cacheKey := ""
	switch target.Kind {
	case TargetScreen, TargetPty:
	case TargetWindow:
		if target.WindowID != "" {
			window = target.WindowID
			break
		}
		cacheKey = display + "\x00" + target.Name
		id, err := x.resolveWindow(ctx, display, target.Name, cacheKey)
		if err != nil {
			return nil, err
		}
		window = id
	default:
		return nil, fmt.Errorf("cannot capture target kind %q", target.Kind)
	}

	frame, err := x.grab(ctx, display, window)
	if err != nil {
		if cacheKey != "" {
			// The cached id may name a window that went away.
			x.names.Remove(cacheKey)
		}
		return nil, err
	}
	return frame, nil
}

func (x *X11Source) resolveWindow(ctx context.Context, display, name, cacheKey string) (string, error) {
	if id, ok := x.names.Get(cacheKey); ok {
		return id, nil
	}

	cmd := exec.CommandContext(ctx, x.xdotoolBin, "search", "--onlyvisible", "--name", name)
	cmd.Env = append(os.Environ(), "DISPLAY="+display)

	var stdout bytes.Buffer
	stderr, _ := circbuf.NewBuffer(x11StderrCap)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("window %q not found on %s: %s", name, display, cmdError(err, stderr))
	}

	id := firstField(stdout.String())
	if id == "" {
		return "", fmt.Errorf("window %q not found on %s", name, display)
	}

	x.names.Add(cacheKey, id)
	x.logger.Debug("resolved window", "display", display, "name", name, "window_id", id)
	return id, nil
}

func (x *X11Source) grab(ctx context.Context, display, window string) (*Frame, error) {
	cmd := exec.CommandContext(ctx, x.importBin,
		"-display", display, "-window", window, "-silent", "png:-")

	var stdout bytes.Buffer
	stderr, _ := circbuf.NewBuffer(x11StderrCap)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("grabbing %s on %s: %s", window, display, cmdError(err, stderr))
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return FrameFromImage(img), nil
}

// cmdError folds captured stderr into an exec error, since exit statuses
// alone say nothing useful about X failures.
func cmdError(err error, stderr *circbuf.Buffer) string {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return err.Error()
	}
	return fmt.Sprintf("%v: %s", err, msg)
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// FrameFromImage converts a decoded image into an RGBA frame.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		tmp := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(tmp, tmp.Bounds(), img, b.Min, draw.Src)
		rgba = tmp
	}
	return &Frame{
		Width:  rgba.Rect.Dx(),
		Height: rgba.Rect.Dy(),
		Pix:    rgba.Pix,
	}
}
