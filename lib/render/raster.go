/*
Copyright 2024 Obelisk Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package render

import (
	"bytes"
	"image"
	"image/draw"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/gravitational/trace"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/obelisklabs/beetle/lib/defaults"
)

// messageInset is where plain message layouts anchor their text.
const messageInset = 10

// Rasterize renders a layout onto a width x height canvas and returns the
// PNG bytes. Unsupported inputs fail without touching the canvas contract:
// the output is always a full-size image or an error.
func Rasterize(layout Layout, width, height int) ([]byte, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	switch layout.Kind {
	case LayoutClear:
		// all-white canvas

	case LayoutMessage:
		if err := drawPlain(canvas, canvas.Bounds(), StylizedMessage{Message: layout.Text}); err != nil {
			return nil, trace.Wrap(err)
		}

	case LayoutScannable:
		if err := drawScannable(canvas, layout.Text); err != nil {
			return nil, trace.Wrap(err)
		}

	case LayoutStylized:
		if layout.Stylized == nil {
			return nil, trace.BadParameter("stylized layout missing component")
		}
		top := canvas.Bounds().Min.Y
		if _, err := drawBoxed(canvas, canvas.Bounds(), *layout.Stylized, top); err != nil {
			return nil, trace.Wrap(err)
		}

	case LayoutSplit:
		if layout.Split == nil {
			return nil, trace.BadParameter("split layout missing columns")
		}
		if err := drawSplit(canvas, *layout.Split); err != nil {
			return nil, trace.Wrap(err)
		}

	default:
		return nil, trace.BadParameter("unknown layout %q", layout.Kind)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, trace.Wrap(err)
	}
	return buf.Bytes(), nil
}

// drawScannable QR-encodes contents and centers it on the canvas in
// grayscale.
func drawScannable(canvas *image.RGBA, contents string) error {
	code, err := qr.Encode(contents, qr.M, qr.Auto)
	if err != nil {
		return trace.BadParameter("encoding scannable: %v", err)
	}
	bounds := canvas.Bounds()
	side := min(bounds.Dx(), bounds.Dy())
	scaled, err := barcode.Scale(code, side, side)
	if err != nil {
		return trace.BadParameter("scaling scannable: %v", err)
	}
	offset := image.Pt(
		bounds.Min.X+(bounds.Dx()-side)/2,
		bounds.Min.Y+(bounds.Dy()-side)/2,
	)
	gray := image.NewGray(scaled.Bounds())
	draw.Draw(gray, gray.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	draw.Draw(canvas, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(side, side))}, gray, gray.Bounds().Min, draw.Src)
	return nil
}

// drawSplit renders the two column stacks, dividing the canvas at the
// layout's ratio percent (default 50).
func drawSplit(canvas *image.RGBA, split SplitLayout) error {
	bounds := canvas.Bounds()
	ratio := split.Ratio
	if ratio <= 0 || ratio >= 100 {
		ratio = 50
	}
	divide := bounds.Min.X + bounds.Dx()*ratio/100
	left := image.Rect(bounds.Min.X, bounds.Min.Y, divide, bounds.Max.Y)
	right := image.Rect(divide, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)

	if err := drawStack(canvas, left, split.Left); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(drawStack(canvas, right, split.Right))
}

// drawStack renders components top to bottom within region.
func drawStack(canvas *image.RGBA, region image.Rectangle, components []StylizedMessage) error {
	y := region.Min.Y
	for _, component := range components {
		next, err := drawBoxed(canvas, region, component, y)
		if err != nil {
			return trace.Wrap(err)
		}
		y = next
	}
	return nil
}

func spacingOrZero(s *Spacing) Spacing {
	if s == nil {
		return Spacing{}
	}
	return *s
}

// drawBoxed renders one stylized component with its margin, border, and
// padding boxes starting at vertical offset y, returning the offset below
// it.
func drawBoxed(canvas *image.RGBA, region image.Rectangle, component StylizedMessage, y int) (int, error) {
	size := component.Size
	if size <= 0 {
		size = defaults.FontSize
	}
	face, err := newFace(component.Font, size)
	if err != nil {
		return y, trace.Wrap(err)
	}
	defer face.Close()

	metrics := face.Metrics()
	textWidth := font.MeasureString(face, component.Message).Ceil()
	textHeight := metrics.Height.Ceil()

	margin := spacingOrZero(component.Margin)
	border := spacingOrZero(component.Border)
	padding := spacingOrZero(component.Padding)

	outer := image.Rect(
		region.Min.X+margin.Left,
		y+margin.Top,
		region.Min.X+margin.Left+border.Left+padding.Left+textWidth+padding.Right+border.Right,
		y+margin.Top+border.Top+padding.Top+textHeight+padding.Bottom+border.Bottom,
	)

	if component.Border != nil {
		draw.Draw(canvas, outer.Intersect(region), image.Black, image.Point{}, draw.Src)
	}
	inner := image.Rect(
		outer.Min.X+border.Left,
		outer.Min.Y+border.Top,
		outer.Max.X-border.Right,
		outer.Max.Y-border.Bottom,
	)
	draw.Draw(canvas, inner.Intersect(region), image.White, image.Point{}, draw.Src)

	drawer := font.Drawer{
		Dst:  canvas,
		Src:  image.Black,
		Face: face,
		Dot: fixed.P(
			inner.Min.X+padding.Left,
			inner.Min.Y+padding.Top+metrics.Ascent.Ceil(),
		),
	}
	drawer.DrawString(component.Message)

	return outer.Max.Y + margin.Bottom, nil
}

// drawPlain renders a bare text component at the default inset; used by
// plain message layouts.
func drawPlain(canvas *image.RGBA, region image.Rectangle, component StylizedMessage) error {
	size := component.Size
	if size <= 0 {
		size = defaults.FontSize
	}
	face, err := newFace(component.Font, size)
	if err != nil {
		return trace.Wrap(err)
	}
	defer face.Close()

	drawer := font.Drawer{
		Dst:  canvas,
		Src:  image.Black,
		Face: face,
		Dot: fixed.P(
			region.Min.X+messageInset,
			region.Min.Y+messageInset+face.Metrics().Ascent.Ceil(),
		),
	}
	drawer.DrawString(component.Message)
	return nil
}
