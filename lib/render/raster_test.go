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
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obelisklabs/beetle/lib/defaults"
	"github.com/obelisklabs/beetle/lib/types"
)

func decodePNG(t *testing.T, raw []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestRasterizeCanvasDimensions(t *testing.T) {
	layouts := []Layout{
		ClearLayout(),
		MessageLayout("hello"),
		ScannableLayout("https://example.com/register?device_target_id=abc"),
		{Kind: LayoutStylized, Stylized: &StylizedMessage{Message: "hi", Size: 34, Border: LeftSpacing(2)}},
		{Kind: LayoutSplit, Split: &SplitLayout{
			Left:  []StylizedMessage{{Message: "left", Size: 34}},
			Right: []StylizedMessage{{Message: "right", Size: 24}},
			Ratio: 80,
		}},
	}
	for _, layout := range layouts {
		t.Run(layout.Kind, func(t *testing.T) {
			raw, err := Rasterize(layout, defaults.CanvasWidth, defaults.CanvasHeight)
			require.NoError(t, err)

			img := decodePNG(t, raw)
			require.Equal(t, defaults.CanvasWidth, img.Bounds().Dx())
			require.Equal(t, defaults.CanvasHeight, img.Bounds().Dy())
		})
	}
}

func TestRasterizeClearIsAllWhite(t *testing.T) {
	raw, err := Rasterize(ClearLayout(), defaults.CanvasWidth, defaults.CanvasHeight)
	require.NoError(t, err)

	img := decodePNG(t, raw)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for _, pt := range []image.Point{{0, 0}, {399, 0}, {0, 299}, {399, 299}, {200, 150}} {
		r, g, b, a := img.At(pt.X, pt.Y).RGBA()
		wr, wg, wb, wa := white.RGBA()
		require.Equal(t, [4]uint32{wr, wg, wb, wa}, [4]uint32{r, g, b, a}, "pixel %v", pt)
	}
}

func TestRasterizeMessageDrawsInk(t *testing.T) {
	raw, err := Rasterize(MessageLayout("hello"), defaults.CanvasWidth, defaults.CanvasHeight)
	require.NoError(t, err)

	img := decodePNG(t, raw)
	dark := 0
	for x := 0; x < defaults.CanvasWidth; x++ {
		for y := 0; y < defaults.CanvasHeight; y++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r < 0x8000 && g < 0x8000 && b < 0x8000 {
				dark++
			}
		}
	}
	require.Positive(t, dark, "message layout should draw dark pixels")
}

func TestRasterizeScannableDrawsModules(t *testing.T) {
	raw, err := Rasterize(ScannableLayout("device_target_id=x"), defaults.CanvasWidth, defaults.CanvasHeight)
	require.NoError(t, err)

	img := decodePNG(t, raw)
	// QR finder patterns guarantee black modules within the centered square
	dark := 0
	for x := 50; x < 350; x++ {
		for y := 0; y < 300; y++ {
			r, _, _, _ := img.At(x, y).RGBA()
			if r < 0x8000 {
				dark++
			}
		}
	}
	require.Positive(t, dark)
}

func TestRasterizeRejectsUnknownLayout(t *testing.T) {
	_, err := Rasterize(Layout{Kind: "hologram"}, defaults.CanvasWidth, defaults.CanvasHeight)
	require.Error(t, err)
}

func TestStateLayoutNilClears(t *testing.T) {
	layout, err := StateLayout(nil)
	require.NoError(t, err)
	require.Equal(t, LayoutClear, layout.Kind)
}

func TestStateLayoutMessageList(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	state := &types.RenderingState{
		Layout: types.RenderingMessageList,
		Entries: []types.StateEntry{
			{Content: "hello", Origin: types.UserOrigin("alice"), Timestamp: now},
			{Content: "world", Origin: types.MessageOrigin{Origin: types.OriginUnknown}, Timestamp: now},
		},
	}

	layout, err := StateLayout(state)
	require.NoError(t, err)
	require.Equal(t, LayoutSplit, layout.Kind)
	require.Equal(t, 80, layout.Split.Ratio)
	require.Empty(t, layout.Split.Right)

	// body + attribution per entry
	require.Len(t, layout.Split.Left, 4)
	require.Equal(t, "hello", layout.Split.Left[0].Message)
	require.InDelta(t, 34, layout.Split.Left[0].Size, 0)
	require.Contains(t, layout.Split.Left[1].Message, "alice")
	require.InDelta(t, 24, layout.Split.Left[1].Size, 0)
	require.Contains(t, layout.Split.Left[3].Message, "unknown")

	// standard box styling
	require.Equal(t, LeftSpacing(2), layout.Split.Left[0].Border)
	require.Equal(t, LeftSpacing(10), layout.Split.Left[0].Padding)
	require.Equal(t, LeftSpacing(10), layout.Split.Left[0].Margin)
}

func TestStateLayoutSchedule(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	events := make([]types.ScheduleEvent, 6)
	for i := range events {
		events[i] = types.ScheduleEvent{Summary: "event", Start: now, End: now.Add(time.Hour)}
	}
	state := &types.RenderingState{
		Layout: types.RenderingScheduleLayout,
		Events: events,
		Entries: []types.StateEntry{
			{Content: "note", Origin: types.UserOrigin("bob"), Timestamp: now},
		},
	}

	layout, err := StateLayout(state)
	require.NoError(t, err)
	require.Equal(t, LayoutSplit, layout.Kind)
	require.Equal(t, 50, layout.Split.Ratio)

	// events bounded to four, two lines each
	require.Len(t, layout.Split.Left, 8)
	require.Contains(t, layout.Split.Left[1].Message, "09:00")
	require.Contains(t, layout.Split.Left[1].Message, "10:00")

	// separate layout: body, origin, timestamp
	require.Len(t, layout.Split.Right, 3)
	require.Equal(t, "note", layout.Split.Right[0].Message)
	require.Equal(t, "bob", layout.Split.Right[1].Message)
}
