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
	"sync"

	"github.com/gravitational/trace"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/gofont/gosmallcaps"
	"golang.org/x/image/font/opentype"
)

// Font names accepted on stylized messages. The faces are embedded at
// compile time; requests for the classic fleet font names resolve through
// this set.
const (
	FontDejaVuSans = "DejaVu Sans"
	FontRoboto     = "Roboto"
	FontTeko       = "Teko"
	FontBarlow     = "Barlow"
)

// DefaultFont is used when a component names no font.
const DefaultFont = FontDejaVuSans

var parseFonts = sync.OnceValues(func() (map[string]*opentype.Font, error) {
	sources := map[string][]byte{
		FontDejaVuSans: goregular.TTF,
		FontRoboto:     gomedium.TTF,
		FontTeko:       gosmallcaps.TTF,
		FontBarlow:     goitalic.TTF,
	}
	fonts := make(map[string]*opentype.Font, len(sources))
	for name, ttf := range sources {
		parsed, err := opentype.Parse(ttf)
		if err != nil {
			return nil, trace.Wrap(err, "parsing embedded font %q", name)
		}
		fonts[name] = parsed
	}
	return fonts, nil
})

// newFace builds a sized face for the named font. Unknown names fall back to
// the default font rather than failing the render.
func newFace(name string, size float64) (font.Face, error) {
	fonts, err := parseFonts()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	parsed, ok := fonts[name]
	if !ok {
		parsed = fonts[DefaultFont]
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return face, nil
}
