package captcha

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand/v2"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	imageSize = 128

	maxRotationDeg = 20
	maxYOffset     = 10
	noisePixels    = 100
	noiseLines     = 5
)

// Minecraft map palette indices for the four gray levels the client can
// actually distinguish on a map item.
const (
	paletteDark     = 29
	paletteMidDark  = 30
	paletteMidLight = 31
	paletteLight    = 34
)

// renderImage rasterises the answer into 128x128 map palette bytes.
func renderImage(answer string, background image.Image) []byte {
	canvas := image.NewRGBA(image.Rect(0, 0, imageSize, imageSize))

	if background != nil {
		drawScaled(canvas, background)
	} else {
		bg := uint8(200 + rand.IntN(40))
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{bg, bg, bg, 255}), image.Point{}, draw.Src)
	}

	drawCode(canvas, answer)
	drawNoise(canvas)
	drawLines(canvas)

	return quantise(canvas)
}

// drawScaled paints src onto the 128x128 canvas with nearest-neighbour
// sampling.
func drawScaled(dst *image.RGBA, src image.Image) {
	sb := src.Bounds()
	for y := range imageSize {
		sy := sb.Min.Y + y*sb.Dy()/imageSize
		for x := range imageSize {
			sx := sb.Min.X + x*sb.Dx()/imageSize
			dst.Set(x, y, src.At(sx, sy))
		}
	}
}

// glyphMask rasterises a single rune with the bitmap face.
func glyphMask(r rune) *image.Alpha {
	face := basicfont.Face7x13
	mask := image.NewAlpha(image.Rect(0, 0, face.Advance, face.Height))
	d := font.Drawer{
		Dst:  mask,
		Src:  image.NewUniform(color.Alpha{255}),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(string(r))
	return mask
}

// drawCode paints each character with a random rotation and Y offset.
func drawCode(dst *image.RGBA, answer string) {
	runes := []rune(answer)
	if len(runes) == 0 {
		return
	}

	face := basicfont.Face7x13
	cellW := imageSize / len(runes)
	scale := float64(imageSize) / float64(face.Height) / 2.2

	for i, r := range runes {
		mask := glyphMask(r)
		theta := (rand.Float64()*2 - 1) * maxRotationDeg * math.Pi / 180
		cx := float64(i*cellW + cellW/2)
		cy := float64(imageSize/2 + rand.IntN(2*maxYOffset+1) - maxYOffset)

		blitRotated(dst, mask, cx, cy, scale, theta)
	}
}

// blitRotated maps destination pixels back through the inverse transform and
// stamps mask-covered pixels dark.
func blitRotated(dst *image.RGBA, mask *image.Alpha, cx, cy, scale, theta float64) {
	mb := mask.Bounds()
	mw, mh := float64(mb.Dx()), float64(mb.Dy())
	half := scale * math.Max(mw, mh) // generous bounding half-extent

	sin, cos := math.Sincos(-theta)

	minX := max(int(cx-half), 0)
	maxX := min(int(cx+half)+1, imageSize)
	minY := max(int(cy-half), 0)
	maxY := min(int(cy+half)+1, imageSize)

	for py := minY; py < maxY; py++ {
		for px := minX; px < maxX; px++ {
			dx := float64(px) - cx
			dy := float64(py) - cy
			u := (dx*cos-dy*sin)/scale + mw/2
			v := (dx*sin+dy*cos)/scale + mh/2
			mx, my := int(u), int(v)
			if mx < 0 || my < 0 || mx >= mb.Dx() || my >= mb.Dy() {
				continue
			}
			if mask.AlphaAt(mx, my).A > 0 {
				shade := uint8(rand.IntN(40))
				dst.SetRGBA(px, py, color.RGBA{shade, shade, shade, 255})
			}
		}
	}
}

func drawNoise(dst *image.RGBA) {
	for range noisePixels {
		x, y := rand.IntN(imageSize), rand.IntN(imageSize)
		v := uint8(rand.IntN(256))
		dst.SetRGBA(x, y, color.RGBA{v, v, v, 255})
	}
}

func drawLines(dst *image.RGBA) {
	for range noiseLines {
		x0, y0 := rand.IntN(imageSize), rand.IntN(imageSize)
		x1, y1 := rand.IntN(imageSize), rand.IntN(imageSize)
		v := uint8(rand.IntN(128))
		c := color.RGBA{v, v, v, 255}

		steps := max(abs(x1-x0), abs(y1-y0))
		if steps == 0 {
			dst.SetRGBA(x0, y0, c)
			continue
		}
		for s := 0; s <= steps; s++ {
			x := x0 + (x1-x0)*s/steps
			y := y0 + (y1-y0)*s/steps
			dst.SetRGBA(x, y, c)
		}
	}
}

// quantise collapses each pixel to one of four map palette grays.
func quantise(img *image.RGBA) []byte {
	out := make([]byte, imageSize*imageSize)
	for y := range imageSize {
		for x := range imageSize {
			c := img.RGBAAt(x, y)
			gray := (int(c.R) + int(c.G) + int(c.B)) / 3
			var idx byte
			switch {
			case gray < 64:
				idx = paletteDark
			case gray < 128:
				idx = paletteMidDark
			case gray < 192:
				idx = paletteMidLight
			default:
				idx = paletteLight
			}
			out[y*imageSize+x] = idx
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
