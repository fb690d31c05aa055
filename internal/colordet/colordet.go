// Package colordet implements the Color Detector primitives from spec.md
// §4.2: ColorSpec tolerance math, broad and precise mask construction, and
// contour-to-screen-point conversion. The HSV/Lab mask work is grounded on
// yinyue123-FlyffBot's src2/detect.go (InRangeWithScalar + MorphologyEx +
// FindContours), generalized from fixed bar/mob specs to a reusable ColorSpec.
package colordet

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"
)

// ColorSpec is the full tolerance envelope for one target color, matching
// spec.md §3's ColorSpec: an RGB center with an RGB box tolerance, plus an
// optional HSV box tolerance layered on top.
type ColorSpec struct {
	R, G, B int
	TolRGB  int
	UseHSV  bool
	TolH    int
	TolS    int
	TolV    int
}

// colorSpecYAML mirrors the profile file's wire shape — rgb as a 3-element
// list, matching rspsbot's own ColorSpec serialization — since ColorSpec's
// Go fields (R, G, B) don't map 1:1 onto a single "rgb" YAML key.
type colorSpecYAML struct {
	RGB    [3]int `yaml:"rgb"`
	TolRGB int    `yaml:"tol_rgb"`
	UseHSV bool   `yaml:"use_hsv"`
	TolH   int    `yaml:"tol_h"`
	TolS   int    `yaml:"tol_s"`
	TolV   int    `yaml:"tol_v"`
}

// UnmarshalYAML decodes the rgb-list wire shape into ColorSpec's named
// fields, then clamps via Clamped (spec.md §3 ColorSpec invariant).
func (c *ColorSpec) UnmarshalYAML(value *yaml.Node) error {
	var w colorSpecYAML
	if err := value.Decode(&w); err != nil {
		return err
	}
	*c = ColorSpec{
		R: w.RGB[0], G: w.RGB[1], B: w.RGB[2],
		TolRGB: w.TolRGB, UseHSV: w.UseHSV, TolH: w.TolH, TolS: w.TolS, TolV: w.TolV,
	}
	*c = c.Clamped()
	return nil
}

// MarshalYAML encodes ColorSpec back to the rgb-list wire shape.
func (c ColorSpec) MarshalYAML() (any, error) {
	return colorSpecYAML{
		RGB: [3]int{c.R, c.G, c.B}, TolRGB: c.TolRGB, UseHSV: c.UseHSV,
		TolH: c.TolH, TolS: c.TolS, TolV: c.TolV,
	}, nil
}

// NewColorSpec builds a ColorSpec and clamps it immediately, matching the
// invariant from spec.md §3 ("ColorSpec tolerances are always non-negative
// and within channel range").
func NewColorSpec(r, g, b, tolRGB int, useHSV bool, tolH, tolS, tolV int) ColorSpec {
	c := ColorSpec{R: r, G: g, B: b, TolRGB: tolRGB, UseHSV: useHSV, TolH: tolH, TolS: tolS, TolV: tolV}
	return c.Clamped()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamped returns a copy of c with every channel and tolerance clamped into
// its valid range (spec.md §3 ColorSpec invariant).
func (c ColorSpec) Clamped() ColorSpec {
	c.R = clampInt(c.R, 0, 255)
	c.G = clampInt(c.G, 0, 255)
	c.B = clampInt(c.B, 0, 255)
	c.TolRGB = clampInt(c.TolRGB, 0, 255)
	c.TolH = clampInt(c.TolH, 0, 60)
	c.TolS = clampInt(c.TolS, 0, 255)
	c.TolV = clampInt(c.TolV, 0, 255)
	return c
}

// hsv returns the OpenCV-convention HSV (H in [0,180), S,V in [0,255]) of the
// spec's center color.
func (c ColorSpec) hsv() (h, s, v float64) {
	r := float64(c.R) / 255
	g := float64(c.G) / 255
	b := float64(c.B) / 255
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	switch {
	case delta == 0:
		h = 0
	case maxC == r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case maxC == g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	h /= 2 // OpenCV packs hue into [0,180)

	if maxC == 0 {
		s = 0
	} else {
		s = delta / maxC * 255
	}
	v = maxC * 255
	return h, s, v
}

// Mask is a binary detection mask aligned to a Frame's ROI, with its origin
// in ROI-local pixel space.
type Mask struct {
	mat    gocv.Mat
	Bounds image.Rectangle
}

// Close releases the underlying gocv.Mat. Callers must call Close once done.
func (m Mask) Close() error {
	if m.mat.Ptr() != nil {
		return m.mat.Close()
	}
	return nil
}

// CountNonZero returns the number of set pixels in the mask.
func (m Mask) CountNonZero() int {
	if m.mat.Empty() {
		return 0
	}
	return gocv.CountNonZero(m.mat)
}

// subsample returns a copy of img downscaled by an integer step via
// nearest-neighbor resampling (disintegration/imaging), per spec.md §4.2
// "broad search subsampling" and TESTABLE PROPERTY "subsampling conservation".
func subsample(img image.Image, step int) image.Image {
	if step <= 1 {
		return img
	}
	b := img.Bounds()
	w := (b.Dx() + step - 1) / step
	h := (b.Dy() + step - 1) / step
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return imaging.Resize(img, w, h, imaging.NearestNeighbor)
}

// BuildMaskBroad implements spec.md §4.2's build_mask: a fast RGB-box mask,
// optionally unioned (HSV OR) or intersected (HSV AND) with an HSV-box mask
// depending on intersectHSV (only when spec.UseHSV is set), run against an optionally subsampled frame.
func BuildMaskBroad(roiBGR *gocv.Mat, spec ColorSpec, subsampleStep int, intersectHSV bool) (Mask, error) {
	working := *roiBGR
	owned := false
	if subsampleStep > 1 {
		img, err := working.ToImage()
		if err != nil {
			return Mask{}, err
		}
		small := subsample(img, subsampleStep)
		m, err := gocv.ImageToMatRGB(small)
		if err != nil {
			return Mask{}, err
		}
		working = m
		owned = true
	}
	if owned {
		defer working.Close()
	}

	rgbLower := gocv.NewScalar(
		float64(clampInt(spec.B-spec.TolRGB, 0, 255)),
		float64(clampInt(spec.G-spec.TolRGB, 0, 255)),
		float64(clampInt(spec.R-spec.TolRGB, 0, 255)),
		0,
	)
	rgbUpper := gocv.NewScalar(
		float64(clampInt(spec.B+spec.TolRGB, 0, 255)),
		float64(clampInt(spec.G+spec.TolRGB, 0, 255)),
		float64(clampInt(spec.R+spec.TolRGB, 0, 255)),
		0,
	)
	rgbMask := gocv.NewMat()
	gocv.InRangeWithScalar(working, rgbLower, rgbUpper, &rgbMask)

	if !spec.UseHSV {
		bounds := roiBGR.Region(image.Rect(0, 0, roiBGR.Cols(), roiBGR.Rows())).Bounds()
		return Mask{mat: rgbMask, Bounds: bounds}, nil
	}

	hsvMat := gocv.NewMat()
	defer hsvMat.Close()
	gocv.CvtColor(working, &hsvMat, gocv.ColorBGRToHSV)

	h, s, v := spec.hsv()
	hsvMask := hsvRangeMask(hsvMat, h, s, v, spec.TolH, spec.TolS, spec.TolV)
	defer hsvMask.Close()

	combined := gocv.NewMat()
	if intersectHSV {
		gocv.BitwiseAnd(rgbMask, hsvMask, &combined)
	} else {
		gocv.BitwiseOr(rgbMask, hsvMask, &combined)
	}
	rgbMask.Close()

	bounds := image.Rect(0, 0, roiBGR.Cols(), roiBGR.Rows())
	return Mask{mat: combined, Bounds: bounds}, nil
}

// hsvRangeMask builds the InRange mask for an HSV box, wrapping the hue
// bound modulo 180 (OpenCV's hue domain) when the tolerance window crosses
// 0 or 180 — spec.md §4.2's |H-Ht| <= tol_h comparison is itself circular,
// so a target hue near the boundary (e.g. red) needs the OR of two ranges
// rather than one clamped range that silently drops the wrapped side.
func hsvRangeMask(hsvMat gocv.Mat, h, s, v float64, tolH, tolS, tolV int) gocv.Mat {
	sLow := math.Max(0, s-float64(tolS))
	sHigh := math.Min(255, s+float64(tolS))
	vLow := math.Max(0, v-float64(tolV))
	vHigh := math.Min(255, v+float64(tolV))

	lowH := h - float64(tolH)
	highH := h + float64(tolH)

	if lowH >= 0 && highH <= 180 {
		lower := gocv.NewScalar(lowH, sLow, vLow, 0)
		upper := gocv.NewScalar(highH, sHigh, vHigh, 0)
		mask := gocv.NewMat()
		gocv.InRangeWithScalar(hsvMat, lower, upper, &mask)
		return mask
	}

	var lo1, hi1, lo2, hi2 float64
	if lowH < 0 {
		lo1, hi1 = 0, highH
		lo2, hi2 = lowH+180, 180
	} else {
		lo1, hi1 = lowH, 180
		lo2, hi2 = 0, highH-180
	}

	mask1 := gocv.NewMat()
	gocv.InRangeWithScalar(hsvMat, gocv.NewScalar(lo1, sLow, vLow, 0), gocv.NewScalar(hi1, sHigh, vHigh, 0), &mask1)
	mask2 := gocv.NewMat()
	gocv.InRangeWithScalar(hsvMat, gocv.NewScalar(lo2, sLow, vLow, 0), gocv.NewScalar(hi2, sHigh, vHigh, 0), &mask2)

	combined := gocv.NewMat()
	gocv.BitwiseOr(mask1, mask2, &combined)
	mask1.Close()
	mask2.Close()
	return combined
}

// labDeltaE76 is the classic Euclidean distance in CIE Lab space (ΔE76),
// used by BuildMaskPreciseSmall for tight tolerance discrimination where a plain
// RGB/HSV box is too permissive (spec.md design notes on precise mode).
func labDeltaE76(l1, a1, b1, l2, a2, b2 float64) float64 {
	dl := l1 - l2
	da := a1 - a2
	db := b1 - b2
	return math.Sqrt(dl*dl + da*da + db*db)
}

// BuildMaskPreciseSmall implements spec.md §4.2's build_mask_precise_small:
// a Lab ΔE76 mask combined with HSV saturation/value floors and a
// morphological open+close pass, intended for small, visually ambiguous
// targets (hp-bar pixels, weapon icons) where the broad mask over-matches.
func BuildMaskPreciseSmall(roiBGR *gocv.Mat, spec ColorSpec, deltaEMax float64, satFloor, valFloor int, morphKernel int) (Mask, error) {
	labMat := gocv.NewMat()
	defer labMat.Close()
	gocv.CvtColor(*roiBGR, &labMat, gocv.ColorBGRToLab)

	hsvMat := gocv.NewMat()
	defer hsvMat.Close()
	gocv.CvtColor(*roiBGR, &hsvMat, gocv.ColorBGRToHSV)

	targetLab := rgbToLab(spec.R, spec.G, spec.B)

	rows, cols := roiBGR.Rows(), roiBGR.Cols()
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U)

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			lv := labMat.GetVecbAt(y, x)
			l := float64(lv[0]) * 100 / 255
			a := float64(lv[1]) - 128
			b := float64(lv[2]) - 128
			de := labDeltaE76(l, a, b, targetLab[0], targetLab[1], targetLab[2])
			if de > deltaEMax {
				continue
			}
			hv := hsvMat.GetVecbAt(y, x)
			if int(hv[1]) < satFloor || int(hv[2]) < valFloor {
				continue
			}
			mask.SetUCharAt(y, x, 255)
		}
	}

	if morphKernel > 0 {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(morphKernel, morphKernel))
		defer kernel.Close()
		opened := gocv.NewMat()
		gocv.MorphologyEx(mask, &opened, gocv.MorphOpen, kernel)
		mask.Close()
		closed := gocv.NewMat()
		gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
		opened.Close()
		mask = closed
	}

	return Mask{mat: mask, Bounds: image.Rect(0, 0, cols, rows)}, nil
}

// rgbToLab converts an 8-bit RGB triple to CIE Lab (D65), used only to find
// the target center's Lab coordinates once per BuildMaskPreciseSmall call.
func rgbToLab(r, g, b int) [3]float64 {
	toLinear := func(c float64) float64 {
		c /= 255
		if c > 0.04045 {
			return math.Pow((c+0.055)/1.055, 2.4)
		}
		return c / 12.92
	}
	rl, gl, bl := toLinear(float64(r)), toLinear(float64(g)), toLinear(float64(b))

	x := rl*0.4124 + gl*0.3576 + bl*0.1805
	y := rl*0.2126 + gl*0.7152 + bl*0.0722
	z := rl*0.0193 + gl*0.1192 + bl*0.9505

	xn, yn, zn := 0.95047, 1.0, 1.08883
	f := func(t float64) float64 {
		if t > 0.008856 {
			return math.Cbrt(t)
		}
		return 7.787*t + 16.0/116
	}
	fx, fy, fz := f(x/xn), f(y/yn), f(z/zn)

	l := 116*fy - 16
	a := 500 * (fx - fy)
	bb := 200 * (fy - fz)
	return [3]float64{l, a, bb}
}

// BuildMaskMulti OR-combines masks for every spec in specs (spec.md §4.2
// build_mask_multi), optionally subtracting a dilated tile-color mask so
// tile-colored monster sprite edges never contribute false positives.
func BuildMaskMulti(roiBGR *gocv.Mat, specs []ColorSpec, subsampleStep int, excludeTile *ColorSpec, tileDilate int) (Mask, error) {
	if len(specs) == 0 {
		rows, cols := roiBGR.Rows(), roiBGR.Cols()
		return Mask{mat: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U), Bounds: image.Rect(0, 0, cols, rows)}, nil
	}

	combined, err := BuildMaskBroad(roiBGR, specs[0], subsampleStep, false)
	if err != nil {
		return Mask{}, err
	}
	for _, spec := range specs[1:] {
		next, err := BuildMaskBroad(roiBGR, spec, subsampleStep, false)
		if err != nil {
			combined.Close()
			return Mask{}, err
		}
		merged := gocv.NewMat()
		gocv.BitwiseOr(combined.mat, next.mat, &merged)
		combined.Close()
		next.Close()
		combined = Mask{mat: merged, Bounds: combined.Bounds}
	}

	if excludeTile != nil {
		tileMask, err := BuildMaskBroad(roiBGR, *excludeTile, subsampleStep, false)
		if err != nil {
			return combined, nil
		}
		defer tileMask.Close()
		if tileDilate > 0 {
			kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(tileDilate, tileDilate))
			defer kernel.Close()
			dilated := gocv.NewMat()
			gocv.Dilate(tileMask.mat, &dilated, kernel)
			tileMask.mat.Close()
			tileMask.mat = dilated
		}
		notTile := gocv.NewMat()
		gocv.BitwiseNot(tileMask.mat, &notTile)
		final := gocv.NewMat()
		gocv.BitwiseAnd(combined.mat, notTile, &final)
		notTile.Close()
		combined.Close()
		combined = Mask{mat: final, Bounds: combined.Bounds}
	}

	return combined, nil
}

// Blob is a single detected contour reduced to its screen-space (ROI-local)
// centroid and area, per spec.md §4.2 "contours_to_screen_points".
type Blob struct {
	Center image.Point
	Area   float64
	Rect   image.Rectangle
}

// ExtractBlobs runs FindContours on the mask and converts each qualifying
// contour to a Blob, using the contour's image moment centroid and falling
// back to the bounding-rect center when the moment is degenerate (area ~ 0),
// matching spec.md's documented fallback.
func ExtractBlobs(m Mask, minArea float64) []Blob {
	if m.mat.Empty() {
		return nil
	}
	contours := gocv.FindContours(m.mat, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	blobs := make([]Blob, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < minArea {
			continue
		}
		rect := gocv.BoundingRect(contour)
		moments := gocv.Moments(contour, false)
		var center image.Point
		if m00, ok := moments["m00"]; ok && m00 != 0 {
			center = image.Pt(int(moments["m10"]/m00), int(moments["m01"]/m00))
		} else {
			center = image.Pt(rect.Min.X+rect.Dx()/2, rect.Min.Y+rect.Dy()/2)
		}
		blobs = append(blobs, Blob{Center: center, Area: area, Rect: rect})
	}
	return blobs
}

// ToScreenPoint converts a ROI-local blob center to absolute screen
// coordinates given the ROI's screen-space origin.
func ToScreenPoint(b Blob, roiOrigin image.Point) image.Point {
	return image.Pt(roiOrigin.X+b.Center.X, roiOrigin.Y+b.Center.Y)
}

// RGBAFromSpec returns the opaque color.RGBA a ColorSpec's center represents,
// useful for debug overlays drawn by callers (not this package's concern).
func RGBAFromSpec(c ColorSpec) color.RGBA {
	return color.RGBA{R: uint8(c.R), G: uint8(c.G), B: uint8(c.B), A: 255}
}
