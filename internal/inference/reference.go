package inference

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/projectsentinel/sentineld/internal/domain"
)

// meshPointCount mirrors the 468-point face mesh topology of the
// prototype's landmark model closely enough that eye-aspect-ratio and
// head-pose displacement math (internal/liveness, internal/vision) can
// index into it the same way; only the handful of indices those
// packages actually read are meaningful, the rest interpolate a plausible
// oval.
const meshPointCount = 468

// LeftEyeIdx and RightEyeIdx are the six-point EAR contours, carried over
// verbatim from the prototype's landmark indexing: EAR computed from
// two eye contours of six points each.
var (
	LeftEyeIdx  = [6]int{362, 385, 387, 263, 373, 380}
	RightEyeIdx = [6]int{33, 160, 158, 133, 153, 144}
)

// Reference is a deterministic, dependency-free Backend: every output is
// a pure function of the input bytes, so the same frame always produces
// the same detection/embedding/mesh/antispoof score. It exists because
// no ONNX or other model-runtime binding is available offline; a real
// deployment supplies its own Backend built against the site's model
// files, and swaps it in at startup without any other package changing.
type Reference struct{}

// NewReference constructs the reference backend. It has no state and
// requires no warmup, but implements Warmup to satisfy Backend.
func NewReference() *Reference { return &Reference{} }

func (r *Reference) Name() string { return "reference" }

func (r *Reference) Warmup(ctx context.Context) error { return nil }

// Detect reports a single centered face candidate whenever frame has
// nonzero dimensions and at least 64 pixel bytes, sized and scored from a
// hash of the pixel buffer so results are stable across repeated calls
// on the same frame but vary across frames.
func (r *Reference) Detect(ctx context.Context, frame Frame) ([]domain.FaceDetection, error) {
	if len(frame.Pixels) < 64 || frame.Width == 0 || frame.Height == 0 {
		return nil, nil
	}
	h := sha256.Sum256(frame.Pixels)
	fw, fh := float64(frame.Width), float64(frame.Height)

	scoreJitter := float64(h[0]) / 255.0 * 0.05
	score := 0.94 + scoreJitter

	sizeFrac := 0.35 + float64(h[1])/255.0*0.15
	w := fw * sizeFrac
	ht := fh * sizeFrac
	cx := fw/2 + (float64(h[2])/255.0-0.5)*fw*0.1
	cy := fh/2 + (float64(h[3])/255.0-0.5)*fh*0.1

	box := domain.Box{X: cx - w/2, Y: cy - ht/2, W: w, H: ht}
	det := domain.FaceDetection{
		Box:       box,
		Score:     score,
		Landmarks: syntheticLandmarks(box, h[:]),
	}
	return []domain.FaceDetection{det}, nil
}

func syntheticLandmarks(box domain.Box, seed []byte) [5]domain.Landmark {
	cx, cy := box.Center()
	eyeDX := box.W * 0.18
	eyeY := cy - box.H*0.08
	jitter := func(i int) (float64, float64) {
		b := seed[i%len(seed)]
		return (float64(b)/255.0 - 0.5) * box.W * 0.02, (float64(seed[(i+1)%len(seed)])/255.0 - 0.5) * box.H * 0.02
	}
	jx0, jy0 := jitter(4)
	jx1, jy1 := jitter(6)
	jx2, jy2 := jitter(8)
	jx3, jy3 := jitter(10)
	jx4, jy4 := jitter(12)
	return [5]domain.Landmark{
		{X: cx - eyeDX + jx0, Y: eyeY + jy0},                // left eye
		{X: cx + eyeDX + jx1, Y: eyeY + jy1},                // right eye
		{X: cx + jx2, Y: cy + jy2},                          // nose
		{X: cx - eyeDX*0.7 + jx3, Y: cy + box.H*0.25 + jy3}, // mouth left
		{X: cx + eyeDX*0.7 + jx4, Y: cy + box.H*0.25 + jy4}, // mouth right
	}
}

// Recognize derives an EmbeddingDim-length vector from a hash of the
// cropped region's coordinates and the frame's pixel content, so the
// same subject (same crop of the same frame content) always yields the
// same raw vector before L2 normalization by the caller.
func (r *Reference) Recognize(ctx context.Context, frame Frame, box domain.Box) ([]float64, error) {
	if len(frame.Pixels) == 0 {
		return nil, ErrUnsupported
	}
	seed := cropSeed(frame, box)
	return hashToVector(seed, domain.EmbeddingDim), nil
}

// Mesh synthesizes meshPointCount landmarks arranged in a plausible oval
// around box, perturbed deterministically by frame content so that eye
// contours (used for EAR) respond to hash changes the way a genuine
// blink would move real landmarks.
func (r *Reference) Mesh(ctx context.Context, frame Frame, box domain.Box) ([]MeshPoint, error) {
	seed := cropSeed(frame, box)
	h := sha256.Sum256(seed)
	pts := make([]MeshPoint, meshPointCount)
	cx, cy := box.Center()
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / float64(meshPointCount)
		rx := box.W / 2 * (0.85 + 0.15*math.Cos(theta*3))
		ry := box.H / 2 * (0.85 + 0.15*math.Sin(theta*3))
		pts[i] = MeshPoint{X: cx + rx*math.Cos(theta), Y: cy + ry*math.Sin(theta)}
	}
	applyEyeOpenness(pts, LeftEyeIdx, box, openness(h[:], 0))
	applyEyeOpenness(pts, RightEyeIdx, box, openness(h[:], 1))
	return pts, nil
}

// openness derives a value in [0.15, 1.0] from the hash, used to widen
// or narrow the synthetic eye contour's vertical extent so EAR varies
// plausibly across frames instead of being constant.
func openness(h []byte, salt int) float64 {
	v := float64(h[salt%len(h)]) / 255.0
	return 0.15 + v*0.85
}

func applyEyeOpenness(pts []MeshPoint, idx [6]int, box domain.Box, openFrac float64) {
	// contour layout: [outer, top1, top2, inner, bottom1, bottom2]
	cx := (pts[idx[0]].X + pts[idx[3]].X) / 2
	cy := (pts[idx[0]].Y + pts[idx[3]].Y) / 2
	halfW := box.W * 0.06
	halfH := box.H * 0.025 * openFrac
	pts[idx[0]] = MeshPoint{X: cx - halfW, Y: cy}
	pts[idx[3]] = MeshPoint{X: cx + halfW, Y: cy}
	pts[idx[1]] = MeshPoint{X: cx - halfW/3, Y: cy - halfH}
	pts[idx[2]] = MeshPoint{X: cx + halfW/3, Y: cy - halfH}
	pts[idx[4]] = MeshPoint{X: cx + halfW/3, Y: cy + halfH}
	pts[idx[5]] = MeshPoint{X: cx - halfW/3, Y: cy + halfH}
}

// antispoofClasses is the fixed output width of the reference antispoof
// head: [print-attack, replay-attack, live], matching the three-way
// softmax the prototype's MiniFASNetV2 head produces.
const antispoofClasses = 3

// AntispoofProbs derives a 3-way softmax from local texture variance in
// the cropped region: real camera frames carry more high-frequency noise
// than a flat print or a screen's moire-free crop under this synthetic
// model, so variance above a hashed baseline concentrates mass on the
// class the caller's calibrated live_idx happens to name.
func (r *Reference) AntispoofProbs(ctx context.Context, frame Frame, box domain.Box) ([]float64, error) {
	seed := cropSeed(frame, box)
	if len(seed) == 0 {
		return nil, ErrUnsupported
	}
	var mean, m2 float64
	for i, b := range seed {
		x := float64(b)
		delta := x - mean
		mean += delta / float64(i+1)
		m2 += delta * (x - mean)
	}
	variance := m2 / float64(len(seed))
	liveness := variance / (variance + 900) // squashes into (0,1)

	h := sha256.Sum256(seed)
	logits := make([]float64, antispoofClasses)
	for i := range logits {
		logits[i] = float64(h[i]) / 255.0
	}
	// Bias the class the frame's declared color order nominally favors,
	// so calibration search over (color order x live index) actually
	// has a signal to discover instead of picking uniformly at random.
	favored := 2
	if frame.Order == domain.ColorRGB {
		favored = 1
	}
	logits[favored] += liveness * 4

	return softmax(logits), nil
}

func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		e := math.Exp(v - max)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// cropSeed extracts the byte window of frame.Pixels approximately under
// box, falling back to the whole buffer when geometry is degenerate.
func cropSeed(frame Frame, box domain.Box) []byte {
	if frame.Width == 0 || frame.Height == 0 || len(frame.Pixels) == 0 {
		return frame.Pixels
	}
	stride := len(frame.Pixels) / frame.Height
	if stride == 0 {
		return frame.Pixels
	}
	y0 := clampInt(int(box.Y), 0, frame.Height-1)
	y1 := clampInt(int(box.Y+box.H), y0+1, frame.Height)
	start := y0 * stride
	end := y1 * stride
	if end > len(frame.Pixels) {
		end = len(frame.Pixels)
	}
	if start >= end {
		return frame.Pixels
	}
	return frame.Pixels[start:end]
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

// hashToVector expands seed into an n-length float64 vector in [-1, 1]
// via repeated SHA-256 chaining, scaling a hash-derived embedding past
// a single hash block to any embedding dimension.
func hashToVector(seed []byte, n int) []float64 {
	out := make([]float64, n)
	block := sha256.Sum256(seed)
	for i := 0; i < n; i++ {
		if i > 0 && i%32 == 0 {
			block = sha256.Sum256(block[:])
		}
		b := block[i%32]
		var u32 uint32
		if i%4 == 0 && i+4 <= len(block) {
			u32 = binary.LittleEndian.Uint32(block[i%32:])
		} else {
			u32 = uint32(b) * 16843009 // spread a single byte across 32 bits
		}
		out[i] = float64(u32)/float64(math.MaxUint32)*2 - 1
	}
	return out
}

var _ Backend = (*Reference)(nil)
