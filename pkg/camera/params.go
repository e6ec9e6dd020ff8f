// Package camera holds scene-camera calibration: the pinhole intrinsic matrix
// and the lens distortion coefficients, in OpenCV conventions.
package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidParams is returned when a calibration document cannot be used.
var ErrInvalidParams = errors.New("camera: invalid calibration")

// Params is a calibrated pinhole camera with Brown-Conrady style distortion.
// Build it with New, ParseParams or LoadParams.
//
// DistCoeffs follows OpenCV ordering: k1, k2, p1, p2[, k3[, k4, k5, k6]].
// Eight coefficients select the rational model.
type Params struct {
	CameraMatrix [3][3]float64 `json:"camera_matrix"`
	DistCoeffs   []float64     `json:"distortion_coefficients"`

	k    *mat.Dense
	kInv *mat.Dense
}

// paramsDoc accepts flat and nested ([[...]]) coefficient arrays, both of which
// appear in eye-tracker exports.
type paramsDoc struct {
	CameraMatrix [][]float64     `json:"camera_matrix"`
	DistCoeffs   json.RawMessage `json:"distortion_coefficients"`
	// Older exports use OpenCV's short names.
	K json.RawMessage `json:"K"`
	D json.RawMessage `json:"D"`
}

// LoadParams reads a calibration JSON document.
func LoadParams(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("camera: read %s: %w", path, err)
	}
	p, err := ParseParams(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// LoadOptionalParams is LoadParams for an optional calibration: it returns
// nil, nil when path is empty or the file does not exist. A file that exists
// but cannot be used is still an error.
func LoadOptionalParams(path string) (*Params, error) {
	if path == "" {
		return nil, nil
	}
	p, err := LoadParams(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return p, err
}

// ParseParams decodes and validates a calibration JSON document.
func ParseParams(data []byte) (*Params, error) {
	var doc paramsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	rows := doc.CameraMatrix
	if rows == nil && len(doc.K) > 0 {
		if err := json.Unmarshal(doc.K, &rows); err != nil {
			return nil, fmt.Errorf("%w: K: %v", ErrInvalidParams, err)
		}
	}
	if len(rows) != 3 {
		return nil, fmt.Errorf("%w: camera matrix must be 3x3, got %d rows", ErrInvalidParams, len(rows))
	}

	var km [3][3]float64
	for i, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("%w: camera matrix row %d has %d values", ErrInvalidParams, i, len(row))
		}
		copy(km[i][:], row)
	}

	raw := doc.DistCoeffs
	if len(raw) == 0 {
		raw = doc.D
	}
	dist, err := flattenCoeffs(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: distortion coefficients: %v", ErrInvalidParams, err)
	}

	return New(km, dist)
}

// New builds Params from an intrinsic matrix and distortion coefficients.
func New(k [3][3]float64, dist []float64) (*Params, error) {
	p := &Params{CameraMatrix: k, DistCoeffs: append([]float64(nil), dist...)}
	if errs := p.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(errs, "; "))
	}

	p.k = mat.NewDense(3, 3, []float64{
		k[0][0], k[0][1], k[0][2],
		k[1][0], k[1][1], k[1][2],
		k[2][0], k[2][1], k[2][2],
	})
	p.kInv = mat.NewDense(3, 3, nil)
	if err := p.kInv.Inverse(p.k); err != nil {
		return nil, fmt.Errorf("%w: camera matrix is singular: %v", ErrInvalidParams, err)
	}
	return p, nil
}

// Validate checks the calibration values.
// Returns a list of validation errors, or nil if valid.
func (p *Params) Validate() []string {
	var errs []string

	k := p.CameraMatrix
	if k[0][0] <= 0 || k[1][1] <= 0 {
		errs = append(errs, "focal lengths fx and fy must be positive")
	}
	if k[2][0] != 0 || k[2][1] != 0 || k[2][2] != 1 {
		errs = append(errs, "camera matrix last row must be [0 0 1]")
	}
	if !finite(k[0][:]...) || !finite(k[1][:]...) || !finite(k[2][:]...) {
		errs = append(errs, "camera matrix must be finite")
	}

	switch n := len(p.DistCoeffs); n {
	case 0, 4, 5, 8:
	default:
		errs = append(errs, fmt.Sprintf("expected 0, 4, 5 or 8 distortion coefficients, got %d", n))
	}
	if !finite(p.DistCoeffs...) {
		errs = append(errs, "distortion coefficients must be finite")
	}

	return errs
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Focal returns fx, fy.
func (p *Params) Focal() (fx, fy float64) {
	return p.CameraMatrix[0][0], p.CameraMatrix[1][1]
}

// Principal returns the principal point cx, cy.
func (p *Params) Principal() (cx, cy float64) {
	return p.CameraMatrix[0][2], p.CameraMatrix[1][2]
}

// HasDistortion reports whether any coefficient is non-zero.
func (p *Params) HasDistortion() bool {
	for _, c := range p.DistCoeffs {
		if c != 0 {
			return true
		}
	}
	return false
}

// coeffs returns the eight rational-model coefficients, zero padded.
func (p *Params) coeffs() (k1, k2, p1, p2, k3, k4, k5, k6 float64) {
	var c [8]float64
	copy(c[:], p.DistCoeffs)
	return c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7]
}

// normalize maps a pixel to normalized image coordinates through K⁻¹.
func (p *Params) normalize(u, v float64) (x, y float64) {
	var out mat.VecDense
	out.MulVec(p.kInv, mat.NewVecDense(3, []float64{u, v, 1}))
	return out.AtVec(0) / out.AtVec(2), out.AtVec(1) / out.AtVec(2)
}

// project maps normalized image coordinates back to pixels through K.
func (p *Params) project(x, y float64) (u, v float64) {
	var out mat.VecDense
	out.MulVec(p.k, mat.NewVecDense(3, []float64{x, y, 1}))
	return out.AtVec(0) / out.AtVec(2), out.AtVec(1) / out.AtVec(2)
}

// distortNormalized applies the forward lens model.
func (p *Params) distortNormalized(x, y float64) (float64, float64) {
	k1, k2, p1, p2, k3, k4, k5, k6 := p.coeffs()
	r2 := x*x + y*y
	radial := (1 + ((k3*r2+k2)*r2+k1)*r2) / (1 + ((k6*r2+k5)*r2+k4)*r2)
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

// Distort maps an undistorted pixel to where the lens images it.
func (p *Params) Distort(u, v float64) (float64, float64) {
	x, y := p.normalize(u, v)
	x, y = p.distortNormalized(x, y)
	return p.project(x, y)
}

const (
	undistortIterations = 100
	undistortEpsilon    = 1e-12
)

// UndistortPoint maps a distorted pixel to its position in the undistorted image,
// using K as the new camera matrix (the same mapping a full-frame undistort uses).
func (p *Params) UndistortPoint(u, v float64) (float64, float64) {
	if !p.HasDistortion() {
		return u, v
	}

	k1, k2, p1, p2, k3, k4, k5, k6 := p.coeffs()
	x0, y0 := p.normalize(u, v)
	x, y := x0, y0

	for i := 0; i < undistortIterations; i++ {
		r2 := x*x + y*y
		icdist := (1 + ((k6*r2+k5)*r2+k4)*r2) / (1 + ((k3*r2+k2)*r2+k1)*r2)
		if icdist < 0 {
			x, y = x0, y0
			break
		}
		dx := 2*p1*x*y + p2*(r2+2*x*x)
		dy := p1*(r2+2*y*y) + 2*p2*x*y
		nx := (x0 - dx) * icdist
		ny := (y0 - dy) * icdist
		done := math.Abs(nx-x) < undistortEpsilon && math.Abs(ny-y) < undistortEpsilon
		x, y = nx, ny
		if done {
			break
		}
	}

	return p.project(x, y)
}

func flattenCoeffs(raw json.RawMessage) ([]float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var nested [][]float64
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, err
	}
	var out []float64
	for _, row := range nested {
		out = append(out, row...)
	}
	return out, nil
}
