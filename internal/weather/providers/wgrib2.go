package providers

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
)

// wgrib2 prints 9.999e+20 for undefined grid points.
const undefinedValue = 9.999e20

const matchExpr = `:(UGRD|VGRD|HGT):[0-9.]+ mb:`

// inventory line, e.g.
// 12:3456:d=2024050112:UGRD:850 mb:anl::lon=255.000000,lat=39.750000,val=4.21
var inventoryRE = regexp.MustCompile(`:(UGRD|VGRD|HGT):([0-9.]+) mb:.*lon=([-+0-9.eE]+),lat=([-+0-9.eE]+),val=([-+0-9.eE]+|nan)`)

// LambertConformal describes a grid whose u/v are grid-relative and must be
// rotated to earth-relative.
type LambertConformal struct {
	LoVDeg   float64 // orientation longitude
	LatinDeg float64 // tangent latitude
}

// DefaultRotations covers the Lambert grids in the default catalog.
var DefaultRotations = map[weather.ModelID]LambertConformal{
	weather.ModelHRRR: {LoVDeg: -97.5, LatinDeg: 38.5},
	weather.ModelRAP:  {LoVDeg: -95.0, LatinDeg: 25.0},
}

// Rotate converts grid-relative u/v at lonDeg to earth-relative.
func (l LambertConformal) Rotate(u, v, lonDeg float64) (float64, float64) {
	dLon := math.Mod(lonDeg-l.LoVDeg+540, 360) - 180
	angle := math.Sin(l.LatinDeg*math.Pi/180) * dLon * math.Pi / 180
	sin, cos := math.Sincos(angle)
	return cos*u + sin*v, -sin*u + cos*v
}

// CommandRunner runs an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Wgrib2Decoder implements weather.Decoder by shelling out to wgrib2.
type Wgrib2Decoder struct {
	binary    string
	run       CommandRunner
	rotations map[weather.ModelID]LambertConformal
}

// NewWgrib2Decoder creates a decoder using the wgrib2 binary at path.
func NewWgrib2Decoder(binary string) *Wgrib2Decoder {
	if binary == "" {
		binary = "wgrib2"
	}
	return &Wgrib2Decoder{binary: binary, run: execRunner, rotations: DefaultRotations}
}

// WithRunner replaces the command runner (used by tests).
func (d *Wgrib2Decoder) WithRunner(run CommandRunner) *Wgrib2Decoder {
	d.run = run
	return d
}

// Decode extracts u, v and geopotential height on every pressure level at
// the grid point nearest loc.
func (d *Wgrib2Decoder) Decode(ctx context.Context, path string, loc weather.Location) (weather.DecodeResult, error) {
	lon360 := loc.Lon
	if lon360 < 0 {
		lon360 += 360
	}
	out, err := d.run(ctx, d.binary, path,
		"-s",
		"-match", matchExpr,
		"-lon", strconv.FormatFloat(lon360, 'f', 4, 64), strconv.FormatFloat(loc.Lat, 'f', 4, 64),
	)
	if err != nil {
		return weather.DecodeResult{}, fmt.Errorf("%w: %v", weather.ErrDecodeFailed, err)
	}

	res, err := ParseInventory(bytes.NewReader(out))
	if err != nil {
		return weather.DecodeResult{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	if key, ok := weather.ParseFileName(filepath.Base(path)); ok {
		if rot, ok := d.rotations[key.Model]; ok {
			for i, l := range res.Levels {
				res.Levels[i].UMS, res.Levels[i].VMS = rot.Rotate(l.UMS, l.VMS, res.GridLon)
			}
		}
	}
	return res, nil
}

func undefined(v float64) bool {
	return math.IsNaN(v) || math.Abs(v) >= undefinedValue
}

// ParseInventory reads wgrib2 "-s -lon" output. Levels missing either wind
// component are dropped; they are returned highest pressure first.
func ParseInventory(r io.Reader) (weather.DecodeResult, error) {
	type partial struct {
		u, v, h *float64
	}
	levels := make(map[float64]*partial)
	var res weather.DecodeResult
	gridSet := false

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m := inventoryRE.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		pressure, err1 := strconv.ParseFloat(m[2], 64)
		lon, err2 := strconv.ParseFloat(m[3], 64)
		lat, err3 := strconv.ParseFloat(m[4], 64)
		val, err4 := strconv.ParseFloat(m[5], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		if !gridSet {
			if lon > 180 {
				lon -= 360
			}
			res.GridLat, res.GridLon = lat, lon
			gridSet = true
		}
		if undefined(val) {
			continue
		}

		p, ok := levels[pressure]
		if !ok {
			p = &partial{}
			levels[pressure] = p
		}
		v := val
		switch m[1] {
		case "UGRD":
			p.u = &v
		case "VGRD":
			p.v = &v
		case "HGT":
			p.h = &v
		}
	}
	if err := sc.Err(); err != nil {
		return weather.DecodeResult{}, fmt.Errorf("%w: %v", weather.ErrDecodeFailed, err)
	}

	for pressure, p := range levels {
		if p.u == nil || p.v == nil {
			continue
		}
		res.Levels = append(res.Levels, weather.LevelSample{
			PressureHpa:         pressure,
			UMS:                 *p.u,
			VMS:                 *p.v,
			GeopotentialHeightM: p.h,
		})
	}
	if len(res.Levels) == 0 {
		return weather.DecodeResult{}, fmt.Errorf("%w: no pressure-level winds in inventory", weather.ErrDecodeFailed)
	}
	sort.Slice(res.Levels, func(i, j int) bool { return res.Levels[i].PressureHpa > res.Levels[j].PressureHpa })
	return res, nil
}

var _ weather.Decoder = (*Wgrib2Decoder)(nil)
