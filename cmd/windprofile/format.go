package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
)

var (
	labelColor  = color.New(color.FgCyan)
	headerColor = color.New(color.FgBlue, color.Bold)

	// speed bands in knots
	calmColor   = color.New(color.FgGreen)
	breezeColor = color.New(color.FgYellow)
	strongColor = color.New(color.FgRed)
	jetColor    = color.New(color.FgMagenta, color.Bold)
)

func speedColor(kts float64) *color.Color {
	switch {
	case kts < 15:
		return calmColor
	case kts < 30:
		return breezeColor
	case kts < 60:
		return strongColor
	default:
		return jetColor
	}
}

// compass maps a direction to one of 16 points.
func compass(deg float64) string {
	points := [...]string{"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE", "S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW"}
	i := int((deg+11.25)/22.5) % len(points)
	return points[i]
}

func printHeader(w io.Writer, run weather.RunKey, modelName string, valid time.Time, gridLat, gridLon float64, fromCache bool, now time.Time) {
	source := "downloaded"
	if fromCache {
		source = "cached"
	}
	labelColor.Fprint(w, "Model:      ")
	fmt.Fprintf(w, "%s (%s)\n", modelName, run)
	labelColor.Fprint(w, "Valid:      ")
	fmt.Fprintf(w, "%s (%s)\n", valid.Format("2006-01-02 15:04Z"), humanize.RelTime(valid, now, "ago", "from now"))
	labelColor.Fprint(w, "Grid point: ")
	fmt.Fprintf(w, "%.4f, %.4f\n", gridLat, gridLon)
	labelColor.Fprint(w, "Source:     ")
	fmt.Fprintln(w, source)
}

func printProfile(w io.Writer, res weather.ProfileResult, now time.Time) {
	printHeader(w, res.Run, res.ModelName, res.ValidTime, res.GridLat, res.GridLon, res.FromCache, now)
	labelColor.Fprint(w, "Reference:  ")
	if res.Profile.Reference == weather.ReferenceAGL {
		fmt.Fprintf(w, "AGL (ground %s ft)\n", humanize.Commaf(res.Profile.GroundElevationFt))
	} else {
		fmt.Fprintln(w, "MSL")
	}
	fmt.Fprintln(w)

	headerColor.Fprintf(w, "%10s  %8s  %9s\n", "ALT (ft)", "SPD (kt)", "DIR")
	for i := len(res.Profile.Samples) - 1; i >= 0; i-- {
		s := res.Profile.Samples[i]
		fmt.Fprintf(w, "%10s  ", humanize.Comma(int64(s.AltitudeFt)))
		speedColor(s.SpeedKts).Fprintf(w, "%8.0f", s.SpeedKts)
		fmt.Fprintf(w, "  %3.0f° %-3s\n", s.DirectionDeg, compass(s.DirectionDeg))
	}

	sum := res.Summary
	fmt.Fprintln(w)
	labelColor.Fprint(w, "Max wind:   ")
	fmt.Fprintf(w, "%.0f kt at %s ft\n", sum.MaxSpeedKts, humanize.Comma(int64(sum.MaxSpeedAltitudeFt)))
	labelColor.Fprint(w, "Mean wind:  ")
	fmt.Fprintf(w, "%.0f kt\n", sum.MeanSpeedKts)
	if top := res.Profile.ObservedTopFt; top < float64(res.Profile.CeilingFt) {
		labelColor.Fprint(w, "Note:       ")
		fmt.Fprintf(w, "model data ends near %s ft; higher rows repeat the top level\n", humanize.Comma(int64(top)))
	}
}

func printLevels(w io.Writer, res weather.LevelsResult, now time.Time) {
	printHeader(w, res.Run, res.ModelName, res.ValidTime, res.GridLat, res.GridLon, res.FromCache, now)
	fmt.Fprintln(w)

	headerColor.Fprintf(w, "%8s  %9s  %9s  %7s  %7s  %8s  %5s\n", "P (hPa)", "ISA (ft)", "HGT (ft)", "U (m/s)", "V (m/s)", "SPD (kt)", "DIR")
	for _, r := range res.Rows {
		hgt := "-"
		if r.HeightFt != nil {
			hgt = humanize.Comma(int64(*r.HeightFt))
		}
		fmt.Fprintf(w, "%8.0f  %9s  %9s  %7.1f  %7.1f  ", r.PressureHpa, humanize.Comma(int64(r.ISAAltitudeFt)), hgt, r.UMS, r.VMS)
		speedColor(r.SpeedKts).Fprintf(w, "%8.0f", r.SpeedKts)
		fmt.Fprintf(w, "  %3.0f°\n", r.DirectionDeg)
	}

	sum := res.Summary
	fmt.Fprintln(w)
	labelColor.Fprint(w, "Levels:     ")
	fmt.Fprintf(w, "%d (%s to %s ft)\n", sum.Count, humanize.Comma(int64(sum.LowestAltitudeFt)), humanize.Comma(int64(sum.HighestAltitudeFt)))
	labelColor.Fprint(w, "Speed:      ")
	fmt.Fprintf(w, "min %.0f / mean %.0f / max %.0f kt\n", sum.MinSpeedKts, sum.MeanSpeedKts, sum.MaxSpeedKts)
}

func printEntries(w io.Writer, entries []weather.CacheEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "cache is empty")
		return
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
		mark := ""
		if e.Superseded {
			mark = " (superseded)"
		}
		fmt.Fprintf(w, "%-26s %10s  %s%s\n", e.Key, humanize.Bytes(uint64(e.SizeBytes)), humanize.RelTime(e.FetchedAt, now, "ago", "from now"), mark)
	}
	fmt.Fprintf(w, "%d files, %s\n", len(entries), humanize.Bytes(uint64(total)))
}

func fmtFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func writeProfileCSV(w io.Writer, res weather.ProfileResult) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"altitude_ft", "speed_kts", "direction_deg"})
	for _, s := range res.Profile.Samples {
		cw.Write([]string{fmtFloat(s.AltitudeFt, 0), fmtFloat(s.SpeedKts, 1), fmtFloat(s.DirectionDeg, 0)})
	}
	cw.Flush()
	return cw.Error()
}

func writeLevelsCSV(w io.Writer, res weather.LevelsResult) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"pressure_hpa", "isa_altitude_ft", "height_ft", "u_ms", "v_ms", "speed_ms", "speed_kts", "direction_deg"})
	for _, r := range res.Rows {
		hgt := ""
		if r.HeightFt != nil {
			hgt = fmtFloat(*r.HeightFt, 0)
		}
		cw.Write([]string{
			fmtFloat(r.PressureHpa, 0),
			fmtFloat(r.ISAAltitudeFt, 0),
			hgt,
			fmtFloat(r.UMS, 2),
			fmtFloat(r.VMS, 2),
			fmtFloat(r.SpeedMS, 2),
			fmtFloat(r.SpeedKts, 1),
			fmtFloat(r.DirectionDeg, 0),
		})
	}
	cw.Flush()
	return cw.Error()
}
