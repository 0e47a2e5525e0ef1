// Command genincidents writes a synthetic incident CSV in the format the firerisk
// pipeline reads. Output is deterministic for a given seed.
//
// Usage:
//
//	go run ./cmd/genincidents --days 90 --out data/incidents.csv
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/couchcryptid/incident-risk/internal/adapter/csvfile"
	"github.com/couchcryptid/incident-risk/internal/domain"
	"github.com/couchcryptid/incident-risk/internal/synthetic"
)

type cli struct {
	Out              string    `help:"Output CSV path; '-' writes to stdout." default:"data/incidents.csv" short:"o"`
	Seed             uint64    `help:"Random seed." default:"1"`
	Start            time.Time `help:"First incident day (YYYY-MM-DD)." default:"2024-01-01" format:"2006-01-02"`
	Days             int       `help:"Number of days to generate." default:"30"`
	PerDay           float64   `help:"Mean incidents per day." default:"10" name:"per-day"`
	Hotspots         int       `help:"Number of high-risk hotspots." default:"4"`
	HotspotShare     float64   `help:"Fraction of incidents drawn near a hotspot." default:"0.6" name:"hotspot-share"`
	Spread           float64   `help:"Half-width of the sampled area in degrees." default:"0.03"`
	CenterLat        float64   `help:"Latitude of the area center." default:"31.22" name:"center-lat"`
	CenterLon        float64   `help:"Longitude of the area center." default:"121.54" name:"center-lon"`
	AddressOnlyShare float64   `help:"Fraction of rows written without coordinates." default:"0" name:"address-only-share"`
}

func (c *cli) Validate() error {
	if c.Days < 1 {
		return fmt.Errorf("--days must be positive, got %d", c.Days)
	}
	if c.PerDay <= 0 {
		return fmt.Errorf("--per-day must be positive, got %g", c.PerDay)
	}
	if c.HotspotShare < 0 || c.HotspotShare > 1 {
		return fmt.Errorf("--hotspot-share must be in [0, 1], got %g", c.HotspotShare)
	}
	if c.AddressOnlyShare < 0 || c.AddressOnlyShare > 1 {
		return fmt.Errorf("--address-only-share must be in [0, 1], got %g", c.AddressOnlyShare)
	}
	return nil
}

func (c *cli) Run() error {
	g := synthetic.Generator{
		Seed:             c.Seed,
		Start:            c.Start.UTC(),
		Days:             c.Days,
		CenterLat:        c.CenterLat,
		CenterLon:        c.CenterLon,
		Spread:           c.Spread,
		Hotspots:         c.Hotspots,
		PerDay:           c.PerDay,
		HotspotShare:     c.HotspotShare,
		AddressOnlyShare: c.AddressOnlyShare,
	}
	incidents := g.Generate()

	if c.Out == "-" {
		return write(os.Stdout, incidents)
	}
	f, err := os.Create(c.Out)
	if err != nil {
		return fmt.Errorf("create %s: %w", c.Out, err)
	}
	if err := write(f, incidents); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.Out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d incidents to %s\n", len(incidents), c.Out)
	return nil
}

func write(w io.Writer, incidents []domain.Incident) error {
	bw := bufio.NewWriter(w)
	if err := csvfile.EncodeIncidents(bw, incidents); err != nil {
		return err
	}
	return bw.Flush()
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("genincidents"),
		kong.Description("Generate a synthetic fire incident CSV."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(c.Run())
}
