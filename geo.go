package rvg

import (
	"fmt"

	"github.com/paulmach/orb"
)

// GeoCoord is a single position. Provider payloads call longitude "x" and latitude "y".
type GeoCoord struct {
	Lat float64 `yaml:"y"`
	Lng float64 `yaml:"x"`
}

func (c GeoCoord) Zero() bool {
	return c.Lat == 0.0 && c.Lng == 0.0
}

func (c GeoCoord) String() string {
	return fmt.Sprintf("%f,%f", c.Lat, c.Lng)
}

func (c GeoCoord) point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

func coordFromPoint(p orb.Point) GeoCoord {
	return GeoCoord{Lat: p.Lat(), Lng: p.Lon()}
}

// GeoRectangle is the search region. The two corners are whatever the operator
// typed in and are not guaranteed to be ordered; always go through Bound.
type GeoRectangle struct {
	Top    GeoCoord `yaml:"top"`
	Bottom GeoCoord `yaml:"bottom"`
}

// Bound returns the rectangle with min/max normalized per axis.
func (r GeoRectangle) Bound() orb.Bound {
	return orb.MultiPoint{r.Top.point(), r.Bottom.point()}.Bound()
}

func (r GeoRectangle) Min() GeoCoord {
	return coordFromPoint(r.Bound().Min)
}

func (r GeoRectangle) Max() GeoCoord {
	return coordFromPoint(r.Bound().Max)
}

func (r GeoRectangle) Center() GeoCoord {
	return coordFromPoint(r.Bound().Center())
}

// TopLeft is the north-west corner (min longitude, max latitude).
func (r GeoRectangle) TopLeft() GeoCoord {
	b := r.Bound()
	return GeoCoord{Lat: b.Top(), Lng: b.Left()}
}

// BottomRight is the south-east corner (max longitude, min latitude).
func (r GeoRectangle) BottomRight() GeoCoord {
	b := r.Bound()
	return GeoCoord{Lat: b.Bottom(), Lng: b.Right()}
}

func (r GeoRectangle) Validate() error {
	if r.Top.Zero() || r.Bottom.Zero() {
		return fmt.Errorf("Region corners must both be set, got top=%v bottom=%v", r.Top, r.Bottom)
	}
	if b := r.Bound(); b.Min.Equal(b.Max) {
		return fmt.Errorf("Region is a single point: %v", r.Top)
	}
	return nil
}

func (r GeoRectangle) String() string {
	return fmt.Sprintf("[%v - %v]", r.Min(), r.Max())
}
