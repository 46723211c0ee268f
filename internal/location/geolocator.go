package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onehubexpress/search/internal/models"
)

// StaticGeolocator always reports the same position.
type StaticGeolocator struct {
	Coordinates models.Coordinates
}

func (s StaticGeolocator) Locate(context.Context) (models.Coordinates, error) {
	return s.Coordinates, nil
}

const DefaultIPEndpoint = "https://ipapi.co/json/"

// IPGeolocator resolves an approximate position from the caller's public IP.
type IPGeolocator struct {
	Endpoint string
	Client   *http.Client
}

func NewIPGeolocator(endpoint string) *IPGeolocator {
	if endpoint == "" {
		endpoint = DefaultIPEndpoint
	}
	return &IPGeolocator{Endpoint: endpoint, Client: &http.Client{}}
}

type ipLookup struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Error     bool     `json:"error"`
	Reason    string   `json:"reason"`
}

func (g *IPGeolocator) Locate(ctx context.Context) (models.Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Endpoint, nil)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("building ip lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := g.Client.Do(req)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("ip lookup: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return models.Coordinates{}, fmt.Errorf("ip lookup returned status %d", res.StatusCode)
	}

	var body ipLookup
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return models.Coordinates{}, fmt.Errorf("decoding ip lookup: %w", err)
	}
	if body.Error {
		return models.Coordinates{}, fmt.Errorf("ip lookup failed: %s", body.Reason)
	}

	lat, lng := body.Latitude, body.Longitude
	if lat == nil || lng == nil {
		lat, lng = body.Lat, body.Lon
	}
	if lat == nil || lng == nil {
		return models.Coordinates{}, fmt.Errorf("ip lookup returned no position")
	}
	return models.Coordinates{Latitude: *lat, Longitude: *lng}, nil
}
