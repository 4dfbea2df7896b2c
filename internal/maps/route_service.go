package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client   *maps.Client
	region   string
	language string
}

// NewRouteService creates a new RouteService with the given API key.
// Region and language are optional result biases (ccTLD / BCP 47);
// empty values leave the API defaults in place.
func NewRouteService(apiKey, region, language string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, region: region, language: language}, nil
}

func (s *RouteService) directionsRequest(origin, destination string) *maps.DirectionsRequest {
	return &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
		Language:    s.language,
		Region:      s.region,
	}
}

// EstimateSeconds returns the driving duration in seconds from origin to
// destination. Used to enrich ride-ready notifications; callers treat a
// failure as "no estimate", never as a dispatch blocker.
func (s *RouteService) EstimateSeconds(ctx context.Context, origin, destination string) (int, error) {
	routes, _, err := s.client.Directions(ctx, s.directionsRequest(origin, destination))
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, fmt.Errorf("no route found")
	}

	return int(routes[0].Legs[0].Duration.Seconds()), nil
}
