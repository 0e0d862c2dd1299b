package config

import "time"

// GatewayConfig holds runtime configuration for the asset gateway.
type GatewayConfig struct {
	Environment     string
	Addr            string
	CDNBaseURL      string
	UpstreamTimeout time.Duration
	AssetMaxAge     time.Duration
	RouteMaxAge     time.Duration
}

// LoadGatewayConfig constructs a GatewayConfig from environment variables.
func LoadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("GATEWAY_ADDR", ":3002"),
		CDNBaseURL:      GetString("CLOUDFRONT_URL", ""),
		UpstreamTimeout: GetSeconds("UPSTREAM_TIMEOUT_SECONDS", 30*time.Second),
		AssetMaxAge:     GetSeconds("ASSET_CACHE_SECONDS", 365*24*time.Hour),
		RouteMaxAge:     GetSeconds("ROUTE_CACHE_SECONDS", time.Hour),
	}
}
