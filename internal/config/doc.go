// Package config provides centralized configuration for divorcecast.
//
// # Configuration Sources
//
// Values are layered, later sources winning:
//
//	1. Default() values
//	2. A YAML file (DIVORCECAST_CONFIG, or config.yaml / configs/config.yaml)
//	3. Environment variables
//
// # Environment Variables
//
// Variables are namespaced with DIVORCECAST_ and follow the struct nesting:
//
//	DIVORCECAST_SERVER_PORT=8080
//	DIVORCECAST_PATHS_DATA_DIR=/srv/divorcecast/data
//	DIVORCECAST_FORECAST_CHANGEPOINT_PRIOR_SCALE=0.5
//	DIVORCECAST_CACHE_BACKEND=redis
//	DIVORCECAST_CACHE_REDIS_ADDR=redis:6379
//
// # Path Management
//
// Paths resolves the data, output and log directories against
// Paths.BaseDir, or the executable directory when no base is configured:
//
//	paths, err := cfg.GetPaths()
//	model := paths.DataFile(cfg.Data.ModelSeries)
package config
