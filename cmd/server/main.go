package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpup/convoy-nav/server/internal/api"
	"github.com/dpup/convoy-nav/server/internal/app"
	"github.com/dpup/convoy-nav/server/internal/config"
	"github.com/dpup/convoy-nav/server/internal/services"
)

func main() {
	configPath := flag.String("config", envOr("NAV_CONFIG", "config.yaml"), "Path to YAML config file")
	flag.Parse()

	// Local development keeps secrets in .env
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	appConfig, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(logging.EnsureLogger(context.Background()))
	defer cancel()

	backends, err := app.Build(ctx, appConfig)
	if err != nil {
		log.Fatalf("Failed to initialize backends: %v", err)
	}
	defer backends.Close()

	prometheus.MustRegister(services.NewCacheCollector(backends.Cache))
	if appConfig.RouteCacheTTL > 0 {
		backends.Cache.StartPeriodicCleanup(ctx, appConfig.RouteCacheTTL)
	}

	registry := services.NewRegistry()
	if appConfig.Server.SessionIdleTimeout > 0 {
		registry.StartSweeper(ctx, appConfig.Server.SessionSweepInterval, appConfig.Server.SessionIdleTimeout)
	}
	defer registry.StopAll()

	auth := api.NewAuthenticator(appConfig.Server.JWTSecret)
	if auth == nil {
		log.Printf("Authentication disabled: server.jwt_secret is empty")
	}
	apiServer := api.NewServer(registry, backends.Factory(appConfig), auth).
		WithAllowedOrigins(appConfig.Server.AllowedOrigins)

	log.Printf("Convoy navigation server starting")
	log.Printf("Directions providers: %v", appConfig.Directions.Providers)
	log.Printf("Telemetry sinks: %v", appConfig.Telemetry.Sinks)

	// Prefab owns the listener; mirror our port into its config
	if err := prefab.Config.Set("server.port", appConfig.Server.Port); err != nil {
		log.Fatalf("Failed to set server port: %v", err)
	}

	server := prefab.New(
		prefab.WithHTTPHandlerFunc("/nav/", apiServer.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/metrics", promhttp.Handler().ServeHTTP),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>convoy-nav</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        .header { color: #ff0; }
        pre { margin: 0; }
    </style>
</head>
<body>
<pre>
<span class="header">convoy-nav</span>

Turn-by-turn guidance for convoy drivers. Devices stream GPS fixes and
receive instructions, reroutes and camera updates.

<span class="header">Sessions API:</span>
  POST   /nav/v1/sessions                    - Start guidance (origin, destination)
  GET    /nav/v1/sessions/{id}               - Current guidance snapshot
  DELETE /nav/v1/sessions/{id}               - Stop guidance
  POST   /nav/v1/sessions/{id}/positions     - Push GPS fixes
  POST   /nav/v1/sessions/{id}/follow        - Toggle camera follow mode
  POST   /nav/v1/sessions/{id}/recenter      - Recenter the camera
  GET    /nav/v1/sessions/{id}/route.kml     - Active route as KML
  GET    /nav/v1/sessions/{id}/stream        - WebSocket event stream

<span class="header">Operations:</span>
  GET    /metrics                            - Prometheus metrics

<span class="header">Routing Providers:</span>
  • Google Directions API
  • OSRM
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
