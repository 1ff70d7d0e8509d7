// Package server provides daemon setup and initialization for trayfold.
//
// This package orchestrates all components:
//   - Session bus connection shared by the panel, tray and portal bindings
//   - Engine construction and startup (slots, caches, safety monitor)
//   - HTTP routing with the Gin framework
//   - Middleware stack (recovery, tracing, metrics, CORS, rate limiting)
//   - WebSocket event stream
//
// Server Lifecycle:
//  1. Load configuration from environment and optional YAML overlay
//  2. Initialize logger (production or development)
//  3. Connect to the session bus; bind panel, tray and portal surfaces
//  4. Start the engine: register slots, prewarm caches if trusted
//  5. Setup HTTP routes and middleware
//  6. Serve the control API
//  7. Graceful shutdown on signal: engine first, then bus connections
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
