package web

import (
	"os"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// defaultAddress is used when GOTASKS_ADDRESS is not set.
const defaultAddress = ":8000"

// NewServer creates and configures the RWeb server
func NewServer() *rweb.Server {
	address := os.Getenv("GOTASKS_ADDRESS")
	if address == "" {
		address = defaultAddress
	}

	// Create server instance with options
	s := rweb.NewServer(rweb.ServerOptions{
		Address: address,
		Verbose: true,
	})

	// Apply middleware
	s.Use(rweb.RequestInfo)          // Logs request info
	s.Use(CorsMiddleware)            // CORS for the UI shell's origin
	s.Use(SecurityHeadersMiddleware) // Security headers
	s.Use(RateLimitMiddleware(600))  // Per-client request ceiling
	s.Use(LoggingMiddleware)         // Request logging

	// Setup routes
	setupRoutes(s)

	logger.Info("GoTasks API server configured", "address", address)
	return s
}

// Run starts the server
func Run(s *rweb.Server) error {
	return s.Run()
}
