// Package config loads the EventSync runtime configuration: a JSON file for
// endpoints, storage backends and worker sizing, and environment variables
// (optionally from a .env file) for vendor credentials.
package config
