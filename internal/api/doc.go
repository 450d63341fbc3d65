// Package api serves the Proximity REST API under /api/v1. Every API route
// requires an "Authorization: Bearer <key>" header; host, settings and API
// key management additionally require an admin key.
package api
