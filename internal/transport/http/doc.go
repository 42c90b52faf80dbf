// Package http provides the HTTP transport layer: chi handlers for the
// public key activation endpoints and the administrator key management API.
// Handlers bind and validate requests, delegate to the service layer, and map
// domain errors onto the standard response envelope.
package http
