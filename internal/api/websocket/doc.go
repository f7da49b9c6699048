// Package websocket streams bus events to browser and script clients.
//
// GET /events upgrades the connection and writes one protojson text message
// per event. Repeat the kind query parameter (or separate names with commas)
// to filter; no kind means every kind.
package websocket
