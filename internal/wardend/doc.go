// Package wardend assembles the reservation engine, its sweeper, and the HTTP
// surface into one standalone process.
package wardend
