// Package logging provides leveled logging for the media catalog.
//
// The log level is taken from the LOG_LEVEL environment variable
// (debug, info, warn, error) or forced to debug with DEBUG=1, and can
// be overridden at runtime from the loaded configuration.
package logging
