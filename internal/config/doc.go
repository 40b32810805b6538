// Package config owns the persisted JSON configuration document: the
// storage roots to scan plus database, scanning, virtual filesystem,
// monitoring and performance policy.
//
// Load never fails on a missing file; it synthesizes and persists
// defaults instead. It does fail loudly on malformed content
// (ErrInvalidFormat), since silently replacing a corrupt file would
// destroy user-configured roots. Validation is a pure function over the
// document returning errors and warnings as data.
package config
