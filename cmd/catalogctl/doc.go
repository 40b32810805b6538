// Command catalogctl is the catalog administration tool. It validates
// configuration files and inspects a catalog database directly:
// metadata statistics, scan history, and duplicate groups.
//
// It operates on the same database file as the main daemon and is safe
// to run while the daemon is up (the database uses WAL mode).
package main
