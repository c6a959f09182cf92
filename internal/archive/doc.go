// Package archive stores the write-once record of each closed session.
// Records go to a JSON file per session, a SQLite or Postgres table, or a
// Redis key, depending on the configured driver.
package archive
