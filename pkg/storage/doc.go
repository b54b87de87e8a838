// Package storage keeps the catalog of extracted job-log records in Pebble.
package storage
