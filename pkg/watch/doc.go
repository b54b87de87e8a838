// Package watch classifies JES2 console lines into job lifecycle events.
package watch
