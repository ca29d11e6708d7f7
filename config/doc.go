// Package config loads deployment tuning from JSON.
package config
