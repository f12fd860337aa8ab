// Package config loads typed configuration structs from environment
// variables, with optional .env file support for local development.
//
// Components declare their settings as structs with `env` tags and call
// Load; parsed values are cached per type so configuration is consistent
// across the process.
package config
