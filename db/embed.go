// Package db embeds the fulfillment schema.
package db

import _ "embed"

// Schema contains the idempotent DDL for every table.
//
//go:embed migrations/001_schema.sql
var Schema string
