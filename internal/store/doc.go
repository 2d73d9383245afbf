// Package store defines the disk-backed writer used for files the server
// generates at runtime under the site root: compiled theme stylesheets and
// language files grown by translation add mode. Writes go through a temp file
// + rename so static stages never serve a partially written asset, and entry
// info (size, modtime) lets the stylesheet stage decide when to recompile.
package store
