// Package mysql persists the spend journal in MySQL. It owns the connection
// pool settings and applies the embedded schema migrations on startup.
package mysql
