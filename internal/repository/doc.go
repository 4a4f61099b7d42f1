// Package repository holds the PostgreSQL implementations of the subscription
// store and the task queue storage. The schema lives in internal/db/migrations.
package repository
