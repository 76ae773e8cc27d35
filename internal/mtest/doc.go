// Package mtest contains helpers shared across murmur tests.
package mtest
