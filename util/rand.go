// Package util contains small helpers shared across the application
package util

import gonanoid "github.com/matoous/go-nanoid/v2"

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func RandStr(n int) string {
	return gonanoid.MustGenerate(charset, n)
}
