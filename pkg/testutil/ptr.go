package testutil

import "time"

// StrPtr returns a pointer to s
func StrPtr(s string) *string { return &s }

// Uint16Ptr returns a pointer to n
func Uint16Ptr(n uint16) *uint16 { return &n }

// Uint32Ptr returns a pointer to n
func Uint32Ptr(n uint32) *uint32 { return &n }

// Uint64Ptr returns a pointer to n
func Uint64Ptr(n uint64) *uint64 { return &n }

// Int64Ptr returns a pointer to n
func Int64Ptr(n int64) *int64 { return &n }

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time { return &t }
