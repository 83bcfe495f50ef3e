package objectstore

import "testing"

// Put/PresignGet both require a live or mocked S3 endpoint to exercise end
// to end; no test in the module does that, and this file only checks that
// the package compiles.
func TestPackageCompiles(t *testing.T) {}
