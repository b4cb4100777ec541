// Package testutil contains helper builders, scripted fakes and shared
// contract tests used across packages to reduce boilerplate when constructing
// requests and bundles or simulating unreliable providers and evaluators.
// They are not intended for production usage.
package testutil
