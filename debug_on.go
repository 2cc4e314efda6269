//go:build mapresdebug

package mapres

// debugAssertions makes invariant violations panic.
const debugAssertions = true
