//go:build !mapresdebug

package mapres

// debugAssertions makes invariant violations panic. Enable with the
// mapresdebug build tag.
const debugAssertions = false
