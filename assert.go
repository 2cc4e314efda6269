package mapres

import "fmt"

// invariant logs a violated invariant and panics in mapresdebug builds.
// It returns cond so callers can branch on it.
func invariant(cond bool, msg string, args ...any) bool {
	if cond {
		return true
	}
	Logger().Error("mapres: invariant violated: "+msg, args...)
	if debugAssertions {
		panic(fmt.Sprint(append([]any{"mapres: invariant violated: ", msg, " "}, args...)...))
	}
	return false
}
