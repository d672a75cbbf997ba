package core

import "github.com/petermattis/goid"

func currentGoroutineID() int64 {
	return goid.Get()
}
