package go_func_utils

import (
	"log"
	"runtime/debug"
	"sync"
)

// SafeGo runs fn on its own goroutine. A panic is written to logger with its
// stack before being re-raised: the terminal UI owns stdout, so the log file
// is the only place the trace survives.
func SafeGo(logger *log.Logger, name string, fn func()) {
	go func() {
		defer recoverAndLog(logger, name)
		fn()
	}()
}

// Group is a set of SafeGo goroutines that can be waited on
type Group struct {
	wg     sync.WaitGroup
	logger *log.Logger
}

func NewGroup(logger *log.Logger) *Group {
	return &Group{logger: logger}
}

func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer recoverAndLog(g.logger, name)
		fn()
	}()
}

func (g *Group) Wait() {
	g.wg.Wait()
}

func recoverAndLog(logger *log.Logger, name string) {
	if r := recover(); r != nil {
		logger.Printf("PANIC in %s: %v\n%s", name, r, debug.Stack())
		panic(r)
	}
}
